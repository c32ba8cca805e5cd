// Package chunker splits document text into overlapping fixed-size windows.
package chunker

// Piece is one window of a chunked document. Start and End are rune
// offsets into the original text, with End exclusive.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Chunk splits text into windows of size runes, each starting
// size-overlap runes after the previous window's start. The final window
// is truncated at the end of input. Text shorter than size yields exactly
// one piece. Callers are responsible for discarding pieces that are too
// short to be useful; Chunk itself never drops input.
//
// Chunk panics if size <= 0 or overlap is negative or >= size, since
// those arguments can only come from misconfiguration.
func Chunk(text string, size, overlap int) []Piece {
	if size <= 0 {
		panic("chunker: size must be positive")
	}
	if overlap < 0 || overlap >= size {
		panic("chunker: overlap must be in [0, size)")
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		pieces = append(pieces, Piece{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		if end >= len(runes) {
			break
		}

		// Next window begins overlap runes before this one ended.
		if end > overlap {
			start = end - overlap
		} else {
			start = end
		}
	}

	return pieces
}

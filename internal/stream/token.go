// Package stream tracks active client streams and their cooperative
// cancellation state.
package stream

import "sync/atomic"

// Token is a shared cancellation flag. Clones observe the same underlying
// flag, so cancelling any copy cancels them all. Cancellation is monotonic;
// a set flag is never unset.
type Token struct {
	cancelled *atomic.Bool
}

// NewToken creates an uncancelled token.
func NewToken() Token {
	return Token{cancelled: &atomic.Bool{}}
}

// Cancel sets the flag. Idempotent.
func (t Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether the flag has been set.
func (t Token) Cancelled() bool {
	return t.cancelled.Load()
}

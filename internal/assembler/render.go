package assembler

import (
	"fmt"
	"strings"
)

// Render formats the working context for inclusion in the model's system
// instructions. Each document gets a header with its filename, line count,
// priority and matched-chunk similarities, followed by its content.
func (wc *WorkingContext) Render() string {
	if len(wc.Documents) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Relevant project documents\n")
	for _, dc := range wc.Documents {
		sims := make([]string, len(dc.RelevantChunks))
		for i, m := range dc.RelevantChunks {
			sims[i] = fmt.Sprintf("%.2f", m.Similarity)
		}
		fmt.Fprintf(&b, "\n## %s (%d lines, priority %.2f, matches: %s)\n\n",
			dc.Filename, dc.TotalLines, dc.PriorityScore, strings.Join(sims, ", "))
		b.WriteString(dc.Content)
		b.WriteString("\n")
	}
	if wc.Summary != "" {
		fmt.Fprintf(&b, "\nNote: %s.\n", wc.Summary)
	}
	return b.String()
}

// Citations lists the documents backing the working context, one entry per
// document in inclusion order.
func (wc *WorkingContext) Citations() []Citation {
	citations := make([]Citation, 0, len(wc.Documents))
	for _, dc := range wc.Documents {
		var best float32
		for _, m := range dc.RelevantChunks {
			if m.Similarity > best {
				best = m.Similarity
			}
		}
		citations = append(citations, Citation{
			DocumentID: dc.DocumentID,
			Filename:   dc.Filename,
			Similarity: best,
		})
	}
	return citations
}

// Citation points a streamed response back at a source document.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Similarity float32 `json:"similarity"`
}

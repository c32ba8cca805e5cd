// Package assembler packs the most relevant document material for a query
// into a bounded working context.
//
// For each document with matching chunks it includes either the full text
// (small files) or merged, padded line excerpts around the matches (large
// files), scores documents by relevance and match density, and greedily
// fills a token budget in priority order.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/index"
)

var tracer = otel.Tracer("draftd.assembler")

// DocumentFetcher loads documents referenced by search matches.
type DocumentFetcher interface {
	Document(ctx context.Context, id string) (*index.Document, error)
}

// DocumentContext is one document's contribution to a working context.
// Ephemeral, lives for a single query's response assembly.
type DocumentContext struct {
	DocumentID     string
	Filename       string
	Content        string
	RelevantChunks []index.ChunkMatch
	TotalLines     int
	PriorityScore  float32
}

// WorkingContext is the assembled, budget-bounded context for one query.
type WorkingContext struct {
	Documents []DocumentContext

	// TotalTokens is the coarse token estimate of all included content.
	// It exceeds the budget only when even the smallest possible inclusion
	// already does.
	TotalTokens int

	// Summary notes what the budget forced out, empty when every matched
	// document made it in whole.
	Summary string
}

// Assembler builds working contexts from search matches.
type Assembler struct {
	fetcher DocumentFetcher
	cfg     config.ContextConfig
	logger  *zap.Logger
}

// New creates an assembler.
func New(fetcher DocumentFetcher, cfg config.ContextConfig, logger *zap.Logger) *Assembler {
	return &Assembler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.Named("assembler"),
	}
}

// estimateTokens approximates token count at four characters per token.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Assemble groups matches by document, builds each document's context and
// trims the set to the token budget. A document that fails to load is
// skipped, not fatal.
func (a *Assembler) Assemble(ctx context.Context, matches []index.ChunkMatch) (*WorkingContext, error) {
	ctx, span := tracer.Start(ctx, "assembler.Assemble")
	defer span.End()
	span.SetAttributes(attribute.Int("assembler.matches", len(matches)))

	grouped := groupByDocument(matches)

	candidates := make([]DocumentContext, 0, len(grouped))
	for _, group := range grouped {
		dc, err := a.buildDocumentContext(ctx, group)
		if err != nil {
			a.logger.Warn("skipping document",
				zap.String("document_id", group[0].DocumentID),
				zap.Error(err))
			continue
		}
		candidates = append(candidates, *dc)
	}

	wc := a.fitToBudget(candidates)

	span.SetAttributes(
		attribute.Int("assembler.documents", len(wc.Documents)),
		attribute.Int("assembler.total_tokens", wc.TotalTokens),
	)
	if wc.TotalTokens > a.cfg.TokenBudget {
		a.logger.Warn("working context exceeds budget with minimal inclusion",
			zap.Int("total_tokens", wc.TotalTokens),
			zap.Int("budget", a.cfg.TokenBudget))
	}

	return wc, nil
}

// groupByDocument buckets matches per document, preserving the similarity
// order within each bucket and the order of first appearance across buckets.
func groupByDocument(matches []index.ChunkMatch) [][]index.ChunkMatch {
	byDoc := make(map[string]int)
	var groups [][]index.ChunkMatch
	for _, m := range matches {
		i, ok := byDoc[m.DocumentID]
		if !ok {
			i = len(groups)
			byDoc[m.DocumentID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func (a *Assembler) buildDocumentContext(ctx context.Context, group []index.ChunkMatch) (*DocumentContext, error) {
	doc, err := a.fetcher.Document(ctx, group[0].DocumentID)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}

	lines := strings.Split(doc.Content, "\n")

	dc := &DocumentContext{
		DocumentID:     doc.ID,
		Filename:       doc.Filename,
		RelevantChunks: group,
		TotalLines:     len(lines),
		PriorityScore:  priorityScore(group, len(lines)),
	}

	if len(lines) <= a.cfg.SmallFileLines {
		// Full-document context outperforms fragments for short files.
		dc.Content = doc.Content
		return dc, nil
	}

	ranges := make([]lineRange, 0, len(group))
	starts := lineStarts(doc.Content)
	for _, m := range group {
		r := rangeForChunk(starts, len(lines), m.StartChar, m.EndChar)
		r.from = max(0, r.from-a.cfg.PadLines)
		r.to = min(len(lines)-1, r.to+a.cfg.PadLines)
		ranges = append(ranges, r)
	}
	ranges = mergeRanges(ranges, a.cfg.MergeSlackLines)

	dc.Content = renderExcerpts(doc.Filename, lines, ranges)
	return dc, nil
}

// priorityScore rewards strong semantic relevance and dense, concentrated
// matches over sparse ones.
func priorityScore(group []index.ChunkMatch, totalLines int) float32 {
	if len(group) == 0 || totalLines == 0 {
		return 0
	}
	var sum float32
	for _, m := range group {
		sum += m.Similarity
	}
	mean := sum / float32(len(group))
	density := float32(len(group)) / float32(totalLines)
	return 0.7*mean + 0.3*density
}

// lineRange is an inclusive range of zero-based line numbers.
type lineRange struct {
	from, to int
}

// lineStarts returns the rune offset of each line's first rune.
func lineStarts(content string) []int {
	starts := []int{0}
	off := 0
	for _, r := range content {
		off++
		if r == '\n' {
			starts = append(starts, off)
		}
	}
	return starts
}

// rangeForChunk maps rune offsets to the lines they touch.
func rangeForChunk(starts []int, totalLines, startChar, endChar int) lineRange {
	from := sort.Search(len(starts), func(i int) bool { return starts[i] > startChar }) - 1
	// endChar is exclusive; the last rune of the chunk sits at endChar-1.
	last := endChar - 1
	if last < startChar {
		last = startChar
	}
	to := sort.Search(len(starts), func(i int) bool { return starts[i] > last }) - 1

	if from < 0 {
		from = 0
	}
	if to >= totalLines {
		to = totalLines - 1
	}
	return lineRange{from: from, to: to}
}

// mergeRanges sorts ranges and merges any pair that overlaps or is
// separated by a gap smaller than slack lines. Idempotent.
func mergeRanges(ranges []lineRange, slack int) []lineRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]lineRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].from != sorted[j].from {
			return sorted[i].from < sorted[j].from
		}
		return sorted[i].to < sorted[j].to
	})

	merged := []lineRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.from <= last.to+slack {
			if r.to > last.to {
				last.to = r.to
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// renderExcerpts joins the selected line ranges, each under a line header,
// with omission markers between non-adjacent ranges.
func renderExcerpts(filename string, lines []string, ranges []lineRange) string {
	var b strings.Builder
	for i, r := range ranges {
		if i > 0 {
			b.WriteString("\n...content omitted...\n\n")
		}
		// Headers are one-based for citation traceability.
		fmt.Fprintf(&b, "// Lines %d-%d of %s\n", r.from+1, r.to+1, filename)
		b.WriteString(strings.Join(lines[r.from:r.to+1], "\n"))
	}
	return b.String()
}

// rawChunkContent is the minimal fallback form: just the matched chunk
// texts, no surrounding lines.
func rawChunkContent(dc DocumentContext) string {
	var b strings.Builder
	for i, m := range dc.RelevantChunks {
		if i > 0 {
			b.WriteString("\n...content omitted...\n\n")
		}
		fmt.Fprintf(&b, "// Excerpt of %s\n", dc.Filename)
		b.WriteString(m.Text)
	}
	return b.String()
}

// fitToBudget sorts candidates by descending priority and greedily accepts
// whole documents while the token estimate stays under budget and the
// document count stays under the maximum. A document that would overflow
// falls back to its raw matched chunks if that form fits, and is dropped
// otherwise so a lower-priority document that does fit still gets its
// turn. Only when no candidate fits in any form is the single smallest
// raw inclusion returned anyway, so the caller still has minimal context.
func (a *Assembler) fitToBudget(candidates []DocumentContext) *WorkingContext {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PriorityScore > candidates[j].PriorityScore
	})

	wc := &WorkingContext{}
	var smallest *DocumentContext
	var smallestTokens, trimmed int
	for _, dc := range candidates {
		if len(wc.Documents) >= a.cfg.MaxDocuments {
			break
		}

		tokens := estimateTokens(dc.Content)
		if wc.TotalTokens+tokens <= a.cfg.TokenBudget {
			wc.Documents = append(wc.Documents, dc)
			wc.TotalTokens += tokens
			continue
		}

		raw := dc
		raw.Content = rawChunkContent(dc)
		rawTokens := estimateTokens(raw.Content)
		if wc.TotalTokens+rawTokens <= a.cfg.TokenBudget {
			wc.Documents = append(wc.Documents, raw)
			wc.TotalTokens += rawTokens
			trimmed++
			continue
		}

		if smallest == nil || rawTokens < smallestTokens {
			smallest = &raw
			smallestTokens = rawTokens
		}
		a.logger.Debug("dropping document over budget",
			zap.String("document_id", dc.DocumentID),
			zap.Int("tokens", tokens),
			zap.Int("raw_tokens", rawTokens))
	}

	if len(wc.Documents) == 0 && smallest != nil {
		wc.Documents = append(wc.Documents, *smallest)
		wc.TotalTokens = smallestTokens
		trimmed++
	}

	if dropped := len(candidates) - len(wc.Documents); dropped > 0 || trimmed > 0 {
		wc.Summary = fmt.Sprintf("%d of %d matched documents included (%d reduced to matched excerpts, %d omitted for the token budget)",
			len(wc.Documents), len(candidates), trimmed, dropped)
	}
	return wc
}

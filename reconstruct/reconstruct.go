// Package reconstruct rebuilds readable text from stored chunks. The full
// format inverts chunking exactly: each chunk's recorded overlap is verified
// against the text already emitted and stripped; a mismatch falls back to
// naive concatenation and is reported as a warning rather than an error.
// The other formats derive condensed views (summary, outline, quotes) from
// the same chunk walk.
package reconstruct

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/liber/store"
)

// Format selects the output shape of Build.
type Format string

const (
	FormatFull    Format = "full"
	FormatSummary Format = "summary"
	FormatOutline Format = "outline"
	FormatQuotes  Format = "quotes"
)

// ParseFormat validates a string against the closed set of formats.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatFull, FormatSummary, FormatOutline, FormatQuotes:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Result is the output of one reconstruction. Warnings carry non-fatal
// anomalies such as overlap mismatches.
type Result struct {
	Content         string   `json:"content"`
	Format          Format   `json:"format"`
	WordCount       int      `json:"word_count"`
	Chapters        int      `json:"chapters"`
	ChunksProcessed int      `json:"chunks_processed"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Builder rebuilds books from the store. Read-only.
type Builder struct {
	store *store.Store
}

// New creates a Builder.
func New(s *store.Store) *Builder {
	return &Builder{store: s}
}

// Build reconstructs bookID in the requested format.
func (b *Builder) Build(ctx context.Context, bookID store.UUID, format Format) (*Result, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	chunks, err := b.store.BookChunks(ctx, bookID)
	if err != nil {
		return nil, err
	}

	var res *Result
	switch format {
	case FormatFull:
		res = buildFull(chunks)
	case FormatSummary:
		res = buildSummary(chunks)
	case FormatOutline:
		res, err = b.buildOutline(ctx, bookID, chunks)
		if err != nil {
			return nil, err
		}
	case FormatQuotes:
		res = buildQuotes(chunks)
	}

	res.Format = format
	res.ChunksProcessed = len(chunks)
	res.WordCount = len(strings.Fields(res.Content))
	res.Chapters = countChapters(chunks)
	return res, nil
}

func countChapters(chunks []*store.ChunkRecord) int {
	seen := map[int]bool{}
	for _, c := range chunks {
		seen[c.ChapterNumber] = true
	}
	return len(seen)
}

// buildFull concatenates chunks with overlap stripping. Before dropping a
// chunk's leading OverlapPrev words it checks them against the tail already
// emitted; a divergence keeps the full chunk text and records a warning.
// A zero overlap after the first chunk marks a hard structural break and is
// rendered as a blank line.
func buildFull(chunks []*store.ChunkRecord) *Result {
	res := &Result{}
	var sb strings.Builder
	var tail []string // last emitted words, for overlap verification

	for i, c := range chunks {
		words := strings.Fields(c.Content)

		switch {
		case i == 0:
			// First chunk goes in whole.
		case c.OverlapPrev == 0:
			sb.WriteString("\n\n")
		default:
			k := c.OverlapPrev
			if k <= len(words) && k <= len(tail) && wordsEqual(words[:k], tail[len(tail)-k:]) {
				words = words[k:]
				sb.WriteString(" ")
			} else {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"chunk %d: overlap mismatch (expected %d shared words), emitted verbatim",
					c.SequenceIndex, c.OverlapPrev))
				sb.WriteString(" ")
			}
		}

		sb.WriteString(strings.Join(words, " "))

		tail = append(tail, words...)
		if len(tail) > 256 {
			tail = tail[len(tail)-256:]
		}
	}

	res.Content = sb.String()
	return res
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// buildOutline renders the chapter skeleton with chunk and word counts.
func (b *Builder) buildOutline(ctx context.Context, bookID store.UUID, chunks []*store.ChunkRecord) (*Result, error) {
	refs, err := b.store.ChapterOutline(ctx, bookID)
	if err != nil {
		return nil, err
	}

	// Section titles live in the chunk metadata, keyed by chapter.
	sections := map[int][]string{}
	seen := map[string]bool{}
	for _, c := range chunks {
		if c.ChunkType != "section" || c.SectionNumber == 0 {
			continue
		}
		key := fmt.Sprintf("%d/%d", c.ChapterNumber, c.SectionNumber)
		if seen[key] {
			continue
		}
		seen[key] = true
		sections[c.ChapterNumber] = append(sections[c.ChapterNumber],
			fmt.Sprintf("  %d.%d", c.ChapterNumber, c.SectionNumber))
	}

	var sb strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&sb, "%d. %s (%d chunks, %d words)\n",
			r.ChapterNumber, r.Title, r.ChunkCount, r.WordCount)
		for _, s := range sections[r.ChapterNumber] {
			sb.WriteString(s + "\n")
		}
	}
	return &Result{Content: sb.String()}, nil
}

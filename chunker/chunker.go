// Package chunker cuts a normalized book into overlapping retrieval chunks.
//
// Splitting is hierarchical: a chapter that fits the size cap becomes one
// chunk; an oversized chapter is subdivided at section headings; a section
// still over the cap is packed greedily from paragraphs. Consecutive chunks
// share a fixed-size word overlap so that no sentence is ever cut blind at
// a chunk border, and the overlap size is recorded per chunk so the original
// text can be reconstructed exactly.
package chunker

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/liber/bookpipe"
)

// Config controls chunk sizing. Zero values take defaults.
type Config struct {
	// TargetWords is the preferred chunk size (default: 1000).
	TargetWords int `json:"target_words" yaml:"target_words"`

	// OverlapWords is the number of trailing words of each chunk repeated at
	// the start of the next one (default: 50).
	OverlapWords int `json:"overlap_words" yaml:"overlap_words"`

	// MaxFactor caps a chunk at TargetWords*MaxFactor before the splitter
	// descends a level (default: 1.2).
	MaxFactor float64 `json:"max_factor" yaml:"max_factor"`
}

func (c *Config) defaults() {
	if c.TargetWords <= 0 {
		c.TargetWords = 1000
	}
	if c.OverlapWords < 0 {
		c.OverlapWords = 0
	} else if c.OverlapWords == 0 {
		c.OverlapWords = 50
	}
	if c.MaxFactor <= 1.0 {
		c.MaxFactor = 1.2
	}
}

// baseChunk is a cut before overlap insertion.
type baseChunk struct {
	chapterNumber  int
	sectionNumber  int
	typ            ChunkType
	chapterTitle   string
	words          []string
	boundaryBefore bool
}

// Split cuts book into ordered chunks. It is deterministic: the same book
// and config always yield the same chunks.
func Split(book *bookpipe.Book, cfg Config) ([]Chunk, error) {
	cfg.defaults()
	if book == nil || len(book.Nodes) == 0 {
		return nil, fmt.Errorf("empty book")
	}
	if cfg.OverlapWords >= cfg.TargetWords {
		return nil, fmt.Errorf("overlap %d must be smaller than target %d", cfg.OverlapWords, cfg.TargetWords)
	}

	maxWords := int(float64(cfg.TargetWords) * cfg.MaxFactor)

	var bases []baseChunk
	for _, ch := range groupChapters(book.Nodes) {
		bases = append(bases, splitChapter(ch, cfg.TargetWords, maxWords)...)
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("book produced no chunks")
	}

	chunks := make([]Chunk, 0, len(bases))
	for i, b := range bases {
		overlap := 0
		words := b.words
		if i > 0 && !b.boundaryBefore && cfg.OverlapWords > 0 {
			prev := bases[i-1].words
			overlap = cfg.OverlapWords
			if overlap > len(prev) {
				overlap = len(prev)
			}
			if overlap > 0 {
				merged := make([]string, 0, overlap+len(words))
				merged = append(merged, prev[len(prev)-overlap:]...)
				merged = append(merged, words...)
				words = merged
			}
		}
		content := strings.Join(words, " ")
		chunks = append(chunks, Chunk{
			SequenceIndex: i,
			ChapterNumber: b.chapterNumber,
			SectionNumber: b.sectionNumber,
			Type:          b.typ,
			ChapterTitle:  b.chapterTitle,
			Content:       content,
			OverlapPrev:   overlap,
			WordCount:     len(words),
			CharCount:     len(content),
		})
	}
	return chunks, nil
}

// chapterGroup is a contiguous run of nodes under one level-1 heading.
type chapterGroup struct {
	number         int
	title          string
	nodes          []bookpipe.Node
	boundaryBefore bool
}

// groupChapters cuts the node stream at level-1 headings. Nodes before the
// first heading form chapter 0 (front matter).
func groupChapters(nodes []bookpipe.Node) []chapterGroup {
	var groups []chapterGroup
	var cur *chapterGroup
	number := 0

	for _, n := range nodes {
		if n.Kind == bookpipe.KindHeading && n.Level == 1 {
			if cur != nil {
				groups = append(groups, *cur)
			}
			number++
			cur = &chapterGroup{number: number, title: n.Title, boundaryBefore: n.Boundary}
		} else if cur == nil {
			cur = &chapterGroup{number: 0, title: "Front Matter", boundaryBefore: n.Boundary}
		}
		cur.nodes = append(cur.nodes, n)
	}
	if cur != nil {
		groups = append(groups, *cur)
	}
	return groups
}

// splitChapter applies the hierarchy: chapter fits → one chunk; else split
// at level-2 headings; sections over the cap are packed from paragraphs.
func splitChapter(ch chapterGroup, target, maxWords int) []baseChunk {
	total := 0
	for _, n := range ch.nodes {
		total += len(strings.Fields(n.Text))
	}
	if total == 0 {
		return nil
	}

	if total <= maxWords {
		return []baseChunk{{
			chapterNumber:  ch.number,
			typ:            TypeChapter,
			chapterTitle:   ch.title,
			words:          nodesToWords(ch.nodes),
			boundaryBefore: ch.boundaryBefore,
		}}
	}

	var out []baseChunk
	sectionNumber := 0
	var section []bookpipe.Node
	hasBody := false
	boundary := ch.boundaryBefore

	emit := func() {
		if len(section) == 0 {
			return
		}
		out = append(out, splitSection(ch, sectionNumber, section, boundary, target, maxWords)...)
		section = nil
		hasBody = false
		boundary = false
	}

	for _, n := range ch.nodes {
		if n.Kind == bookpipe.KindHeading && n.Level == 2 {
			// A heading-only prefix (e.g. just the chapter heading) merges
			// into the section it introduces rather than becoming a
			// two-word chunk of its own.
			if hasBody {
				emit()
			}
			sectionNumber++
		}
		if n.Boundary && hasBody {
			emit()
			boundary = true
		}
		section = append(section, n)
		if n.Kind == bookpipe.KindParagraph {
			hasBody = true
		}
	}
	emit()
	return out
}

// splitSection emits one section chunk, or paragraph packs when the section
// itself exceeds the cap.
func splitSection(ch chapterGroup, sectionNumber int, nodes []bookpipe.Node, boundaryBefore bool, target, maxWords int) []baseChunk {
	total := 0
	for _, n := range nodes {
		total += len(strings.Fields(n.Text))
	}
	if total == 0 {
		return nil
	}

	mk := func(words []string, typ ChunkType, boundary bool) baseChunk {
		return baseChunk{
			chapterNumber:  ch.number,
			sectionNumber:  sectionNumber,
			typ:            typ,
			chapterTitle:   ch.title,
			words:          words,
			boundaryBefore: boundary,
		}
	}

	if total <= maxWords {
		return []baseChunk{mk(nodesToWords(nodes), TypeSection, boundaryBefore)}
	}

	// Greedy paragraph packing up to the target.
	var out []baseChunk
	var current []string
	boundary := boundaryBefore

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, mk(current, TypeParagraph, boundary))
		current = nil
		boundary = false
	}

	for _, n := range nodes {
		words := strings.Fields(n.Text)
		if len(words) == 0 {
			continue
		}
		if n.Boundary && len(current) > 0 {
			flush()
			boundary = true
		}
		if len(current) > 0 && len(current)+len(words) > target {
			flush()
		}
		// A single paragraph larger than the cap is cut at word borders.
		for len(words) > maxWords {
			if len(current) > 0 {
				flush()
			}
			out = append(out, mk(words[:target], TypeParagraph, boundary))
			boundary = false
			words = words[target:]
		}
		current = append(current, words...)
		if len(current) >= target {
			flush()
		}
	}
	flush()
	return out
}

func nodesToWords(nodes []bookpipe.Node) []string {
	var words []string
	for _, n := range nodes {
		words = append(words, strings.Fields(n.Text)...)
	}
	return words
}

// VerifyOverlap checks that every chunk with a recorded overlap really does
// begin with the trailing words of its predecessor. A violation means the
// splitter itself is broken and the book must not be persisted.
func VerifyOverlap(chunks []Chunk, k int) error {
	for i, c := range chunks {
		if c.SequenceIndex != i {
			return fmt.Errorf("chunk %d has sequence index %d", i, c.SequenceIndex)
		}
		if c.OverlapPrev == 0 {
			continue
		}
		if i == 0 {
			return fmt.Errorf("first chunk records overlap %d", c.OverlapPrev)
		}
		if c.OverlapPrev > k {
			return fmt.Errorf("chunk %d overlap %d exceeds configured %d", i, c.OverlapPrev, k)
		}
		prev := strings.Fields(chunks[i-1].Content)
		cur := strings.Fields(c.Content)
		if len(prev) < c.OverlapPrev || len(cur) < c.OverlapPrev {
			return fmt.Errorf("chunk %d overlap %d larger than content", i, c.OverlapPrev)
		}
		tail := prev[len(prev)-c.OverlapPrev:]
		for j := 0; j < c.OverlapPrev; j++ {
			if cur[j] != tail[j] {
				return fmt.Errorf("chunk %d overlap mismatch at word %d: %q vs %q", i, j, cur[j], tail[j])
			}
		}
	}
	return nil
}

package chunker

import "fmt"

// ChunkType records the structural granularity a chunk was cut at.
type ChunkType string

const (
	// TypeChapter is a whole chapter that fit within the size cap.
	TypeChapter ChunkType = "chapter"
	// TypeSection is a level-2 subdivision of an oversized chapter.
	TypeSection ChunkType = "section"
	// TypeParagraph is a greedy paragraph pack inside an oversized section.
	TypeParagraph ChunkType = "paragraph"
)

// ParseChunkType validates a string against the closed set of chunk types.
func ParseChunkType(s string) (ChunkType, error) {
	switch ChunkType(s) {
	case TypeChapter, TypeSection, TypeParagraph:
		return ChunkType(s), nil
	}
	return "", fmt.Errorf("unknown chunk type %q", s)
}

// Chunk is one retrieval unit cut from a book. Content starts with the
// OverlapPrev trailing words of the previous chunk, verbatim, so that
// stripping exactly OverlapPrev words reconstructs the original text.
// OverlapPrev is 0 for the first chunk and across hard structural breaks.
type Chunk struct {
	SequenceIndex int       `json:"sequence_index"`
	ChapterNumber int       `json:"chapter_number"`
	SectionNumber int       `json:"section_number,omitempty"`
	Type          ChunkType `json:"chunk_type"`
	ChapterTitle  string    `json:"chapter_title"`
	Content       string    `json:"content"`
	OverlapPrev   int       `json:"overlap_prev"`
	WordCount     int       `json:"word_count"`
	CharCount     int       `json:"char_count"`
}

package store

import (
	"context"
	"fmt"
	"strings"
)

// LexicalHit is one FTS5 match. Rank is the raw bm25 score (lower is
// better); Snippet carries the highlighted excerpt.
type LexicalHit struct {
	Chunk   ChunkRecord `json:"chunk"`
	Rank    float64     `json:"rank"`
	Snippet string      `json:"snippet"`
}

// SearchLexical runs an FTS5 match over chunk content. The raw query is
// sanitized so FTS operators typed by users cannot break the match
// expression. Ties on rank break deterministically on (book, position).
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	if limit <= 0 {
		limit = 20
	}
	match := sanitizeFTS5(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+prefixedChunkColumns+`, rank,
			snippet(chunks_fts, 0, '[', ']', '…', 12)
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank, c.book_id, c.sequence_index
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		c := &h.Chunk
		if err := rows.Scan(&c.ChunkID, &c.BookID, &c.SequenceIndex,
			&c.ChapterNumber, &c.SectionNumber, &c.ChunkType, &c.ChapterTitle,
			&c.Content, &c.OverlapPrev, &c.WordCount, &c.CharCount,
			&c.HasEmbedding, &h.Rank, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

const prefixedChunkColumns = `c.chunk_id, c.book_id, c.sequence_index,
	c.chapter_number, COALESCE(c.section_number, 0), c.chunk_type,
	c.chapter_title, c.content, c.overlap_prev, c.word_count, c.char_count,
	c.embedding IS NOT NULL`

// sanitizeFTS5 turns raw user input into a safe FTS5 match expression:
// each bare term is double-quoted, which neutralizes operators like
// NEAR, *, ^, - and unbalanced quotes.
func sanitizeFTS5(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		f = strings.Trim(f, `*^:()-`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}

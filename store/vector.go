package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// SerializeVector converts a float32 slice to little-endian bytes.
func SerializeVector(vec []float32) []byte {
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DeserializeVector converts little-endian bytes back to float32s.
func DeserializeVector(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// VectorNorm computes the L2 norm.
func VectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// dotProduct over float32 pairs, accumulated in float64.
func dotProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// EmbeddingDim returns the corpus-wide embedding dimensionality, 0 when no
// chunk is embedded yet.
func (s *Store) EmbeddingDim(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT embedding_dim FROM chunks WHERE embedding IS NOT NULL LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("embedding dim: %w", err)
	}
	return int(dim.Int64), nil
}

// SetEmbedding stores a chunk's vector with its precomputed norm. The write
// is guarded by WHERE embedding IS NULL, so concurrent workers racing on
// the same chunk cannot clobber each other; losing the race is not an
// error. The corpus allows exactly one dimensionality.
func (s *Store) SetEmbedding(ctx context.Context, chunkID UUID, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("set embedding %s: empty vector", chunkID)
	}
	dim, err := s.EmbeddingDim(ctx)
	if err != nil {
		return err
	}
	if dim != 0 && dim != len(vec) {
		return fmt.Errorf("set embedding %s: got %d dims, corpus has %d: %w",
			chunkID, len(vec), dim, ErrDimensionMismatch)
	}

	_, err = s.DB.ExecContext(ctx, `
		UPDATE chunks SET embedding = ?, embedding_dim = ?, embedding_norm = ?
		WHERE chunk_id = ? AND embedding IS NULL`,
		SerializeVector(vec), len(vec), VectorNorm(vec), chunkID)
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", chunkID, err)
	}
	return nil
}

// UnembeddedChunks returns up to limit chunks that still lack a vector,
// oldest books first so a freshly ingested corpus fills in order.
func (s *Store) UnembeddedChunks(ctx context.Context, limit int) ([]*ChunkRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE embedding IS NULL
		ORDER BY book_id, sequence_index
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unembedded chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unembedded chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// VectorHit is one semantic match; Score is cosine similarity in [-1, 1].
type VectorHit struct {
	Chunk ChunkRecord `json:"chunk"`
	Score float64     `json:"score"`
}

// SearchVector scans embedded chunks and ranks them by cosine similarity
// against queryVec, using the norms precomputed at write time. Results
// below minScore are dropped. Ties break on (book, position) so results
// are stable across runs.
func (s *Store) SearchVector(ctx context.Context, queryVec []float32, limit int, minScore float64) ([]VectorHit, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("vector search: empty query vector")
	}
	queryNorm := VectorNorm(queryVec)
	if queryNorm == 0 {
		return nil, fmt.Errorf("vector search: zero query vector")
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+prefixedChunkColumns+`, c.embedding, c.embedding_dim, c.embedding_norm
		FROM chunks c
		WHERE c.embedding IS NOT NULL
		ORDER BY c.book_id, c.sequence_index`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var h VectorHit
		var blob []byte
		var dim int
		var norm float64
		c := &h.Chunk
		if err := rows.Scan(&c.ChunkID, &c.BookID, &c.SequenceIndex,
			&c.ChapterNumber, &c.SectionNumber, &c.ChunkType, &c.ChapterTitle,
			&c.Content, &c.OverlapPrev, &c.WordCount, &c.CharCount,
			&c.HasEmbedding, &blob, &dim, &norm); err != nil {
			return nil, fmt.Errorf("scan embedded chunk: %w", err)
		}
		if dim != len(queryVec) {
			return nil, fmt.Errorf("vector search: query has %d dims, corpus has %d: %w",
				len(queryVec), dim, ErrDimensionMismatch)
		}
		if norm == 0 {
			continue
		}
		score := dotProduct(queryVec, DeserializeVector(blob)) / (queryNorm * norm)
		if score < minScore {
			continue
		}
		h.Score = score
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Package store persists the book corpus in SQLite: relational metadata,
// chunk text with inline embeddings, and an FTS5 index maintained by
// triggers. All writes for one book happen in a single transaction keyed on
// the book's content hash, so re-ingesting an unchanged source is a no-op
// and a changed source replaces its predecessor atomically.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store wraps the corpus database.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an already-opened database. The caller owns db.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// BookRecord is one persisted book. Author carries the display name; the
// authors table row is deduplicated on the normalized form during Ingest.
type BookRecord struct {
	BookID          UUID    `json:"book_id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	AuthorID        UUID    `json:"author_id,omitzero"`
	PublicationYear int     `json:"publication_year,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	GenreConfidence float64 `json:"genre_confidence,omitempty"`
	Language        string  `json:"language,omitempty"`
	SourcePath      string  `json:"source_path"`
	Variant         string  `json:"variant"`
	WordCount       int     `json:"word_count"`
	ContentHash     string  `json:"content_hash"`
	IngestedAt      int64   `json:"ingested_at"`
}

// ChunkRecord is one persisted chunk.
type ChunkRecord struct {
	ChunkID       UUID   `json:"chunk_id"`
	BookID        UUID   `json:"book_id"`
	SequenceIndex int    `json:"sequence_index"`
	ChapterNumber int    `json:"chapter_number"`
	SectionNumber int    `json:"section_number,omitempty"`
	ChunkType     string `json:"chunk_type"`
	ChapterTitle  string `json:"chapter_title"`
	Content       string `json:"content"`
	OverlapPrev   int    `json:"overlap_prev"`
	WordCount     int    `json:"word_count"`
	CharCount     int    `json:"char_count"`
	HasEmbedding  bool   `json:"has_embedding"`
}

// IngestOutcome reports what Ingest did with a book.
type IngestOutcome string

const (
	// Created: no prior book with this content hash or source path.
	Created IngestOutcome = "created"
	// Unchanged: identical content hash already present, nothing written.
	Unchanged IngestOutcome = "unchanged"
	// Replaced: same source path, different hash; the prior book and its
	// chunks were deleted in the same transaction.
	Replaced IngestOutcome = "replaced"
)

// IngestResult reports the outcome of a book ingestion.
type IngestResult struct {
	BookID     UUID          `json:"book_id"`
	Outcome    IngestOutcome `json:"outcome"`
	ChunkCount int           `json:"chunk_count"`
}

// Ingest writes a book and its chunks in one transaction.
//
// Dedup is keyed on content_hash: an identical hash is a no-op; the same
// source_path with a different hash replaces the prior book (cascade delete
// plus fresh insert, atomically); anything else is a plain create.
func (s *Store) Ingest(ctx context.Context, book BookRecord, chunks []ChunkRecord) (IngestResult, error) {
	if book.ContentHash == "" {
		return IngestResult{}, fmt.Errorf("ingest %s: empty content hash", book.SourcePath)
	}
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("ingest %s: no chunks", book.SourcePath)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: begin: %w", err)
	}
	defer tx.Rollback()

	var existingID UUID
	err = tx.QueryRowContext(ctx,
		`SELECT book_id FROM books WHERE content_hash = ?`, book.ContentHash).Scan(&existingID)
	switch {
	case err == nil:
		return IngestResult{BookID: existingID, Outcome: Unchanged}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return IngestResult{}, fmt.Errorf("ingest: lookup hash: %w", err)
	}

	outcome := Created
	var priorID UUID
	err = tx.QueryRowContext(ctx,
		`SELECT book_id FROM books WHERE source_path = ?`, book.SourcePath).Scan(&priorID)
	switch {
	case err == nil:
		// Same source, new content: replace atomically. Chunks go with the
		// book via ON DELETE CASCADE; the FTS delete trigger fires per row.
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE book_id = ?`, priorID); err != nil {
			return IngestResult{}, fmt.Errorf("ingest: delete prior book: %w", err)
		}
		outcome = Replaced
	case !errors.Is(err, sql.ErrNoRows):
		return IngestResult{}, fmt.Errorf("ingest: lookup source: %w", err)
	}

	authorID, err := upsertAuthor(ctx, tx, book.Author)
	if err != nil {
		return IngestResult{}, err
	}

	bookID := book.BookID
	if bookID.IsZero() {
		bookID = NewUUID()
	}
	ingestedAt := book.IngestedAt
	if ingestedAt == 0 {
		ingestedAt = time.Now().UnixMilli()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (book_id, title, author_id, publication_year, genre,
			genre_confidence, language, source_path, variant, word_count,
			content_hash, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookID, book.Title, authorID, nullInt(book.PublicationYear),
		nullString(book.Genre), nullFloat(book.GenreConfidence), book.Language,
		book.SourcePath, book.Variant, book.WordCount, book.ContentHash, ingestedAt)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: insert book %s: %w", book.SourcePath, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, book_id, sequence_index, chapter_number,
			section_number, chunk_type, chapter_title, content, overlap_prev,
			word_count, char_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest: prepare chunks: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		id := c.ChunkID
		if id.IsZero() {
			id = NewUUID()
		}
		if _, err := stmt.ExecContext(ctx, id, bookID, c.SequenceIndex,
			c.ChapterNumber, nullInt(c.SectionNumber), c.ChunkType,
			c.ChapterTitle, c.Content, c.OverlapPrev, c.WordCount, c.CharCount); err != nil {
			return IngestResult{}, fmt.Errorf("ingest: insert chunk %d: %w", c.SequenceIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: commit: %w", err)
	}
	return IngestResult{BookID: bookID, Outcome: outcome, ChunkCount: len(chunks)}, nil
}

// upsertAuthor returns the author_id for name, inserting on first sight.
// Dedup is on the normalized form so "Frank HERBERT" and "frank herbert"
// share one row.
func upsertAuthor(ctx context.Context, tx *sql.Tx, name string) (UUID, error) {
	if strings.TrimSpace(name) == "" {
		name = "Unknown"
	}
	norm := NormalizeAuthor(name)

	var id UUID
	err := tx.QueryRowContext(ctx,
		`SELECT author_id FROM authors WHERE normalized_name = ?`, norm).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return UUID{}, fmt.Errorf("ingest: lookup author: %w", err)
	}

	id = NewUUID()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO authors (author_id, name, normalized_name) VALUES (?, ?, ?)`,
		id, name, norm); err != nil {
		return UUID{}, fmt.Errorf("ingest: insert author %q: %w", name, err)
	}
	return id, nil
}

// NormalizeAuthor lowercases and collapses whitespace for author dedup.
func NormalizeAuthor(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

const bookColumns = `b.book_id, b.title, a.name, b.author_id,
	COALESCE(b.publication_year, 0), COALESCE(b.genre, ''),
	COALESCE(b.genre_confidence, 0), b.language, b.source_path, b.variant,
	b.word_count, b.content_hash, b.ingested_at`

func scanBook(row interface{ Scan(...any) error }) (*BookRecord, error) {
	var b BookRecord
	err := row.Scan(&b.BookID, &b.Title, &b.Author, &b.AuthorID,
		&b.PublicationYear, &b.Genre, &b.GenreConfidence, &b.Language,
		&b.SourcePath, &b.Variant, &b.WordCount, &b.ContentHash, &b.IngestedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBook fetches one book with its author name resolved.
func (s *Store) GetBook(ctx context.Context, bookID UUID) (*BookRecord, error) {
	b, err := scanBook(s.DB.QueryRowContext(ctx, `
		SELECT `+bookColumns+`
		FROM books b JOIN authors a ON a.author_id = b.author_id
		WHERE b.book_id = ?`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

// ListBooks returns all books ordered by author then title.
func (s *Store) ListBooks(ctx context.Context) ([]*BookRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+bookColumns+`
		FROM books b JOIN authors a ON a.author_id = b.author_id
		ORDER BY a.normalized_name, b.title`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*BookRecord
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// DeleteBook removes a book and, via cascade, all its chunks.
func (s *Store) DeleteBook(ctx context.Context, bookID UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM books WHERE book_id = ?`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	return nil
}

const chunkColumns = `chunk_id, book_id, sequence_index, chapter_number,
	COALESCE(section_number, 0), chunk_type, chapter_title, content,
	overlap_prev, word_count, char_count, embedding IS NOT NULL`

func scanChunk(row interface{ Scan(...any) error }) (*ChunkRecord, error) {
	var c ChunkRecord
	err := row.Scan(&c.ChunkID, &c.BookID, &c.SequenceIndex, &c.ChapterNumber,
		&c.SectionNumber, &c.ChunkType, &c.ChapterTitle, &c.Content,
		&c.OverlapPrev, &c.WordCount, &c.CharCount, &c.HasEmbedding)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChunk fetches one chunk by ID.
func (s *Store) GetChunk(ctx context.Context, chunkID UUID) (*ChunkRecord, error) {
	c, err := scanChunk(s.DB.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE chunk_id = ?`, chunkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return c, nil
}

// GetAdjacent returns the chunks immediately before and after the given one
// in reading order. Either may be nil at the edges of the book.
func (s *Store) GetAdjacent(ctx context.Context, chunkID UUID) (prev, next *ChunkRecord, err error) {
	c, err := s.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, nil, err
	}

	fetch := func(seq int) (*ChunkRecord, error) {
		r, err := scanChunk(s.DB.QueryRowContext(ctx,
			`SELECT `+chunkColumns+` FROM chunks WHERE book_id = ? AND sequence_index = ?`,
			c.BookID, seq))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return r, err
	}

	if prev, err = fetch(c.SequenceIndex - 1); err != nil {
		return nil, nil, fmt.Errorf("adjacent prev: %w", err)
	}
	if next, err = fetch(c.SequenceIndex + 1); err != nil {
		return nil, nil, fmt.Errorf("adjacent next: %w", err)
	}
	return prev, next, nil
}

// BookChunks returns every chunk of a book in reading order.
func (s *Store) BookChunks(ctx context.Context, bookID UUID) ([]*ChunkRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE book_id = ? ORDER BY sequence_index`, bookID)
	if err != nil {
		return nil, fmt.Errorf("book chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*ChunkRecord
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	return chunks, nil
}

// ChapterRef locates one chapter inside a book.
type ChapterRef struct {
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	ChunkCount    int    `json:"chunk_count"`
	FirstChunkID  UUID   `json:"first_chunk_id"`
	WordCount     int    `json:"word_count"`
}

// ChapterOutline returns the chapter structure of a book in reading order.
func (s *Store) ChapterOutline(ctx context.Context, bookID UUID) ([]ChapterRef, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT chapter_number, chapter_title, COUNT(*),
			(SELECT chunk_id FROM chunks c2
			 WHERE c2.book_id = c.book_id AND c2.chapter_number = c.chapter_number
			 ORDER BY sequence_index LIMIT 1),
			SUM(word_count - overlap_prev)
		FROM chunks c
		WHERE book_id = ?
		GROUP BY chapter_number, chapter_title
		ORDER BY MIN(sequence_index)`, bookID)
	if err != nil {
		return nil, fmt.Errorf("chapter outline: %w", err)
	}
	defer rows.Close()

	var refs []ChapterRef
	for rows.Next() {
		var r ChapterRef
		if err := rows.Scan(&r.ChapterNumber, &r.Title, &r.ChunkCount, &r.FirstChunkID, &r.WordCount); err != nil {
			return nil, fmt.Errorf("scan chapter ref: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	return refs, nil
}

// QuarantineEntry records one source that failed ingestion.
type QuarantineEntry struct {
	Path          string `json:"path"`
	Reason        string `json:"reason"`
	QuarantinedAt int64  `json:"quarantined_at"`
}

// Quarantine records a failed source. Re-quarantining the same path updates
// the reason.
func (s *Store) Quarantine(ctx context.Context, path, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO quarantine (path, reason, quarantined_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET reason = excluded.reason, quarantined_at = excluded.quarantined_at`,
		path, reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", path, err)
	}
	return nil
}

// ListQuarantine returns quarantined sources, most recent first.
func (s *Store) ListQuarantine(ctx context.Context) ([]QuarantineEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT path, reason, quarantined_at FROM quarantine ORDER BY quarantined_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	var entries []QuarantineEntry
	for rows.Next() {
		var e QuarantineEntry
		if err := rows.Scan(&e.Path, &e.Reason, &e.QuarantinedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CorpusStats summarizes corpus size and embedding coverage.
type CorpusStats struct {
	Books          int `json:"books"`
	Chunks         int `json:"chunks"`
	EmbeddedChunks int `json:"embedded_chunks"`
	Quarantined    int `json:"quarantined"`
}

// Stats counts books, chunks, embedded chunks and quarantined sources.
func (s *Store) Stats(ctx context.Context) (CorpusStats, error) {
	var st CorpusStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM books),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM quarantine)`).
		Scan(&st.Books, &st.Chunks, &st.EmbeddedChunks, &st.Quarantined)
	if err != nil {
		return CorpusStats{}, fmt.Errorf("corpus stats: %w", err)
	}
	return st, nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

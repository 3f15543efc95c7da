package store

import "database/sql"

// Schema is the complete corpus schema: authors, books, chunks with inline
// embeddings, an external-content FTS5 index kept in sync by triggers, and
// the quarantine ledger for sources that failed ingestion.
const Schema = `
CREATE TABLE IF NOT EXISTS authors (
    author_id       BLOB PRIMARY KEY,
    name            TEXT NOT NULL,
    normalized_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS books (
    book_id          BLOB PRIMARY KEY,
    title            TEXT NOT NULL,
    author_id        BLOB NOT NULL REFERENCES authors(author_id),
    publication_year INTEGER,
    genre            TEXT,
    genre_confidence REAL,
    language         TEXT NOT NULL DEFAULT '',
    source_path      TEXT NOT NULL,
    variant          TEXT NOT NULL,
    word_count       INTEGER NOT NULL DEFAULT 0,
    content_hash     TEXT NOT NULL UNIQUE,
    ingested_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_books_author ON books(author_id);
CREATE INDEX IF NOT EXISTS idx_books_source ON books(source_path);

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id       BLOB PRIMARY KEY,
    book_id        BLOB NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
    sequence_index INTEGER NOT NULL,
    chapter_number INTEGER NOT NULL,
    section_number INTEGER,
    chunk_type     TEXT NOT NULL CHECK(chunk_type IN ('chapter','section','paragraph')),
    chapter_title  TEXT NOT NULL DEFAULT '',
    content        TEXT NOT NULL,
    overlap_prev   INTEGER NOT NULL DEFAULT 0,
    word_count     INTEGER NOT NULL DEFAULT 0,
    char_count     INTEGER NOT NULL DEFAULT 0,
    embedding      BLOB,
    embedding_dim  INTEGER,
    embedding_norm REAL,
    UNIQUE(book_id, sequence_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_book ON chunks(book_id, sequence_index);
CREATE INDEX IF NOT EXISTS idx_chunks_unembedded ON chunks(chunk_id) WHERE embedding IS NULL;

-- FTS5 on chunk content, external content to avoid doubling storage
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    content, chapter_title, content='chunks', content_rowid='rowid',
    tokenize='porter unicode61 remove_diacritics 2'
);

-- Triggers to keep FTS5 in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, content, chapter_title) VALUES (new.rowid, new.content, new.chapter_title);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, chapter_title) VALUES('delete', old.rowid, old.content, old.chapter_title);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, content, chapter_title) VALUES('delete', old.rowid, old.content, old.chapter_title);
    INSERT INTO chunks_fts(rowid, content, chapter_title) VALUES (new.rowid, new.content, new.chapter_title);
END;

-- Sources that failed ingestion, recorded so a batch run can continue
CREATE TABLE IF NOT EXISTS quarantine (
    path           TEXT PRIMARY KEY,
    reason         TEXT NOT NULL,
    quarantined_at INTEGER NOT NULL
);
`

// ApplySchema creates all tables, indexes and triggers.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

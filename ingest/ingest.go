// Package ingest drives the batch pipeline: walk a library location, detect
// candidate sources, normalize → chunk → verify → persist each one. A
// source that fails anywhere in that chain is quarantined and the batch
// moves on; only infrastructure failures (the database dying, the caller's
// context ending) abort a run.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/liber/bookpipe"
	"github.com/hazyhaar/liber/chunker"
	"github.com/hazyhaar/liber/store"
)

// Config controls chunking parameters and batch parallelism.
type Config struct {
	// ChunkWords is the target chunk size. Default: 1000.
	ChunkWords int `json:"chunk_words" yaml:"chunk_words"`

	// OverlapWords is the inter-chunk overlap. Default: 50.
	OverlapWords int `json:"overlap_words" yaml:"overlap_words"`

	// Workers bounds how many books are processed at once. Default: 4.
	Workers int `json:"workers" yaml:"workers"`

	// Logger for per-source progress. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ChunkWords <= 0 {
		c.ChunkWords = 1000
	}
	if c.OverlapWords <= 0 {
		c.OverlapWords = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingester runs sources through the full pipeline.
type Ingester struct {
	pipe   *bookpipe.Pipeline
	store  *store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates an Ingester.
func New(pipe *bookpipe.Pipeline, s *store.Store, cfg Config) *Ingester {
	cfg.defaults()
	return &Ingester{pipe: pipe, store: s, cfg: cfg, logger: cfg.Logger}
}

// FileResult reports one successfully ingested source.
type FileResult struct {
	Path    string              `json:"path"`
	BookID  store.UUID          `json:"book_id"`
	Title   string              `json:"title"`
	Author  string              `json:"author"`
	Outcome store.IngestOutcome `json:"outcome"`
	Chunks  int                 `json:"chunks"`
}

// QuarantinedSource reports one source that failed.
type QuarantinedSource struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes a batch run.
type Report struct {
	Ingested    []FileResult        `json:"ingested"`
	Quarantined []QuarantinedSource `json:"quarantined"`
}

// IngestDir walks root, ingesting every candidate source it finds. Regular
// files are candidates when they look like zip containers; a directory is a
// candidate when it sniffs as a known variant, otherwise the walk descends
// into it. Books run in parallel, bounded by Workers; each book's own
// pipeline is sequential.
func (ing *Ingester) IngestDir(ctx context.Context, root string) (*Report, error) {
	sources, err := ing.findSources(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	report := &Report{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.Workers)
	for _, src := range sources {
		g.Go(func() error {
			res, err := ing.IngestFile(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// The caller's context dying is an infrastructure failure,
				// not a property of this source.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Quarantined = append(report.Quarantined, QuarantinedSource{Path: src, Reason: err.Error()})
				if qerr := ing.store.Quarantine(gctx, src, err.Error()); qerr != nil {
					return qerr
				}
				return nil
			}
			report.Ingested = append(report.Ingested, *res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ing.logger.Info("batch ingest done", "root", root,
		"ingested", len(report.Ingested), "quarantined", len(report.Quarantined))
	return report, nil
}

// ErrNotSource reports a root that is neither an ingestible source nor a
// directory to scan for them.
var ErrNotSource = errors.New("not an ingestible source")

// findSources returns candidate source paths under root in deterministic
// order. A root that is itself a source (an archive file, or a directory
// that sniffs as a known variant) is the single candidate.
func (ing *Ingester) findSources(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if ext := strings.ToLower(filepath.Ext(root)); ext == ".epub" || ext == ".zip" {
			return []string{root}, nil
		}
		return nil, fmt.Errorf("%s: %w", root, ErrNotSource)
	}
	if _, serr := ing.pipe.Sniff(root); serr == nil {
		return []string{root}, nil
	}

	var sources []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if _, serr := ing.pipe.Sniff(path); serr == nil {
				sources = append(sources, path)
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".epub" || ext == ".zip" {
			sources = append(sources, path)
		}
		return nil
	})
	return sources, err
}

// IngestFile runs one source through normalize → chunk → verify → persist.
func (ing *Ingester) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	book, err := ing.pipe.Normalize(ctx, path)
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.Split(book, chunker.Config{
		TargetWords:  ing.cfg.ChunkWords,
		OverlapWords: ing.cfg.OverlapWords,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	if err := chunker.VerifyOverlap(chunks, ing.cfg.OverlapWords); err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}

	genre, confidence := ClassifyGenre(book)

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			SequenceIndex: c.SequenceIndex,
			ChapterNumber: c.ChapterNumber,
			SectionNumber: c.SectionNumber,
			ChunkType:     string(c.Type),
			ChapterTitle:  c.ChapterTitle,
			Content:       c.Content,
			OverlapPrev:   c.OverlapPrev,
			WordCount:     c.WordCount,
			CharCount:     c.CharCount,
		}
	}

	res, err := ing.store.Ingest(ctx, store.BookRecord{
		Title:           book.Title,
		Author:          book.Author,
		PublicationYear: book.Year,
		Genre:           genre,
		GenreConfidence: confidence,
		Language:        book.Language,
		SourcePath:      path,
		Variant:         string(book.Variant),
		WordCount:       book.WordCount,
		ContentHash:     ContentHash(book),
	}, records)
	if err != nil {
		return nil, err
	}

	ing.logger.Info("source ingested", "path", path,
		"title", book.Title, "outcome", res.Outcome, "chunks", res.ChunkCount)

	return &FileResult{
		Path:    path,
		BookID:  res.BookID,
		Title:   book.Title,
		Author:  book.Author,
		Outcome: res.Outcome,
		Chunks:  res.ChunkCount,
	}, nil
}

// ContentHash is the SHA-256 of the normalized canonical text, so the same
// book re-packaged in another container hashes identically.
func ContentHash(book *bookpipe.Book) string {
	h := sha256.New()
	for _, n := range book.Nodes {
		h.Write([]byte(n.Text))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

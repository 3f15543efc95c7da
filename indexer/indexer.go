// Package indexer runs the background embedding pipeline: it periodically
// drains chunks that lack a vector, batches them through the configured
// embedder, and writes the vectors back. The writes are idempotent (guarded
// on embedding IS NULL in the store), so several indexer instances can run
// against the same database without clobbering each other.
package indexer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/store"
)

// Config controls the background worker.
type Config struct {
	// Interval between drain passes. Default: 30s.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// BatchSize is the number of chunks embedded per round trip.
	// Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Workers is the number of batches in flight at once. Default: 2.
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries per batch on embedder failure. Default: 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// BaseBackoff is the initial wait after a failed batch, doubled each
	// attempt. Default: 2s.
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`

	// Logger for progress and failures. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Indexer drains unembedded chunks into vectors.
type Indexer struct {
	store    *store.Store
	embedder bookembed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates an Indexer over the given store and embedder.
func New(s *store.Store, e bookembed.Embedder, cfg Config) *Indexer {
	cfg.defaults()
	return &Indexer{store: s, embedder: e, cfg: cfg, logger: cfg.Logger}
}

// Run drains pending chunks on a ticker until ctx is cancelled. One pass
// runs immediately on start so a freshly ingested corpus does not wait a
// full interval.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()

	ix.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.Drain(ctx)
		}
	}
}

// Drain embeds every pending chunk and returns the number of vectors
// written. Batches run on a bounded worker pool; a batch that keeps
// failing after retries is skipped and its chunks stay pending for the
// next tick.
func (ix *Indexer) Drain(ctx context.Context) int {
	total := 0
	for {
		if ctx.Err() != nil {
			return total
		}

		chunks, err := ix.store.UnembeddedChunks(ctx, ix.cfg.BatchSize*ix.cfg.Workers)
		if err != nil {
			ix.logger.Warn("indexer: fetch pending chunks", "error", err)
			return total
		}
		if len(chunks) == 0 {
			return total
		}

		var stored atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.cfg.Workers)
		for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
			batch := chunks[start:min(start+ix.cfg.BatchSize, len(chunks))]
			g.Go(func() error {
				stored.Add(int64(ix.drainBatch(gctx, batch)))
				return nil
			})
		}
		g.Wait()
		total += int(stored.Load())

		// Nothing stored means every write or embed failed; looping again
		// would fetch the same chunks forever.
		if stored.Load() == 0 {
			return total
		}
	}
}

// drainBatch embeds one batch and writes it back, returning the number of
// vectors stored.
func (ix *Indexer) drainBatch(ctx context.Context, chunks []*store.ChunkRecord) int {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := ix.embedBatch(ctx, texts)
	if err != nil {
		ix.logger.Warn("indexer: batch failed, leaving chunks pending",
			"batch", len(texts), "error", err)
		return 0
	}

	stored := 0
	for i, vec := range vecs {
		if err := ix.store.SetEmbedding(ctx, chunks[i].ChunkID, vec); err != nil {
			ix.logger.Warn("indexer: store embedding",
				"chunk_id", chunks[i].ChunkID, "error", err)
			continue
		}
		stored++
	}

	ix.logger.Info("indexer: batch done",
		"stored", stored, "batch", len(texts), "model", ix.embedder.Model())
	return stored
}

// embedBatch calls the embedder with exponential backoff, respecting ctx
// between attempts.
func (ix *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= ix.cfg.MaxRetries; attempt++ {
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < ix.cfg.MaxRetries {
			wait := ix.cfg.BaseBackoff * (1 << uint(attempt))
			ix.logger.WarnContext(ctx, "indexer: retrying embed batch",
				"attempt", attempt+1,
				"max_retries", ix.cfg.MaxRetries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/dbopen"
	"github.com/hazyhaar/liber/store"
	_ "modernc.org/sqlite"
)

func seedChunks(t *testing.T, s *store.Store, n int) {
	t.Helper()
	chunks := make([]store.ChunkRecord, n)
	for i := range chunks {
		chunks[i] = store.ChunkRecord{
			SequenceIndex: i,
			ChapterNumber: 1,
			ChunkType:     "paragraph",
			Content:       fmt.Sprintf("chunk number %d content", i),
			WordCount:     4,
		}
	}
	_, err := s.Ingest(context.Background(), store.BookRecord{
		Title: "T", Author: "A", SourcePath: "/t", Variant: "epub",
		ContentHash: "h", WordCount: n * 4,
	}, chunks)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDrainEmbedsEverything(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	seedChunks(t, s, 7)

	ix := New(s, bookembed.New(bookembed.Config{Dimension: 16}), Config{BatchSize: 3})
	n := ix.Drain(context.Background())
	if n != 7 {
		t.Fatalf("drained %d, want 7", n)
	}

	pending, err := s.UnembeddedChunks(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("%d chunks still pending", len(pending))
	}
	dim, _ := s.EmbeddingDim(context.Background())
	if dim != 16 {
		t.Errorf("dim = %d", dim)
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	seedChunks(t, s, 3)

	ix := New(s, bookembed.New(bookembed.Config{Dimension: 8}), Config{BatchSize: 10})
	if n := ix.Drain(context.Background()); n != 3 {
		t.Fatalf("first drain = %d", n)
	}
	if n := ix.Drain(context.Background()); n != 0 {
		t.Fatalf("second drain = %d, want 0", n)
	}
}

// flakyEmbedder fails a fixed number of times before succeeding.
type flakyEmbedder struct {
	bookembed.Embedder
	failures atomic.Int32
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("embed server unavailable")
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	seedChunks(t, s, 2)

	flaky := &flakyEmbedder{Embedder: bookembed.New(bookembed.Config{Dimension: 8})}
	flaky.failures.Store(2)

	ix := New(s, flaky, Config{BatchSize: 10, MaxRetries: 3, BaseBackoff: time.Millisecond})
	if n := ix.Drain(context.Background()); n != 2 {
		t.Fatalf("drained %d after retries, want 2", n)
	}
}

func TestDrainGivesUpAfterMaxRetries(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	seedChunks(t, s, 2)

	flaky := &flakyEmbedder{Embedder: bookembed.New(bookembed.Config{Dimension: 8})}
	flaky.failures.Store(100)

	ix := New(s, flaky, Config{BatchSize: 10, MaxRetries: 2, BaseBackoff: time.Millisecond})
	if n := ix.Drain(context.Background()); n != 0 {
		t.Fatalf("drained %d, want 0", n)
	}
	// Chunks remain pending for the next pass.
	pending, _ := s.UnembeddedChunks(context.Background(), 10)
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	seedChunks(t, s, 1)

	ix := New(s, bookembed.New(bookembed.Config{Dimension: 8}), Config{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		ix.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

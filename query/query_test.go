package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/dbopen"
	"github.com/hazyhaar/liber/indexer"
	"github.com/hazyhaar/liber/store"
	_ "modernc.org/sqlite"
)

func seedCorpus(t *testing.T, emb bookembed.Embedder) *store.Store {
	t.Helper()
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))

	chunks := []store.ChunkRecord{
		{SequenceIndex: 0, ChapterNumber: 1, ChunkType: "chapter", ChapterTitle: "Arrakis",
			Content: "Arrakis, the desert planet, is the only source of the spice melange in the universe."},
		{SequenceIndex: 1, ChapterNumber: 2, ChunkType: "chapter", ChapterTitle: "The Duke",
			Content: "The duke looked at his son and spoke quietly about duty and fear."},
		{SequenceIndex: 2, ChapterNumber: 3, ChunkType: "chapter", ChapterTitle: "Harvest",
			Content: "Harvesting the spice from the desert sand is dangerous work for the crawlers."},
	}
	for i := range chunks {
		chunks[i].WordCount = len(strings.Fields(chunks[i].Content))
	}
	_, err := s.Ingest(context.Background(), store.BookRecord{
		Title: "Dune", Author: "Frank Herbert", SourcePath: "/lib/dune.epub",
		Variant: "epub", ContentHash: "h1", WordCount: 40,
	}, chunks)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if emb != nil {
		ix := indexer.New(s, emb, indexer.Config{BatchSize: 10})
		if n := ix.Drain(context.Background()); n != 3 {
			t.Fatalf("embedded %d chunks", n)
		}
	}
	return s
}

func TestSearchHybrid(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	e := New(seedCorpus(t, emb), emb, Config{MinScore: 0.01})

	resp, err := e.Search(context.Background(), Request{Query: "spice desert"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Metadata.Degraded {
		t.Error("response degraded with a working embedder")
	}
	if resp.Exact.Count == 0 {
		t.Fatal("no lexical results")
	}
	if resp.Semantic.Count == 0 {
		t.Fatal("no semantic results")
	}

	r := resp.Exact.Results[0]
	if r.Title != "Dune" || r.Author != "Frank Herbert" {
		t.Errorf("title/author = %q/%q", r.Title, r.Author)
	}
	if !strings.Contains(r.Citation, "Dune — Frank Herbert, ch.") {
		t.Errorf("citation = %q", r.Citation)
	}
	if r.Excerpt == "" {
		t.Error("empty excerpt")
	}
	if resp.Semantic.Results[0].Explanation == "" ||
		!strings.HasPrefix(resp.Semantic.Results[0].Explanation, "similarity: ") {
		t.Errorf("explanation = %q", resp.Semantic.Results[0].Explanation)
	}
	if resp.Metadata.Query != "spice desert" || resp.Metadata.Timestamp == 0 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
}

func TestSearchNoDedupAcrossLists(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	e := New(seedCorpus(t, emb), emb, Config{MinScore: 0.01})

	resp, err := e.Search(context.Background(), Request{Query: "spice desert"})
	if err != nil {
		t.Fatal(err)
	}
	inBoth := false
	for _, ex := range resp.Exact.Results {
		for _, se := range resp.Semantic.Results {
			if ex.ChunkID == se.ChunkID {
				inBoth = true
			}
		}
	}
	if !inBoth {
		t.Error("expected at least one chunk present in both lists")
	}
}

// failingEmbedder always errors.
type failingEmbedder struct{ bookembed.Embedder }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embed server down")
}

func TestSearchDegradedOnSemanticFailure(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	s := seedCorpus(t, emb)
	e := New(s, &failingEmbedder{emb}, Config{})

	resp, err := e.Search(context.Background(), Request{Query: "spice"})
	if err != nil {
		t.Fatalf("search must not fail when semantic path dies: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("response not flagged degraded")
	}
	if resp.Exact.Count == 0 {
		t.Error("lexical results missing in degraded response")
	}
	if resp.Semantic.Count != 0 {
		t.Error("semantic results present despite failure")
	}
}

// slowEmbedder blocks until its context dies.
type slowEmbedder struct{ bookembed.Embedder }

func (s *slowEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSearchDegradedOnSemanticTimeout(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	s := seedCorpus(t, emb)
	e := New(s, &slowEmbedder{emb}, Config{SemanticTimeout: 20 * time.Millisecond})

	start := time.Now()
	resp, err := e.Search(context.Background(), Request{Query: "spice"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !resp.Metadata.Degraded {
		t.Error("timeout did not degrade the response")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("semantic timeout not enforced")
	}
}

func TestSearchPrecomputedVector(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	s := seedCorpus(t, emb)
	// The engine gets no embedder at all; the caller brings the vector.
	e := New(s, nil, Config{MinScore: 0.01})

	vec, err := emb.Embed(context.Background(), "spice desert")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := e.Search(context.Background(), Request{Query: "spice desert", QueryVector: vec})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Metadata.Degraded {
		t.Error("degraded despite precomputed vector")
	}
	if resp.Semantic.Count == 0 {
		t.Error("no semantic results from precomputed vector")
	}
}

func TestSearchSeparatesExactFromSemantic(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))

	// Only the first chunk carries every term of the lexical query. The
	// second paraphrases the query vector's vocabulary without matching the
	// query text.
	chunks := []store.ChunkRecord{
		{SequenceIndex: 0, ChapterNumber: 1, ChunkType: "chapter", ChapterTitle: "Mind Studies",
			Content: "A long meditation on consciousness and identity in the desert."},
		{SequenceIndex: 1, ChapterNumber: 2, ChunkType: "chapter", ChapterTitle: "Inner Life",
			Content: "The mind senses the self through awareness and memory"},
		{SequenceIndex: 2, ChapterNumber: 3, ChunkType: "chapter", ChapterTitle: "Dunes",
			Content: "Sand dunes rolled to the horizon under a pale sky."},
	}
	for i := range chunks {
		chunks[i].WordCount = len(strings.Fields(chunks[i].Content))
	}
	if _, err := s.Ingest(context.Background(), store.BookRecord{
		Title: "Essays", Author: "A. Writer", SourcePath: "/lib/essays.epub",
		Variant: "epub", ContentHash: "h2", WordCount: 30,
	}, chunks); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ix := indexer.New(s, emb, indexer.Config{BatchSize: 10})
	if n := ix.Drain(context.Background()); n != 3 {
		t.Fatalf("embedded %d chunks", n)
	}

	vec, err := emb.Embed(context.Background(), "mind senses self awareness memory")
	if err != nil {
		t.Fatal(err)
	}

	e := New(s, emb, Config{})
	resp, err := e.Search(context.Background(), Request{
		Query:       "consciousness and identity",
		QueryVector: vec,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if resp.Exact.Count != 1 {
		t.Fatalf("exact count = %d, want only the phrase-matching chunk", resp.Exact.Count)
	}
	if got := resp.Exact.Results[0].ChapterTitle; got != "Mind Studies" {
		t.Errorf("top exact hit from %q, want Mind Studies", got)
	}
	for _, r := range resp.Exact.Results {
		if r.ChapterTitle == "Inner Life" {
			t.Error("paraphrase chunk leaked into the exact list")
		}
	}
	var inSemantic bool
	for _, r := range resp.Semantic.Results {
		if r.ChapterTitle == "Inner Life" {
			inSemantic = true
		}
	}
	if !inSemantic {
		t.Errorf("paraphrase chunk missing from semantic list: %+v", resp.Semantic.Results)
	}
}

func TestSearchMalformedRequests(t *testing.T) {
	e := New(seedCorpus(t, nil), nil, Config{})

	if _, err := e.Search(context.Background(), Request{Query: "   "}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty query: err = %v, want ErrInvalidRequest", err)
	}
	if _, err := e.Search(context.Background(), Request{Query: "x", ExactLimit: -1}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("negative limit: err = %v, want ErrInvalidRequest", err)
	}
}

func TestSearchNavigation(t *testing.T) {
	emb := bookembed.New(bookembed.Config{Dimension: 64})
	e := New(seedCorpus(t, emb), emb, Config{})

	resp, err := e.Search(context.Background(),
		Request{Query: "duke duty fear", IncludeNavigation: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Exact.Count == 0 {
		t.Fatal("no hits")
	}
	nav := resp.Exact.Results[0].Navigation
	if nav == nil {
		t.Fatal("navigation missing")
	}
	// The middle chunk has both neighbours.
	if nav.Prev == nil || nav.Next == nil {
		t.Errorf("nav = %+v", nav)
	}
	if len(nav.Outline) != 3 {
		t.Errorf("outline chapters = %d", len(nav.Outline))
	}
}

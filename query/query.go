// Package query answers hybrid searches over the corpus: a lexical FTS5
// pass and a semantic vector pass run concurrently, each under its own
// timeout, and come back as two separate ranked lists. The semantic path is
// best-effort: when the embedder or the vector scan is slow or down, the
// response is flagged degraded and still carries the lexical results.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/liber/bookembed"
	"github.com/hazyhaar/liber/store"
)

// Config controls result sizes and per-path timeouts.
type Config struct {
	// ExactLimit is the default lexical result count. Default: 10.
	ExactLimit int `json:"exact_limit" yaml:"exact_limit"`

	// SemanticLimit is the default semantic result count. Default: 10.
	SemanticLimit int `json:"semantic_limit" yaml:"semantic_limit"`

	// MinScore drops semantic hits scoring below it. Default: 0.25.
	MinScore float64 `json:"min_score" yaml:"min_score"`

	// LexicalTimeout bounds the FTS5 path. Default: 2s.
	LexicalTimeout time.Duration `json:"lexical_timeout" yaml:"lexical_timeout"`

	// SemanticTimeout bounds embed + vector scan. Default: 5s.
	SemanticTimeout time.Duration `json:"semantic_timeout" yaml:"semantic_timeout"`

	// Logger for degraded-path warnings. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ExactLimit <= 0 {
		c.ExactLimit = 10
	}
	if c.SemanticLimit <= 0 {
		c.SemanticLimit = 10
	}
	if c.MinScore == 0 {
		c.MinScore = 0.25
	}
	if c.LexicalTimeout <= 0 {
		c.LexicalTimeout = 2 * time.Second
	}
	if c.SemanticTimeout <= 0 {
		c.SemanticTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ErrInvalidRequest marks malformed search input, as opposed to internal
// failures on the lexical path. Callers can map it to a client error.
var ErrInvalidRequest = errors.New("invalid search request")

// Engine runs hybrid searches.
type Engine struct {
	store    *store.Store
	embedder bookembed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. embedder may be nil, which disables the semantic
// path entirely (every response is then flagged degraded).
func New(s *store.Store, e bookembed.Embedder, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{store: s, embedder: e, cfg: cfg, logger: cfg.Logger}
}

// Request is one search. Zero limits take the engine defaults.
type Request struct {
	Query             string    `json:"query"`
	ExactLimit        int       `json:"exact_limit,omitempty"`
	SemanticLimit     int       `json:"semantic_limit,omitempty"`
	IncludeNavigation bool      `json:"include_navigation,omitempty"`
	QueryVector       []float32 `json:"query_vector,omitempty"`
}

// ChunkRef points at a neighbouring chunk for reading-order navigation.
type ChunkRef struct {
	ChunkID       store.UUID `json:"chunk_id"`
	SequenceIndex int        `json:"sequence_index"`
	ChapterTitle  string     `json:"chapter_title"`
}

// Navigation places a hit inside its book.
type Navigation struct {
	Prev    *ChunkRef          `json:"prev,omitempty"`
	Next    *ChunkRef          `json:"next,omitempty"`
	Outline []store.ChapterRef `json:"outline,omitempty"`
}

// Result is one hit from either path.
type Result struct {
	ChunkID       store.UUID  `json:"chunk_id"`
	BookID        store.UUID  `json:"book_id"`
	Title         string      `json:"title"`
	Author        string      `json:"author"`
	Citation      string      `json:"citation"`
	Excerpt       string      `json:"excerpt"`
	Score         float64     `json:"score"`
	Explanation   string      `json:"explanation,omitempty"`
	ChapterNumber int         `json:"chapter_number"`
	ChapterTitle  string      `json:"chapter_title"`
	Navigation    *Navigation `json:"navigation,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Query          string `json:"query"`
	Timestamp      int64  `json:"timestamp"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Degraded       bool   `json:"degraded"`
}

// ResultList is one ranked list with its count.
type ResultList struct {
	Count   int      `json:"count"`
	Results []Result `json:"results"`
}

// Response carries the two result lists. They are not deduplicated against
// each other: a chunk that matches both ways appears in both.
type Response struct {
	Metadata Metadata   `json:"query_metadata"`
	Exact    ResultList `json:"exact_references"`
	Semantic ResultList `json:"semantic_discovery"`
}

// Search dispatches both paths concurrently and assembles the response.
// It fails only on malformed input or when the caller's ctx dies; a broken
// semantic path degrades the response instead.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	if req.ExactLimit < 0 || req.SemanticLimit < 0 {
		return nil, fmt.Errorf("%w: negative result limit", ErrInvalidRequest)
	}
	exactLimit := req.ExactLimit
	if exactLimit == 0 {
		exactLimit = e.cfg.ExactLimit
	}
	semanticLimit := req.SemanticLimit
	if semanticLimit == 0 {
		semanticLimit = e.cfg.SemanticLimit
	}

	start := time.Now()

	type lexOut struct {
		results []Result
		err     error
	}
	type semOut struct {
		results []Result
		err     error
	}
	lexCh := make(chan lexOut, 1)
	semCh := make(chan semOut, 1)

	go func() {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.LexicalTimeout)
		defer cancel()
		r, err := e.searchLexical(lctx, req.Query, exactLimit, req.IncludeNavigation)
		lexCh <- lexOut{r, err}
	}()
	go func() {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SemanticTimeout)
		defer cancel()
		r, err := e.searchSemantic(sctx, req.Query, req.QueryVector, semanticLimit)
		semCh <- semOut{r, err}
	}()

	lex := <-lexCh
	sem := <-semCh

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lex.err != nil {
		return nil, fmt.Errorf("lexical search: %w", lex.err)
	}

	degraded := false
	if sem.err != nil {
		degraded = true
		e.logger.Warn("semantic path degraded", "query", req.Query, "error", sem.err)
		sem.results = nil
	}

	return &Response{
		Metadata: Metadata{
			Query:          req.Query,
			Timestamp:      start.UnixMilli(),
			ResponseTimeMs: time.Since(start).Milliseconds(),
			Degraded:       degraded,
		},
		Exact:    ResultList{Count: len(lex.results), Results: lex.results},
		Semantic: ResultList{Count: len(sem.results), Results: sem.results},
	}, nil
}

func (e *Engine) searchLexical(ctx context.Context, query string, limit int, withNav bool) ([]Result, error) {
	hits, err := e.store.SearchLexical(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			ChunkID:       h.Chunk.ChunkID,
			BookID:        h.Chunk.BookID,
			Excerpt:       h.Snippet,
			Score:         h.Rank,
			ChapterNumber: h.Chunk.ChapterNumber,
			ChapterTitle:  h.Chunk.ChapterTitle,
		}
		if err := e.annotate(ctx, &h.Chunk, &r); err != nil {
			return nil, err
		}
		if withNav {
			nav, err := e.Navigation(ctx, h.Chunk.ChunkID)
			if err != nil {
				return nil, err
			}
			r.Navigation = nav
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) searchSemantic(ctx context.Context, query string, queryVec []float32, limit int) ([]Result, error) {
	if len(queryVec) == 0 {
		if e.embedder == nil {
			return nil, fmt.Errorf("no embedder configured")
		}
		var err error
		queryVec, err = e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}

	hits, err := e.store.SearchVector(ctx, queryVec, limit, e.cfg.MinScore)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			ChunkID:       h.Chunk.ChunkID,
			BookID:        h.Chunk.BookID,
			Excerpt:       excerpt(h.Chunk.Content, 240),
			Score:         h.Score,
			Explanation:   fmt.Sprintf("similarity: %.2f", h.Score),
			ChapterNumber: h.Chunk.ChapterNumber,
			ChapterTitle:  h.Chunk.ChapterTitle,
		}
		if err := e.annotate(ctx, &h.Chunk, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Navigation resolves the reading-order context of one chunk: previous and
// next chunk plus the chapter outline of its book.
func (e *Engine) Navigation(ctx context.Context, chunkID store.UUID) (*Navigation, error) {
	prev, next, err := e.store.GetAdjacent(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	nav := &Navigation{}
	if prev != nil {
		nav.Prev = &ChunkRef{ChunkID: prev.ChunkID, SequenceIndex: prev.SequenceIndex, ChapterTitle: prev.ChapterTitle}
	}
	if next != nil {
		nav.Next = &ChunkRef{ChunkID: next.ChunkID, SequenceIndex: next.SequenceIndex, ChapterTitle: next.ChapterTitle}
	}

	c, err := e.store.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	nav.Outline, err = e.store.ChapterOutline(ctx, c.BookID)
	if err != nil {
		return nil, err
	}
	return nav, nil
}

// annotate fills the book-level fields of a result, including the citation
// "Title — Author, ch. N (chunk id)".
func (e *Engine) annotate(ctx context.Context, c *store.ChunkRecord, r *Result) error {
	book, err := e.store.GetBook(ctx, c.BookID)
	if err != nil {
		return err
	}
	r.Title = book.Title
	r.Author = book.Author
	r.Citation = fmt.Sprintf("%s — %s, ch. %d (%s)", book.Title, book.Author, c.ChapterNumber, c.ChunkID)
	return nil
}

// excerpt truncates content at a word border near maxChars.
func excerpt(content string, maxChars int) string {
	if len(content) <= maxChars {
		return content
	}
	cut := strings.LastIndexByte(content[:maxChars], ' ')
	if cut <= 0 {
		cut = maxChars
	}
	return content[:cut] + "…"
}

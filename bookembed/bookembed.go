// Package bookembed converts chunk text to float32 vectors through any
// OpenAI-compatible embedding server (vLLM, Ollama, ONNX Runtime Server, or
// OpenAI itself). The rest of the service only sees the Embedder interface,
// so the backend can change without touching the pipeline or the query
// engine.
//
// Usage:
//
//	emb := bookembed.New(bookembed.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "multilingual-e5-large",
//	})
//	vec, err := emb.Embed(ctx, "The spice must flow.")
package bookembed

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"math"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one HTTP call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, 0 if not yet detected.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty selects the
	// local deterministic embedder, which needs no server.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in each request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on
	// the first call.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RatePerSecond caps requests to the backend. 0 disables limiting.
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. An empty Endpoint selects the local
// deterministic embedder; a configured RatePerSecond wraps the client in a
// limiter.
func New(cfg Config) Embedder {
	cfg.defaults()
	var e Embedder
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 128
		}
		e = &localEmbedder{dim: dim, model: cfg.Model}
	} else {
		e = newOpenAIClient(cfg)
	}
	if cfg.RatePerSecond > 0 {
		e = RateLimited(e, cfg.RatePerSecond)
	}
	return e
}

// localEmbedder produces deterministic pseudo-vectors from token hashes.
// Identical texts get identical vectors and overlapping vocabularies score
// closer than disjoint ones, which is enough for tests and for running the
// full stack without an embedding server.
type localEmbedder struct {
	dim   int
	model string
}

func (l *localEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dim)
	h := fnv.New64a()
	word := make([]byte, 0, 32)
	flush := func() {
		if len(word) == 0 {
			return
		}
		h.Reset()
		h.Write(word)
		sum := h.Sum64()
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], sum)
		idx := int(sum % uint64(l.dim))
		vec[idx] += float32(int8(buf[0]))/128.0 + 1.0
		word = word[:0]
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\n' || c == '\t' {
			flush()
			continue
		}
		word = append(word, c|0x20) // cheap ASCII lowercasing
	}
	flush()

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	} else {
		vec[0] = 1 // empty text still gets a unit vector
	}
	return vec, nil
}

func (l *localEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *localEmbedder) Dimension() int { return l.dim }
func (l *localEmbedder) Model() string {
	if l.model == "" {
		return "local-hash"
	}
	return l.model
}

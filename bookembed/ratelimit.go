package bookembed

import (
	"context"

	"golang.org/x/time/rate"
)

// limitedEmbedder throttles calls to the wrapped backend. One token per
// HTTP round trip, so EmbedBatch counts as a single request regardless of
// batch size.
type limitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// RateLimited wraps e so at most perSecond requests reach the backend.
// Wait blocks until a token is available or ctx is done.
func RateLimited(e Embedder, perSecond float64) Embedder {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &limitedEmbedder{
		inner:   e,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *limitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Embed(ctx, text)
}

func (l *limitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedBatch(ctx, texts)
}

func (l *limitedEmbedder) Dimension() int { return l.inner.Dimension() }
func (l *limitedEmbedder) Model() string  { return l.inner.Model() }

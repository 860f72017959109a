// Package embed adapts an external multimodal embedding service. Text and
// images are embedded into one shared vector space, so text queries can
// retrieve image-indexed photos and vice versa. Both modalities go through
// a single request path; only the input variant differs.
package embed

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/pkg/resilience"
)

// Embedder produces fixed-length vectors for text or image input. Both
// operations must use the same model and dimensionality: the indexer and
// the query service share one Embedder so nearest-neighbor comparisons
// stay meaningful.
type Embedder interface {
	EmbedText(ctx context.Context, query string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte, mime string) ([]float32, error)
}

// Retryable reports whether an embedding error is safe to retry.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrEmbedUnavailable)
}

// Limited wraps an Embedder with a token-bucket rate limit on outbound
// calls. Waits (rather than rejects) until a token is available or the
// context is done.
func Limited(inner Embedder, rps float64, burst int) Embedder {
	return &limited{inner: inner, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limited struct {
	inner Embedder
	lim   *rate.Limiter
}

func (l *limited) EmbedText(ctx context.Context, query string) ([]float32, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedText(ctx, query)
}

func (l *limited) EmbedImage(ctx context.Context, data []byte, mime string) ([]float32, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.EmbedImage(ctx, data, mime)
}

// Guarded wraps an Embedder with a circuit breaker. While the breaker is
// open, calls fail fast with domain.ErrEmbedUnavailable. Caller validation
// errors (domain.ErrInvalidInput) do not count as breaker failures.
func Guarded(inner Embedder, breaker *resilience.Breaker) Embedder {
	return &guarded{inner: inner, breaker: breaker}
}

type guarded struct {
	inner   Embedder
	breaker *resilience.Breaker
}

func (g *guarded) call(ctx context.Context, f func(context.Context) ([]float32, error)) ([]float32, error) {
	var vec []float32
	var callErr error
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		vec, callErr = f(ctx)
		if errors.Is(callErr, domain.ErrInvalidInput) {
			// Bad input is the caller's fault, not a service failure.
			return nil
		}
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("circuit open: %w", domain.ErrEmbedUnavailable)
	}
	if callErr != nil {
		return nil, callErr
	}
	return vec, nil
}

func (g *guarded) EmbedText(ctx context.Context, query string) ([]float32, error) {
	return g.call(ctx, func(ctx context.Context) ([]float32, error) {
		return g.inner.EmbedText(ctx, query)
	})
}

func (g *guarded) EmbedImage(ctx context.Context, data []byte, mime string) ([]float32, error) {
	return g.call(ctx, func(ctx context.Context) ([]float32, error) {
		return g.inner.EmbedImage(ctx, data, mime)
	})
}

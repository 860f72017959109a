// Package search answers text and image similarity queries. A query is
// embedded with the same adapter the indexer used, so query vectors and
// indexed vectors share one space, then the vector store returns the
// top-K nearest photos.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/engine/embed"
	"github.com/StreetSeekAI/streetseek/engine/semantic"
	"github.com/StreetSeekAI/streetseek/pkg/fn"
)

// MaxTopK bounds response size and vector-store cost.
const MaxTopK = 100

// Searcher is the slice of the vector store the query service needs.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int) ([]semantic.Hit, error)
}

// Options configures the query service.
type Options struct {
	MaxTopK int           // defaults to MaxTopK
	Timeout time.Duration // per vector-store query, defaults to 10s
	Logger  *slog.Logger
}

// Service runs similarity queries. It holds no mutable state; concurrent
// calls are safe.
type Service struct {
	embed embed.Embedder
	store Searcher
	opts  Options
	log   *slog.Logger
}

// New creates a query service. The Embedder must be the same one (same
// model, same dimensionality) used at index time.
func New(e embed.Embedder, s Searcher, opts Options) *Service {
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = MaxTopK
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{embed: e, store: s, opts: opts, log: log}
}

// ByText returns the topK photos most similar to a text query. The query
// must be non-empty after trimming; topK must be positive and is clamped
// to MaxTopK. Both are checked before any outbound call.
func (s *Service) ByText(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	q, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	topK, err = domain.ValidateTopK(topK, s.opts.MaxTopK)
	if err != nil {
		return nil, err
	}

	vec, err := s.embed.EmbedText(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: embed text: %w", err)
	}
	return s.query(ctx, vec, topK)
}

// ByImage returns the topK photos most similar to an uploaded image.
func (s *Service) ByImage(ctx context.Context, data []byte, mime string, topK int) ([]domain.SearchResult, error) {
	if err := domain.ValidateImage(data, mime); err != nil {
		return nil, err
	}
	topK, err := domain.ValidateTopK(topK, s.opts.MaxTopK)
	if err != nil {
		return nil, err
	}

	vec, err := s.embed.EmbedImage(ctx, data, mime)
	if err != nil {
		return nil, fmt.Errorf("search: embed image: %w", err)
	}
	return s.query(ctx, vec, topK)
}

// query issues one vector-store search. Store failures are surfaced as
// ErrQueryFailed and never retried here; the caller decides.
func (s *Service) query(ctx context.Context, vec []float32, topK int) ([]domain.SearchResult, error) {
	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	hits, err := s.store.Query(qctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %v: %w", err, domain.ErrQueryFailed)
	}
	s.log.Debug("search: done", "hits", len(hits), "top_k", topK)
	return fn.Map(hits, resultFrom), nil
}

// resultFrom maps a store hit into a SearchResult, preserving rank order.
func resultFrom(h semantic.Hit) domain.SearchResult {
	return domain.SearchResult{
		Filename: h.Filename,
		Score:    h.Score,
		Lat:      h.Lat,
		Lon:      h.Lon,
		Heading:  h.Heading,
		Country:  h.Country,
		City:     h.City,
		Metadata: h.Meta,
	}
}

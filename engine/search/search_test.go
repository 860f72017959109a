package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/engine/semantic"
)

// vecEmbedder embeds text/images into tiny deterministic vectors.
type vecEmbedder struct {
	err       error
	lastText  string
	lastMIME  string
	textCalls int
}

func (e *vecEmbedder) EmbedText(_ context.Context, q string) ([]float32, error) {
	e.textCalls++
	e.lastText = q
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

func (e *vecEmbedder) EmbedImage(_ context.Context, data []byte, mime string) ([]float32, error) {
	e.lastMIME = mime
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0, 1}, nil
}

// rankedStore returns its hits truncated to topK, recording the request.
type rankedStore struct {
	hits      []semantic.Hit
	err       error
	lastTopK  int
	lastQuery []float32
}

func (s *rankedStore) Query(_ context.Context, vec []float32, topK int) ([]semantic.Hit, error) {
	s.lastQuery = vec
	s.lastTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	if topK < len(s.hits) {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func hitsDescending(n int) []semantic.Hit {
	hits := make([]semantic.Hit, n)
	for i := range hits {
		hits[i] = semantic.Hit{
			Filename: strings.Repeat("a", i+1) + ".jpg",
			Score:    1 - float32(i)*0.1,
			Lat:      37, Lon: -122, Heading: i,
		}
	}
	return hits
}

func TestByTextValidation(t *testing.T) {
	svc := New(&vecEmbedder{}, &rankedStore{}, Options{})
	ctx := context.Background()

	for _, q := range []string{"", "   "} {
		if _, err := svc.ByText(ctx, q, 5); !errors.Is(err, domain.ErrInvalidQuery) {
			t.Errorf("ByText(%q): expected ErrInvalidQuery, got %v", q, err)
		}
	}
	if _, err := svc.ByText(ctx, "street", 0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("top_k=0: expected ErrInvalidQuery, got %v", err)
	}
	if _, err := svc.ByText(ctx, "street", -1); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("top_k=-1: expected ErrInvalidQuery, got %v", err)
	}
}

func TestByTextNoOutboundCallOnBadInput(t *testing.T) {
	emb := &vecEmbedder{}
	store := &rankedStore{}
	svc := New(emb, store, Options{})

	_, _ = svc.ByText(context.Background(), "   ", 5)
	if emb.textCalls != 0 {
		t.Error("validation failure must not reach the embedding service")
	}
	if store.lastTopK != 0 {
		t.Error("validation failure must not reach the vector store")
	}
}

func TestByTextOrderingAndLimit(t *testing.T) {
	store := &rankedStore{hits: hitsDescending(10)}
	svc := New(&vecEmbedder{}, store, Options{})

	results, err := svc.ByText(context.Background(), "urban street scene", 5)
	if err != nil {
		t.Fatalf("ByText: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not in non-increasing score order at %d", i)
		}
	}
	if store.lastTopK != 5 {
		t.Errorf("store asked for top %d, want 5", store.lastTopK)
	}
}

func TestByTextClampsTopK(t *testing.T) {
	store := &rankedStore{hits: hitsDescending(3)}
	svc := New(&vecEmbedder{}, store, Options{MaxTopK: 100})

	if _, err := svc.ByText(context.Background(), "street", 5000); err != nil {
		t.Fatal(err)
	}
	if store.lastTopK != 100 {
		t.Errorf("store asked for top %d, want clamp to 100", store.lastTopK)
	}
}

func TestByTextTrimsQuery(t *testing.T) {
	emb := &vecEmbedder{}
	svc := New(emb, &rankedStore{}, Options{})
	if _, err := svc.ByText(context.Background(), "  harbor at dusk  ", 3); err != nil {
		t.Fatal(err)
	}
	if emb.lastText != "harbor at dusk" {
		t.Errorf("embedded query = %q", emb.lastText)
	}
}

func TestByTextEmbedFailurePropagates(t *testing.T) {
	svc := New(&vecEmbedder{err: domain.ErrEmbedUnavailable}, &rankedStore{}, Options{})
	if _, err := svc.ByText(context.Background(), "street", 5); !errors.Is(err, domain.ErrEmbedUnavailable) {
		t.Errorf("expected ErrEmbedUnavailable, got %v", err)
	}
}

func TestByTextStoreFailureIsQueryFailed(t *testing.T) {
	svc := New(&vecEmbedder{}, &rankedStore{err: errors.New("grpc unavailable")}, Options{})
	if _, err := svc.ByText(context.Background(), "street", 5); !errors.Is(err, domain.ErrQueryFailed) {
		t.Errorf("expected ErrQueryFailed, got %v", err)
	}
}

func TestByImage(t *testing.T) {
	store := &rankedStore{hits: []semantic.Hit{
		{Filename: "37.7749_-122.4194_92_n.jpg", Score: 0.93, Lat: 37.7749, Lon: -122.4194, Heading: 92, Country: "USA"},
		{Filename: "40.7128_-74.006_2_n.jpg", Score: 0.71},
	}}
	emb := &vecEmbedder{}
	svc := New(emb, store, Options{})

	results, err := svc.ByImage(context.Background(), []byte{0xff, 0xd8}, "image/jpeg", 2)
	if err != nil {
		t.Fatalf("ByImage: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Filename != "37.7749_-122.4194_92_n.jpg" {
		t.Errorf("best match = %q", results[0].Filename)
	}
	if results[0].Score != 0.93 || results[0].Country != "USA" {
		t.Errorf("result mapping lost fields: %+v", results[0])
	}
	if emb.lastMIME != "image/jpeg" {
		t.Errorf("mime = %q", emb.lastMIME)
	}
}

func TestByImageValidation(t *testing.T) {
	svc := New(&vecEmbedder{}, &rankedStore{}, Options{})
	ctx := context.Background()

	if _, err := svc.ByImage(ctx, nil, "image/jpeg", 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty payload: got %v", err)
	}
	if _, err := svc.ByImage(ctx, []byte{1}, "text/html", 5); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("bad mime: got %v", err)
	}
	if _, err := svc.ByImage(ctx, []byte{1}, "image/png", 0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("top_k=0: got %v", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/pkg/geo"
	"github.com/StreetSeekAI/streetseek/pkg/metrics"
)

// DefaultTopK applies when a request omits top_k.
const DefaultTopK = 10

// searcher is the slice of the query service the handlers need.
type searcher interface {
	ByText(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
	ByImage(ctx context.Context, data []byte, mime string, topK int) ([]domain.SearchResult, error)
}

// TextSearchRequest is the JSON body for POST /api/search/text.
type TextSearchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// PhotoResult is one search hit, enriched with map links.
type PhotoResult struct {
	domain.SearchResult
	MapsURL       string `json:"maps_url"`
	StreetViewURL string `json:"street_view_url"`
}

// SearchResponse is the JSON response for both search endpoints.
type SearchResponse struct {
	Results      []PhotoResult `json:"results"`
	QueryType    string        `json:"query_type"`
	Query        string        `json:"query,omitempty"`
	TotalResults int           `json:"total_results"`
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "streetseek",
		"message": "POST /api/search/text or /api/search/image",
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleTextSearch(svc searcher, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req TextSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		topK := DefaultTopK
		if req.TopK != nil {
			topK = *req.TopK
		}

		results, err := svc.ByText(r.Context(), req.Query, topK)
		if err != nil {
			writeSearchErr(w, reg, logger, "text", err)
			return
		}

		reg.Counter(metrics.WithLabels("search_total", "kind", "text")).Inc()
		reg.Histogram(metrics.WithLabels("search_seconds", "kind", "text"), nil).Since(start)
		writeResults(w, SearchResponse{
			Results:      enrich(results),
			QueryType:    "text",
			Query:        req.Query,
			TotalResults: len(results),
		})
	}
}

func handleImageSearch(svc searcher, maxUpload int64, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeErr(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "could not read uploaded file")
			return
		}
		mime := header.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}

		topK := DefaultTopK
		if v := r.FormValue("top_k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeErr(w, http.StatusBadRequest, "top_k must be an integer")
				return
			}
			topK = n
		}

		results, err := svc.ByImage(r.Context(), data, mime, topK)
		if err != nil {
			writeSearchErr(w, reg, logger, "image", err)
			return
		}

		reg.Counter(metrics.WithLabels("search_total", "kind", "image")).Inc()
		reg.Histogram(metrics.WithLabels("search_seconds", "kind", "image"), nil).Since(start)
		writeResults(w, SearchResponse{
			Results:      enrich(results),
			QueryType:    "image",
			TotalResults: len(results),
		})
	}
}

// enrich adds Google Maps deep links to each hit.
func enrich(results []domain.SearchResult) []PhotoResult {
	out := make([]PhotoResult, 0, len(results))
	for _, r := range results {
		out = append(out, PhotoResult{
			SearchResult:  r,
			MapsURL:       geo.MapsURL(r.Lat, r.Lon),
			StreetViewURL: geo.StreetViewURL(r.Lat, r.Lon, r.Heading),
		})
	}
	return out
}

func writeResults(w http.ResponseWriter, resp SearchResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeSearchErr maps service errors onto HTTP statuses: caller mistakes
// are 400, an unavailable embedding backend is 503, a failed vector-store
// query is 502.
func writeSearchErr(w http.ResponseWriter, reg *metrics.Registry, logger *slog.Logger, kind string, err error) {
	reg.Counter(metrics.WithLabels("search_errors_total", "kind", kind)).Inc()
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmbedUnavailable):
		logger.Error("embedding backend unavailable", "err", err)
		writeErr(w, http.StatusServiceUnavailable, "embedding service unavailable")
	case errors.Is(err, domain.ErrQueryFailed):
		logger.Error("vector store query failed", "err", err)
		writeErr(w, http.StatusBadGateway, "search backend error")
	default:
		logger.Error("search failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Package main implements the StreetSeek search API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/StreetSeekAI/streetseek/engine/embed"
	"github.com/StreetSeekAI/streetseek/engine/search"
	"github.com/StreetSeekAI/streetseek/engine/semantic"
	"github.com/StreetSeekAI/streetseek/pkg/metrics"
	"github.com/StreetSeekAI/streetseek/pkg/mid"
	"github.com/StreetSeekAI/streetseek/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	CohereURL   string
	CohereKey   string
	EmbedModel  string
	EmbedDims   int
	EmbedRPS    float64
	QdrantURL   string
	Collection  string
	CORSOrigins []string
	MaxUpload   int64 // bytes
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		Port:        envOr("PORT", "8080"),
		CohereURL:   envOr("COHERE_API_URL", "https://api.cohere.com"),
		CohereKey:   envOr("COHERE_API_KEY", ""),
		EmbedModel:  envOr("EMBED_MODEL", embed.DefaultModel),
		EmbedDims:   envInt("EMBED_DIMS", embed.DefaultDims),
		EmbedRPS:    envFloat("EMBED_RPS", 10),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "streetseek"),
		CORSOrigins: strings.Split(envOr("CORS_ORIGINS", "*"), ","),
		MaxUpload:   int64(envInt("MAX_UPLOAD_MB", 10)) << 20,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CohereKey == "" {
		return fmt.Errorf("COHERE_API_KEY is required")
	}
	logger.Info("config loaded", "config", cfg)

	// --- Embedding client, rate limited and circuit broken ---
	cohere := embed.NewCohereClient(embed.CohereConfig{
		BaseURL: cfg.CohereURL,
		APIKey:  cfg.CohereKey,
		Model:   cfg.EmbedModel,
		Dims:    cfg.EmbedDims,
	})
	embedder := embed.Guarded(
		embed.Limited(cohere, cfg.EmbedRPS, int(cfg.EmbedRPS)),
		resilience.NewBreaker(resilience.DefaultBreakerOpts),
	)

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Build query service ---
	svc := search.New(embedder, vectorStore, search.Options{Logger: logger})

	// --- Build HTTP server ---
	reg := metrics.New()
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(svc, cfg, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// newHandler wires routes and middleware.
func newHandler(svc searcher, cfg Config, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", handleRoot)
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/search/text", handleTextSearch(svc, reg, logger))
	mux.HandleFunc("POST /api/search/image", handleImageSearch(svc, cfg.MaxUpload, reg, logger))
	mux.Handle("GET /metrics", reg.Handler())

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigins),
		mid.OTel("streetseek-api"),
	)
}

func (c Config) String() string {
	// Redacts the API key in logs.
	return fmt.Sprintf("port=%s qdrant=%s collection=%s model=%s dims=%d",
		c.Port, c.QdrantURL, c.Collection, c.EmbedModel, c.EmbedDims)
}

// Package main implements the StreetSeek corpus indexer. It embeds a
// directory of geotagged Street View photos and upserts them into Qdrant,
// optionally staying alive to index photos announced over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/StreetSeekAI/streetseek/engine/embed"
	"github.com/StreetSeekAI/streetseek/engine/indexer"
	"github.com/StreetSeekAI/streetseek/engine/semantic"
	"github.com/StreetSeekAI/streetseek/pkg/resilience"
)

// Config collects flag and environment configuration.
type Config struct {
	Dir        string
	BatchSize  int
	Workers    int
	QdrantURL  string
	Collection string
	Country    string
	City       string
	Watch      bool
	NATSURL    string
	CohereURL  string
	CohereKey  string
	EmbedModel string
	EmbedDims  int
	EmbedRPS   float64
}

func loadConfig() Config {
	_ = godotenv.Load()

	var cfg Config
	flag.StringVar(&cfg.Dir, "dir", "", "directory of photos to index")
	flag.IntVar(&cfg.BatchSize, "batch", indexer.DefaultBatchSize, "photos per upsert batch")
	flag.IntVar(&cfg.Workers, "workers", 8, "concurrent embedding requests per batch")
	flag.StringVar(&cfg.QdrantURL, "qdrant", envOr("QDRANT_URL", "localhost:6334"), "qdrant gRPC address")
	flag.StringVar(&cfg.Collection, "collection", envOr("QDRANT_COLLECTION", "streetseek"), "qdrant collection")
	flag.StringVar(&cfg.Country, "country", "", "default country payload for photos without one")
	flag.StringVar(&cfg.City, "city", "", "default city payload for photos without one")
	flag.BoolVar(&cfg.Watch, "watch", false, "stay alive and index photos announced over NATS")
	flag.StringVar(&cfg.NATSURL, "nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.Parse()

	cfg.CohereURL = envOr("COHERE_API_URL", "https://api.cohere.com")
	cfg.CohereKey = os.Getenv("COHERE_API_KEY")
	cfg.EmbedModel = envOr("EMBED_MODEL", embed.DefaultModel)
	cfg.EmbedDims = envInt("EMBED_DIMS", embed.DefaultDims)
	cfg.EmbedRPS = envFloat("EMBED_RPS", 10)
	return cfg
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if cfg.Dir == "" && !cfg.Watch {
		fmt.Fprintln(os.Stderr, "usage: indexer -dir <photos> [-watch]")
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("indexer exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CohereKey == "" {
		return fmt.Errorf("COHERE_API_KEY is required")
	}

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

	store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	ix := indexer.New(embedder, store, indexer.Options{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Dims:      cohere.Dims(),
		Country:   cfg.Country,
		City:      cfg.City,
		Logger:    logger,
	})

	if cfg.Dir != "" {
		report, err := ix.Run(ctx, cfg.Dir)
		if err != nil {
			return err
		}
		logger.Info("index run complete",
			"indexed", report.Indexed,
			"skipped", report.Skipped,
			"batches", report.Batches,
			"failed", len(report.Failed),
		)
		for _, f := range report.Failed {
			logger.Warn("failed to index", "file", f)
		}
	}

	if !cfg.Watch {
		return nil
	}

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if err := store.EnsureCollection(ctx, cohere.Dims()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	sub, err := ix.Watch(ctx, nc)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", indexer.ScrapedSubject, err)
	}
	defer sub.Unsubscribe()

	logger.Info("watching for scraped photos", "subject", indexer.ScrapedSubject)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
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

// Package main implements the StreetSeek corpus scraper. It reads capture
// locations from a JSON file, downloads the four cardinal Street View
// headings for each, and optionally announces saved photos over NATS so a
// watching indexer picks them up.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/StreetSeekAI/streetseek/engine/indexer"
	"github.com/StreetSeekAI/streetseek/engine/scraper"
	"github.com/StreetSeekAI/streetseek/pkg/natsutil"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	var (
		pointsPath = flag.String("points", "", "JSON file with capture locations [{\"lat\":..,\"lon\":..},..]")
		outDir     = flag.String("out", "./photos", "directory to save images into")
		spacing    = flag.Float64("spacing", scraper.DefaultMinSpacing, "minimum meters between captured locations")
		announce   = flag.Bool("announce", false, "publish saved photos over NATS")
		natsURL    = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	)
	flag.Parse()

	if *pointsPath == "" {
		fmt.Fprintln(os.Stderr, "usage: scraper -points <locations.json> [-out dir] [-announce]")
		os.Exit(2)
	}

	if err := run(*pointsPath, *outDir, *spacing, *announce, *natsURL, logger); err != nil {
		logger.Error("scraper exited with error", "err", err)
		os.Exit(1)
	}
}

func run(pointsPath, outDir string, spacing float64, announce bool, natsURL string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	locations, err := loadLocations(pointsPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	s, err := scraper.New(scraper.Options{
		APIKey:     os.Getenv("MAPS_API_KEY"),
		OutDir:     outDir,
		MinSpacing: spacing,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if announce {
		nc, err = nats.Connect(natsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	logger.Info("scrape starting", "locations", len(locations), "out", outDir)

	var saved, skipped int
	for res := range s.Scrape(ctx, locations) {
		photo, err := res.Unwrap()
		if err != nil {
			skipped++
			logger.Debug("capture skipped", "reason", err)
			continue
		}
		saved++
		logger.Info("saved", "file", photo.Filename, "pano", photo.PanoID)

		if nc != nil {
			msg := indexer.ScrapedPhoto{Filename: photo.Filename, Path: photo.Path}
			if err := natsutil.Publish(ctx, nc, indexer.ScrapedSubject, msg); err != nil {
				logger.Error("announce failed", "file", photo.Filename, "err", err)
			}
		}
	}

	logger.Info("scrape complete", "saved", saved, "skipped", skipped)
	return ctx.Err()
}

// loadLocations reads the capture list from a JSON file.
func loadLocations(path string) ([]scraper.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points file: %w", err)
	}
	var locations []scraper.Location
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("parse points file: %w", err)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("points file %s has no locations", path)
	}
	return locations, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

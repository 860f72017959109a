// Package indexer populates the vector store from a directory of geotagged
// street-level photos. Each file's metadata comes from its filename, its
// embedding from the embedding service, and records are upserted in fixed
// size batches so a re-run overwrites rather than duplicates.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/engine/embed"
	"github.com/StreetSeekAI/streetseek/engine/geotag"
	"github.com/StreetSeekAI/streetseek/pkg/fn"
)

// DefaultBatchSize keeps one upsert within the embedding and vector-store
// APIs' practical request-size limits.
const DefaultBatchSize = 96

// Store is the slice of the vector store the indexer needs.
type Store interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []domain.PhotoRecord) error
}

// Options configures an indexing run.
type Options struct {
	BatchSize int // records per upsert, default DefaultBatchSize
	Workers   int // concurrent embed calls within a batch, default 8
	Dims      int // embedding dimensionality, default embed.DefaultDims
	Country   string // applied to records whose filename lacks one
	City      string
	Retry     fn.RetryOpts
	Logger    *slog.Logger
}

// Indexer runs the batch indexing pipeline.
type Indexer struct {
	embed embed.Embedder
	store Store
	opts  Options
	log   *slog.Logger
}

// Report summarizes an indexing run.
type Report struct {
	Indexed int      // records successfully upserted
	Skipped int      // files skipped for malformed filenames
	Batches int      // upsert calls issued
	Failed  []string // filenames that failed embedding or whose batch upsert exhausted retries
}

// New creates an Indexer.
func New(e embed.Embedder, s Store, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Dims <= 0 {
		opts.Dims = embed.DefaultDims
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 10 * time.Second, Jitter: true}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{embed: e, store: s, opts: opts, log: log}
}

// photoFile is one enumerated corpus file with its parsed metadata.
type photoFile struct {
	name string
	path string
	meta domain.PhotoMeta
}

// batchOutcome carries a batch through the embed and upsert stages.
type batchOutcome struct {
	records []domain.PhotoRecord
	failed  []string
	indexed int
	upserts int
}

var imageMIMEs = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Run indexes every image in dir. Only a missing source directory or an
// unusable collection aborts the run; malformed filenames are skipped and
// failed batches are reported while the rest of the corpus proceeds.
// Enumeration is lexicographic, so batch membership is deterministic.
func (ix *Indexer) Run(ctx context.Context, dir string) (Report, error) {
	var rep Report

	if err := ix.store.EnsureCollection(ctx, ix.opts.Dims); err != nil {
		return rep, fmt.Errorf("indexer: ensure collection: %w", err)
	}

	entries, err := os.ReadDir(dir) // sorted by filename
	if err != nil {
		return rep, fmt.Errorf("indexer: read source directory: %w", err)
	}

	var files []photoFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := imageMIMEs[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		meta, err := geotag.Parse(name)
		if err != nil {
			rep.Skipped++
			ix.log.Warn("indexer: skipping file", "file", name, "error", err)
			continue
		}
		if meta.Country == "" {
			meta.Country = ix.opts.Country
		}
		if meta.City == "" {
			meta.City = ix.opts.City
		}
		files = append(files, photoFile{name: name, path: filepath.Join(dir, name), meta: meta})
	}

	ix.log.Info("indexer: run start", "dir", dir, "files", len(files), "skipped", rep.Skipped, "batch_size", ix.opts.BatchSize)

	pipe := fn.Then(
		fn.TracedStage("index.embed_batch", ix.embedBatch),
		fn.TracedStage("index.upsert_batch", ix.upsertBatch),
	)

	for _, batch := range fn.Chunk(files, ix.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		out, err := pipe(ctx, batch).Unwrap()
		if err != nil {
			return rep, err
		}
		rep.Indexed += out.indexed
		rep.Failed = append(rep.Failed, out.failed...)
		rep.Batches += out.upserts
	}

	ix.log.Info("indexer: run done", "indexed", rep.Indexed, "skipped", rep.Skipped, "batches", rep.Batches, "failed", len(rep.Failed))
	return rep, nil
}

// embedBatch embeds a batch's files with bounded concurrency. Individual
// failures are collected, not fatal.
func (ix *Indexer) embedBatch(ctx context.Context, files []photoFile) fn.Result[batchOutcome] {
	results := fn.ParMapResult(files, ix.opts.Workers, func(f photoFile) fn.Result[domain.PhotoRecord] {
		return ix.embedOne(ctx, f)
	})

	var out batchOutcome
	for i, r := range results {
		rec, err := r.Unwrap()
		if err != nil {
			ix.log.Warn("indexer: embed failed", "file", files[i].name, "error", err)
			out.failed = append(out.failed, files[i].name)
			continue
		}
		out.records = append(out.records, rec)
	}
	return fn.Ok(out)
}

// embedOne reads a file and requests its embedding, retrying transient
// service failures.
func (ix *Indexer) embedOne(ctx context.Context, f photoFile) fn.Result[domain.PhotoRecord] {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fn.Errf[domain.PhotoRecord]("read %s: %w", f.name, err)
	}

	mime := imageMIMEs[strings.ToLower(filepath.Ext(f.name))]
	res := fn.RetryIf(ctx, ix.opts.Retry, embed.Retryable, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(ix.embed.EmbedImage(ctx, data, mime))
	})
	vec, err := res.Unwrap()
	if err != nil {
		return fn.Errf[domain.PhotoRecord]("embed %s: %w", f.name, err)
	}
	return fn.Ok(domain.PhotoRecord{Filename: f.name, Meta: f.meta, Embedding: vec})
}

// upsertBatch writes a batch's surviving records, retrying the whole batch
// on failure. An exhausted batch marks its ids failed and the run goes on.
func (ix *Indexer) upsertBatch(ctx context.Context, b batchOutcome) fn.Result[batchOutcome] {
	if len(b.records) == 0 {
		return fn.Ok(b)
	}
	b.upserts = 1

	res := fn.Retry(ctx, ix.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, ix.store.Upsert(ctx, b.records))
	})
	if _, err := res.Unwrap(); err != nil {
		ix.log.Error("indexer: batch upsert failed", "size", len(b.records), "error", err)
		for _, r := range b.records {
			b.failed = append(b.failed, r.Filename)
		}
		return fn.Ok(b)
	}
	b.indexed = len(b.records)
	return fn.Ok(b)
}

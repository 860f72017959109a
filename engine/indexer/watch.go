package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/engine/geotag"
	"github.com/StreetSeekAI/streetseek/pkg/natsutil"
)

const (
	// ScrapedSubject carries announcements of newly saved corpus photos.
	ScrapedSubject = "photos.scraped"
	// ScrapedDLQSubject receives photos that failed indexing repeatedly.
	ScrapedDLQSubject = "photos.scraped.dlq"
	// MaxWatchRetries before a photo is sent to the DLQ.
	MaxWatchRetries = 3

	retryHeader = "X-Retry-Count"
)

// ScrapedPhoto announces a photo saved by the scraper.
type ScrapedPhoto struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Photo   ScrapedPhoto `json:"photo"`
	Error   string       `json:"error"`
	Retries int          `json:"retries"`
}

// Watch subscribes to scraper announcements and indexes photos one at a
// time as they arrive. Failures are redelivered with a retry counter, then
// dead-lettered. The collection must already exist. Canceling ctx bounds
// in-flight embed and upsert work; the subscription itself is the
// caller's to unsubscribe.
func (ix *Indexer) Watch(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	return nc.Subscribe(ScrapedSubject, func(msg *nats.Msg) {
		var photo ScrapedPhoto
		if err := json.Unmarshal(msg.Data, &photo); err != nil {
			ix.log.Error("watch: unmarshal failed", "error", err)
			return
		}

		if err := ix.IndexOne(ctx, photo); err != nil {
			retries := nextRetry(msg)
			ix.log.Error("watch: index failed", "file", photo.Filename, "retry", retries, "error", err)

			if retries >= MaxWatchRetries {
				dlq := dlqMessage{Photo: photo, Error: err.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, ScrapedDLQSubject, dlq); err != nil {
					ix.log.Error("watch: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(ScrapedSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header.Set(retryHeader, strconv.Itoa(retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				ix.log.Error("watch: retry publish failed", "error", err)
			}
		}
	})
}

// nextRetry returns the retry count this delivery represents: 1 for a
// first delivery, the incremented header value for a redelivery.
func nextRetry(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	v := msg.Header.Get(retryHeader)
	if v == "" {
		return 1
	}
	n, _ := strconv.Atoi(v)
	return n + 1
}

// IndexOne embeds and upserts a single announced photo. A malformed
// filename is skipped with a warning, not an error, matching the batch
// path's partial-failure tolerance.
func (ix *Indexer) IndexOne(ctx context.Context, photo ScrapedPhoto) error {
	meta, err := geotag.Parse(photo.Filename)
	if err != nil {
		ix.log.Warn("watch: skipping file", "file", photo.Filename, "error", err)
		return nil
	}
	if meta.Country == "" {
		meta.Country = ix.opts.Country
	}
	if meta.City == "" {
		meta.City = ix.opts.City
	}

	rec, err := ix.embedOne(ctx, photoFile{name: photo.Filename, path: photo.Path, meta: meta}).Unwrap()
	if err != nil {
		return err
	}
	if err := ix.store.Upsert(ctx, []domain.PhotoRecord{rec}); err != nil {
		return fmt.Errorf("upsert %s: %w", photo.Filename, err)
	}
	ix.log.Info("watch: indexed", "file", photo.Filename)
	return nil
}

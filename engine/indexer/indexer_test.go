package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/pkg/fn"
)

// fakeEmbedder returns a small vector derived from the payload, failing
// for configured payloads.
type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	failWith map[string]error // payload content -> error
	flaky    int              // fail this many leading calls with a transient error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, q string) ([]float32, error) {
	return []float32{float32(len(q)), 0, 1}, nil
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, data []byte, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.flaky > 0 {
		f.flaky--
		return nil, fmt.Errorf("transient: %w", domain.ErrEmbedUnavailable)
	}
	if err, ok := f.failWith[string(data)]; ok {
		return nil, err
	}
	return []float32{float32(len(data)), 1, 2}, nil
}

// fakeStore records upserts keyed by filename, optionally failing batches
// that contain a given filename.
type fakeStore struct {
	mu          sync.Mutex
	ensured     int
	upsertSizes []int
	records     map[string]domain.PhotoRecord
	failFor     string // fail any upsert containing this filename
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.PhotoRecord)}
}

func (s *fakeStore) EnsureCollection(_ context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, records []domain.PhotoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertSizes = append(s.upsertSizes, len(records))
	for _, r := range records {
		if r.Filename == s.failFor {
			return errors.New("store down")
		}
	}
	for _, r := range records {
		s.records[r.Filename] = r
	}
	return nil
}

func fastRetry() fn.RetryOpts {
	return fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

// writeCorpus creates n valid photo files named <lat>_<lon>_<heading>_<i>.jpg.
func writeCorpus(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%d.%04d_-122.4_%d_%d.jpg", 37, i, i%360, i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestIndexer(e *fakeEmbedder, s *fakeStore) *Indexer {
	return New(e, s, Options{BatchSize: 96, Workers: 4, Dims: 3, Retry: fastRetry()})
}

func TestRunBatching(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 200)
	store := newFakeStore()
	ix := newTestIndexer(&fakeEmbedder{}, store)

	rep, err := ix.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Indexed != 200 || rep.Skipped != 0 || len(rep.Failed) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if rep.Batches != 3 {
		t.Errorf("expected 3 upsert calls, got %d", rep.Batches)
	}
	want := []int{96, 96, 8}
	if len(store.upsertSizes) != len(want) {
		t.Fatalf("upsert sizes = %v", store.upsertSizes)
	}
	for i, n := range want {
		if store.upsertSizes[i] != n {
			t.Errorf("upsert %d size = %d, want %d", i, store.upsertSizes[i], n)
		}
	}
	if store.ensured != 1 {
		t.Errorf("EnsureCollection called %d times", store.ensured)
	}
}

func TestRunSkipsMalformedFilenames(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 5)
	for _, bad := range []string{"IMG_1234.jpg", "holiday.png"} {
		if err := os.WriteFile(filepath.Join(dir, bad), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-image files are ignored entirely, not counted as skipped.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	rep, err := newTestIndexer(&fakeEmbedder{}, store).Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", rep.Skipped)
	}
	if rep.Indexed != 5 {
		t.Errorf("indexed = %d, want 5", rep.Indexed)
	}
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 10)
	store := newFakeStore()
	ix := newTestIndexer(&fakeEmbedder{}, store)
	ctx := context.Background()

	if _, err := ix.Run(ctx, dir); err != nil {
		t.Fatal(err)
	}
	first := make(map[string]domain.PhotoRecord, len(store.records))
	for k, v := range store.records {
		first[k] = v
	}

	if _, err := ix.Run(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if len(store.records) != 10 {
		t.Errorf("expected 10 distinct records after re-run, got %d", len(store.records))
	}
	for k, v := range store.records {
		prev, ok := first[k]
		if !ok {
			t.Fatalf("unexpected new record %s", k)
		}
		if prev.Meta != v.Meta || len(prev.Embedding) != len(v.Embedding) {
			t.Errorf("record %s changed between runs", k)
		}
		for i := range prev.Embedding {
			if prev.Embedding[i] != v.Embedding[i] {
				t.Errorf("record %s embedding changed", k)
				break
			}
		}
	}
}

func TestRunIsolatesFailedBatch(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 10)
	store := newFakeStore()
	store.failFor = "37.0000_-122.4_0_0.jpg" // first batch poisoned

	ix := New(&fakeEmbedder{}, store, Options{BatchSize: 4, Workers: 2, Dims: 3, Retry: fastRetry()})
	rep, err := ix.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("a failed batch must not abort the run: %v", err)
	}
	if len(rep.Failed) != 4 {
		t.Errorf("failed = %v, want the 4 ids of the poisoned batch", rep.Failed)
	}
	if rep.Indexed != 6 {
		t.Errorf("indexed = %d, want 6 from the surviving batches", rep.Indexed)
	}
	if rep.Batches != 3 {
		t.Errorf("batches = %d, want 3", rep.Batches)
	}
}

func TestRunIsolatesFailedEmbedding(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 6)
	badName := "37.0002_-122.4_2_2.jpg"
	emb := &fakeEmbedder{failWith: map[string]error{
		badName: fmt.Errorf("bad pixels: %w", domain.ErrInvalidInput),
	}}
	store := newFakeStore()

	rep, err := newTestIndexer(emb, store).Run(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != badName {
		t.Errorf("failed = %v, want [%s]", rep.Failed, badName)
	}
	if rep.Indexed != 5 {
		t.Errorf("indexed = %d, want 5", rep.Indexed)
	}
	if store.upsertSizes[0] != 5 {
		t.Errorf("upsert size = %v, failed file should be excluded", store.upsertSizes)
	}
}

func TestRunRetriesTransientEmbedFailure(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, 1)
	emb := &fakeEmbedder{flaky: 2}
	store := newFakeStore()

	rep, err := newTestIndexer(emb, store).Run(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Indexed != 1 || len(rep.Failed) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if emb.calls != 3 {
		t.Errorf("expected 3 embed attempts, got %d", emb.calls)
	}
}

func TestRunMissingDirFails(t *testing.T) {
	store := newFakeStore()
	if _, err := newTestIndexer(&fakeEmbedder{}, store).Run(context.Background(), "/does/not/exist"); err == nil {
		t.Fatal("expected error for missing source directory")
	}
}

func TestIndexOne(t *testing.T) {
	dir := t.TempDir()
	name := "37.7749_-122.4194_92_p.jpg"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := newFakeStore()
	ix := newTestIndexer(&fakeEmbedder{}, store)

	if err := ix.IndexOne(context.Background(), ScrapedPhoto{Filename: name, Path: path}); err != nil {
		t.Fatalf("IndexOne: %v", err)
	}
	rec, ok := store.records[name]
	if !ok {
		t.Fatal("record not stored")
	}
	if rec.Meta.Lat != 37.7749 || rec.Meta.Heading != 92 {
		t.Errorf("meta = %+v", rec.Meta)
	}
}

func TestNextRetryCounting(t *testing.T) {
	if got := nextRetry(&nats.Msg{}); got != 1 {
		t.Errorf("first delivery = %d, want 1", got)
	}

	msg := nats.NewMsg(ScrapedSubject)
	if got := nextRetry(msg); got != 1 {
		t.Errorf("empty header = %d, want 1", got)
	}

	msg.Header.Set("X-Retry-Count", "2")
	if got := nextRetry(msg); got != 3 {
		t.Errorf("redelivery after 2 = %d, want 3", got)
	}
	if got := nextRetry(msg); got < MaxWatchRetries {
		t.Errorf("count %d should reach the dead-letter threshold %d", got, MaxWatchRetries)
	}
}

func TestIndexOneSkipsMalformed(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(&fakeEmbedder{}, store)
	if err := ix.IndexOne(context.Background(), ScrapedPhoto{Filename: "IMG_1.jpg", Path: "/nope"}); err != nil {
		t.Fatalf("malformed filename should be skipped, got %v", err)
	}
	if len(store.records) != 0 {
		t.Error("nothing should be stored")
	}
}

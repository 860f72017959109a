// Package scraper collects Street View photos for the search corpus. It
// checks pano availability through the metadata endpoint before spending
// quota on an image fetch, and skips locations too close to photos that
// are already on disk.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/StreetSeekAI/streetseek/engine/domain"
	"github.com/StreetSeekAI/streetseek/engine/geotag"
	"github.com/StreetSeekAI/streetseek/pkg/fn"
	"github.com/StreetSeekAI/streetseek/pkg/geo"
)

// DefaultBaseURL is the Street View Static API root.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/streetview"

// DefaultImageSize is the requested image resolution.
const DefaultImageSize = "640x640"

// DefaultMinSpacing is how far (meters) a new photo must be from every
// existing one before it is worth fetching.
const DefaultMinSpacing = 50.0

// CardinalHeadings are the four headings captured per location, offset 2
// degrees from true cardinal.
var CardinalHeadings = []int{2, 92, 182, 272}

// ErrNoImagery means the metadata endpoint reported no pano at the
// location.
var ErrNoImagery = errors.New("no street view imagery at location")

// Location is a capture target. Each location yields up to four photos,
// one per cardinal heading.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is one capture, a location plus heading.
type Point struct {
	Lat     float64
	Lon     float64
	Heading int
}

// Expand returns the four cardinal capture points for a location.
func Expand(loc Location) []Point {
	pts := make([]Point, 0, len(CardinalHeadings))
	for _, h := range CardinalHeadings {
		pts = append(pts, Point{Lat: loc.Lat, Lon: loc.Lon, Heading: h})
	}
	return pts
}

// Photo is a saved corpus image.
type Photo struct {
	Filename string
	Path     string
	Meta     domain.PhotoMeta
	PanoID   string
	Date     string
}

// Options configures a StreetViewScraper.
type Options struct {
	APIKey     string
	BaseURL    string  // defaults to DefaultBaseURL
	OutDir     string  // where images are written
	MinSpacing float64 // meters, defaults to DefaultMinSpacing
	Retry      fn.RetryOpts
	Logger     *slog.Logger
}

// StreetViewScraper fetches and saves Street View images.
type StreetViewScraper struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	mu   sync.Mutex
	seen []domain.PhotoMeta // coords already on disk or fetched this run
}

// New creates a scraper and seeds its dedup set from images already in
// OutDir.
func New(opts Options) (*StreetViewScraper, error) {
	if opts.APIKey == "" {
		return nil, errors.New("scraper: API key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = DefaultMinSpacing
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.DefaultRetry
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &StreetViewScraper{
		opts:    opts,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		log:     log,
	}
	if opts.OutDir != "" {
		s.seen = existingCoords(opts.OutDir)
		log.Info("scraper: seeded dedup set", "existing", len(s.seen))
	}
	return s, nil
}

// existingCoords parses coordinates out of the filenames already in dir.
// Unparseable names are ignored.
func existingCoords(dir string) []domain.PhotoMeta {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var coords []domain.PhotoMeta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		meta, err := geotag.Parse(e.Name())
		if err != nil {
			continue
		}
		coords = append(coords, meta)
	}
	return coords
}

// tooClose reports whether a location is within MinSpacing meters of any
// already captured coordinate.
func (s *StreetViewScraper) tooClose(lat, lon float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.seen {
		if geo.Haversine(lat, lon, c.Lat, c.Lon) < s.opts.MinSpacing {
			return true
		}
	}
	return false
}

func (s *StreetViewScraper) markSeen(lat, lon float64) {
	s.mu.Lock()
	s.seen = append(s.seen, domain.PhotoMeta{Lat: lat, Lon: lon})
	s.mu.Unlock()
}

// metadataResponse is the Street View metadata API response.
type metadataResponse struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Date     string `json:"date"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

func (s *StreetViewScraper) params(p Point) url.Values {
	return url.Values{
		"size":     {DefaultImageSize},
		"fov":      {"90"},
		"pitch":    {"0"},
		"location": {fmt.Sprintf("%g,%g", p.Lat, p.Lon)},
		"heading":  {strconv.Itoa(p.Heading)},
		"key":      {s.opts.APIKey},
	}
}

// metadata checks pano availability at a point. The metadata endpoint is
// free of image quota, so it always runs before a fetch.
func (s *StreetViewScraper) metadata(ctx context.Context, p Point) (metadataResponse, error) {
	var md metadataResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.opts.BaseURL+"/metadata?"+s.params(p).Encode(), nil)
	if err != nil {
		return md, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return md, fmt.Errorf("metadata fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return md, fmt.Errorf("metadata fetch: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return md, fmt.Errorf("metadata decode: %w", err)
	}
	if md.Status != "OK" || md.PanoID == "" {
		return md, fmt.Errorf("%w: status %s", ErrNoImagery, md.Status)
	}
	return md, nil
}

// Fetch downloads and saves the image for a point. The saved filename
// carries the pano's snapped coordinates, the heading, and the pano ID, so
// re-running the scraper over the same area is idempotent. Spacing dedup
// happens at the location level in Scrape, not here.
func (s *StreetViewScraper) Fetch(ctx context.Context, p Point) fn.Result[Photo] {
	if err := s.limiter.Wait(ctx); err != nil {
		return fn.Err[Photo](err)
	}

	md, err := s.metadata(ctx, p)
	if err != nil {
		return fn.Err[Photo](err)
	}

	meta := domain.PhotoMeta{Lat: md.Location.Lat, Lon: md.Location.Lng, Heading: p.Heading}
	filename := geotag.Encode(meta) + "_" + md.PanoID + ".jpg"
	path := filepath.Join(s.opts.OutDir, filename)
	if _, err := os.Stat(path); err == nil {
		return fn.Errf[Photo]("skip %s: already on disk", filename)
	}

	img, err := fn.RetryIf(ctx, s.opts.Retry, transient, func(ctx context.Context) fn.Result[[]byte] {
		return fn.FromPair(s.fetchImage(ctx, p))
	}).Unwrap()
	if err != nil {
		return fn.Err[Photo](err)
	}

	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fn.Err[Photo](fmt.Errorf("save %s: %w", filename, err))
	}

	return fn.Ok(Photo{
		Filename: filename,
		Path:     path,
		Meta:     meta,
		PanoID:   md.PanoID,
		Date:     md.Date,
	})
}

func (s *StreetViewScraper) fetchImage(ctx context.Context, p Point) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.opts.BaseURL+"?"+s.params(p).Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &transientError{fmt.Errorf("image fetch: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// transientError marks a failure worth retrying.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// ScrapeLocation captures all four cardinal headings for a location. A
// location within MinSpacing of an already captured coordinate yields a
// single skip error instead of four fetches.
func (s *StreetViewScraper) ScrapeLocation(ctx context.Context, loc Location) []fn.Result[Photo] {
	if s.tooClose(loc.Lat, loc.Lon) {
		return []fn.Result[Photo]{
			fn.Errf[Photo]("skip %g,%g: within %gm of existing photo", loc.Lat, loc.Lon, s.opts.MinSpacing),
		}
	}

	results := make([]fn.Result[Photo], 0, len(CardinalHeadings))
	captured := false
	for _, p := range Expand(loc) {
		if ctx.Err() != nil {
			break
		}
		r := s.Fetch(ctx, p)
		if r.IsOk() {
			captured = true
		}
		results = append(results, r)
	}
	if captured {
		s.markSeen(loc.Lat, loc.Lon)
	}
	return results
}

// Scrape works through locations and streams per-heading results on a
// channel. Skipped and imagery-less captures surface as errors so callers
// can count them; the channel closes when every location has been
// attempted or the context is canceled.
func (s *StreetViewScraper) Scrape(ctx context.Context, locations []Location) <-chan fn.Result[Photo] {
	ch := make(chan fn.Result[Photo], 32)
	go func() {
		defer close(ch)
		for _, loc := range locations {
			if ctx.Err() != nil {
				return
			}
			for _, r := range s.ScrapeLocation(ctx, loc) {
				ch <- r
			}
		}
	}()
	return ch
}

// Package domain defines the core types, error taxonomy, and validation
// shared by the indexing and search paths. It is the validation gate: bad
// input is rejected here before any outbound call is made.
package domain

// PhotoMeta is the geolocation metadata encoded in a photo's filename.
type PhotoMeta struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Heading int     `json:"heading"`
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
}

// PhotoRecord is one indexed photograph: its identity (the source
// filename, unique across the corpus), its metadata, and the embedding
// produced at index time. The embedding is immutable after indexing;
// re-indexing the same filename overwrites the whole record.
type PhotoRecord struct {
	Filename  string
	Meta      PhotoMeta
	Embedding []float32
}

// SearchResult is one ranked match returned to a caller. Score is cosine
// similarity in [-1, 1], higher is more similar.
type SearchResult struct {
	Filename string            `json:"filename"`
	Score    float32           `json:"score"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Heading  int               `json:"heading"`
	Country  string            `json:"country"`
	City     string            `json:"city,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AllowedImageMIMEs is the set of image content types the embedding
// service accepts as data URIs.
var AllowedImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

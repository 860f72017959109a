package semantic

// Hit is a single vector search match. Score is Qdrant cosine similarity
// in [-1, 1]; results arrive ranked best-first.
type Hit struct {
	Filename string            `json:"filename"`
	Score    float32           `json:"score"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Heading  int               `json:"heading"`
	Country  string            `json:"country"`
	City     string            `json:"city,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/StreetSeekAI/streetseek/engine/domain"
)

const (
	// DefaultModel is Cohere's multimodal embedding model.
	DefaultModel = "embed-v4.0"
	// DefaultDims is the output dimensionality requested from the model.
	DefaultDims = 1024

	inputTypeQuery = "search_query"
	inputTypeImage = "image"
)

// CohereConfig configures the Cohere embedding client.
type CohereConfig struct {
	BaseURL string // e.g. https://api.cohere.com
	APIKey  string
	Model   string        // defaults to DefaultModel
	Dims    int           // defaults to DefaultDims
	Timeout time.Duration // per-call bound, defaults to 30s
}

// CohereClient calls Cohere's /v2/embed endpoint for both text and image
// input.
type CohereClient struct {
	cfg    CohereConfig
	client *http.Client
}

// NewCohereClient creates a Cohere embedding client.
func NewCohereClient(cfg CohereConfig) *CohereClient {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dims <= 0 {
		cfg.Dims = DefaultDims
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CohereClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dims returns the configured output dimensionality.
func (c *CohereClient) Dims() int { return c.cfg.Dims }

type cohereEmbedReq struct {
	Model           string   `json:"model"`
	InputType       string   `json:"input_type"`
	EmbeddingTypes  []string `json:"embedding_types"`
	OutputDimension int      `json:"output_dimension"`
	Texts           []string `json:"texts,omitempty"`
	Images          []string `json:"images,omitempty"`
}

type cohereEmbedResp struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

// EmbedText embeds a search query string.
func (c *CohereClient) EmbedText(ctx context.Context, query string) ([]float32, error) {
	q, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, fmt.Errorf("empty text: %w", domain.ErrInvalidInput)
	}
	return c.embed(ctx, cohereEmbedReq{
		Model:           c.cfg.Model,
		InputType:       inputTypeQuery,
		EmbeddingTypes:  []string{"float"},
		OutputDimension: c.cfg.Dims,
		Texts:           []string{q},
	})
}

// EmbedImage embeds raw image bytes, sent as a base64 data URI.
func (c *CohereClient) EmbedImage(ctx context.Context, data []byte, mime string) ([]float32, error) {
	if err := domain.ValidateImage(data, mime); err != nil {
		return nil, err
	}
	return c.embed(ctx, cohereEmbedReq{
		Model:           c.cfg.Model,
		InputType:       inputTypeImage,
		EmbeddingTypes:  []string{"float"},
		OutputDimension: c.cfg.Dims,
		Images:          []string{DataURI(data, mime)},
	})
}

// DataURI encodes image bytes as a data URI for the embed API.
func DataURI(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (c *CohereClient) embed(ctx context.Context, payload cohereEmbedReq) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %v: %w", err, domain.ErrEmbedUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("embed: status %d: %s: %w", resp.StatusCode, snippet, domain.ErrEmbedUnavailable)
		}
		return nil, fmt.Errorf("embed: status %d: %s: %w", resp.StatusCode, snippet, domain.ErrInvalidInput)
	}

	var result cohereEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(result.Embeddings.Float) == 0 {
		return nil, fmt.Errorf("embed: empty response: %w", domain.ErrEmbedUnavailable)
	}

	vec := result.Embeddings.Float[0]
	if len(vec) != c.cfg.Dims {
		return nil, fmt.Errorf("embed: got %d dims, want %d", len(vec), c.cfg.Dims)
	}
	return vec, nil
}

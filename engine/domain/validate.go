package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateMeta checks coordinate and heading ranges.
func ValidateMeta(m PhotoMeta) error {
	if m.Lat < -90 || m.Lat > 90 {
		return NewValidationError("lat", strconv.FormatFloat(m.Lat, 'f', -1, 64), ErrMalformedFilename)
	}
	if m.Lon < -180 || m.Lon > 180 {
		return NewValidationError("lon", strconv.FormatFloat(m.Lon, 'f', -1, 64), ErrMalformedFilename)
	}
	if m.Heading < 0 || m.Heading >= 360 {
		return NewValidationError("heading", strconv.Itoa(m.Heading), ErrMalformedFilename)
	}
	return nil
}

// ValidateQuery rejects queries that are empty after trimming whitespace.
// Returns the trimmed query on success.
func ValidateQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", NewValidationError("query", query, ErrInvalidQuery)
	}
	return q, nil
}

// ValidateTopK rejects non-positive top_k and clamps values above max.
func ValidateTopK(topK, max int) (int, error) {
	if topK <= 0 {
		return 0, NewValidationError("top_k", strconv.Itoa(topK), ErrInvalidQuery)
	}
	if max > 0 && topK > max {
		return max, nil
	}
	return topK, nil
}

// ValidateImage checks that the payload is non-empty and the content type
// is one the embedding service accepts.
func ValidateImage(data []byte, mime string) error {
	if len(data) == 0 {
		return NewValidationError("image", "", ErrInvalidInput)
	}
	if !AllowedImageMIMEs[strings.ToLower(mime)] {
		return fmt.Errorf("unsupported content type %q: %w", mime, ErrInvalidInput)
	}
	return nil
}

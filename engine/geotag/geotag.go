// Package geotag parses the geolocation metadata encoded in street-level
// photo filenames. The corpus convention is
//
//	<lat>_<lon>_<heading>[_extra...].<ext>
//
// e.g. "37.7749_-122.4194_92_pano123.jpg". Fields after the heading are
// ignored; the extension is ignored.
package geotag

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/StreetSeekAI/streetseek/engine/domain"
)

// Parse extracts lat/lon/heading from a filename. The path component and
// extension are stripped first. Fails with domain.ErrMalformedFilename when
// the name does not split into at least three parseable numeric fields or
// the values are out of range.
func Parse(filename string) (domain.PhotoMeta, error) {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return domain.PhotoMeta{}, fmt.Errorf("%q: want at least lat_lon_heading: %w", base, domain.ErrMalformedFilename)
	}

	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return domain.PhotoMeta{}, fmt.Errorf("%q: lat %q: %w", base, parts[0], domain.ErrMalformedFilename)
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return domain.PhotoMeta{}, fmt.Errorf("%q: lon %q: %w", base, parts[1], domain.ErrMalformedFilename)
	}
	heading, err := strconv.Atoi(parts[2])
	if err != nil {
		return domain.PhotoMeta{}, fmt.Errorf("%q: heading %q: %w", base, parts[2], domain.ErrMalformedFilename)
	}

	meta := domain.PhotoMeta{Lat: lat, Lon: lon, Heading: heading}
	if err := domain.ValidateMeta(meta); err != nil {
		return domain.PhotoMeta{}, fmt.Errorf("%q: %w", base, err)
	}
	return meta, nil
}

// Encode renders the canonical <lat>_<lon>_<heading> filename prefix for a
// photo's metadata. Parse(Encode(m) + "_x.jpg") recovers m exactly.
func Encode(m domain.PhotoMeta) string {
	return strconv.FormatFloat(m.Lat, 'f', -1, 64) +
		"_" + strconv.FormatFloat(m.Lon, 'f', -1, 64) +
		"_" + strconv.Itoa(m.Heading)
}

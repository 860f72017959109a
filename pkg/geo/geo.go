// Package geo provides small geodesy helpers: great-circle distance and
// map/street-view link templating for search results.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// (lat, lon) points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180

	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MapsURL returns a Google Maps link centered on the given coordinates.
func MapsURL(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%g,%g", lat, lon)
}

// StreetViewURL returns a Google Street View panorama link at the given
// viewpoint and camera heading.
func StreetViewURL(lat, lon float64, heading int) string {
	return fmt.Sprintf("https://www.google.com/maps/@?api=1&map_action=pano&viewpoint=%g,%g&heading=%d", lat, lon, heading)
}

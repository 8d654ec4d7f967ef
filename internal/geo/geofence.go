// Package geo matches driver coordinates against facility geofences.
package geo

import (
	"github.com/golang/geo/s2"

	"detention/internal/domain"
)

const (
	// EarthRadiusMeters is the mean radius of the spherical earth model.
	EarthRadiusMeters = 6371000.0

	// DefaultRadiusMeters is the geofence radius around a facility.
	DefaultRadiusMeters = 200.0
)

// DistanceMeters returns the haversine great-circle distance between two points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// IsWithinGeofence reports whether (lat, lng) lies within radiusMeters of the
// facility point. A non-positive radius uses DefaultRadiusMeters.
func IsWithinGeofence(lat, lng, facilityLat, facilityLng, radiusMeters float64) bool {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	return DistanceMeters(lat, lng, facilityLat, facilityLng) <= radiusMeters
}

// DetectCurrentFacility returns the first candidate, in the order given,
// whose geofence contains the point. Callers wanting the closest match must
// sort candidates by distance first.
func DetectCurrentFacility(lat, lng float64, candidates []domain.Facility, radiusMeters float64) *domain.Facility {
	for i := range candidates {
		if IsWithinGeofence(lat, lng, candidates[i].Lat, candidates[i].Lng, radiusMeters) {
			f := candidates[i]
			return &f
		}
	}
	return nil
}

// ValidCoordinates reports whether lat/lng are inside WGS84 bounds.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

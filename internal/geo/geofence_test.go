package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detention/internal/domain"
)

// One degree of latitude is ~111.195 km on the 6,371 km sphere.
const metersPerDegreeLat = 111194.93

func TestDistanceMeters_KnownValues(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0, DistanceMeters(41.88, -87.63, 41.88, -87.63), 1e-9)
	assert.InDelta(t, metersPerDegreeLat, DistanceMeters(0, 0, 1, 0), 1)
	// Chicago to Indianapolis.
	assert.InDelta(t, 265_256, DistanceMeters(41.8781, -87.6298, 39.7684, -86.1581), 5)
}

func TestIsWithinGeofence_Boundary(t *testing.T) {
	t.Parallel()

	facilityLat, facilityLng := 35.0, -90.0
	inside := facilityLat + 150/metersPerDegreeLat
	outside := facilityLat + 250/metersPerDegreeLat

	assert.True(t, IsWithinGeofence(inside, facilityLng, facilityLat, facilityLng, 200))
	assert.False(t, IsWithinGeofence(outside, facilityLng, facilityLat, facilityLng, 200))
	assert.True(t, IsWithinGeofence(outside, facilityLng, facilityLat, facilityLng, 300))
}

func TestIsWithinGeofence_DefaultRadius(t *testing.T) {
	t.Parallel()

	lat := 10 + 190/metersPerDegreeLat
	assert.True(t, IsWithinGeofence(lat, 20, 10, 20, 0))

	lat = 10 + 210/metersPerDegreeLat
	assert.False(t, IsWithinGeofence(lat, 20, 10, 20, -5))
}

func TestIsWithinGeofence_Symmetric(t *testing.T) {
	t.Parallel()

	points := [][2]float64{
		{41.8781, -87.6298},
		{41.8790, -87.6280},
		{-33.8688, 151.2093},
		{0, 179.999},
		{0, -179.999},
		{89.9, 0},
	}
	radii := []float64{1, 200, 500, 5_000_000}

	for _, a := range points {
		for _, b := range points {
			for _, r := range radii {
				assert.Equal(t,
					IsWithinGeofence(a[0], a[1], b[0], b[1], r),
					IsWithinGeofence(b[0], b[1], a[0], a[1], r),
					"a=%v b=%v r=%v", a, b, r)
				assert.Equal(t, DistanceMeters(a[0], a[1], b[0], b[1]), DistanceMeters(b[0], b[1], a[0], a[1]))
			}
		}
	}
}

func TestIsWithinGeofence_AcrossAntimeridian(t *testing.T) {
	t.Parallel()

	// ~111 m apart across the 180th meridian.
	assert.True(t, IsWithinGeofence(0, 179.9995, 0, -179.9995, 200))
}

func TestDetectCurrentFacility_FirstMatchWins(t *testing.T) {
	t.Parallel()

	far := domain.Facility{ID: "far", Lat: 36, Lng: -90}
	a := domain.Facility{ID: "a", Lat: 35 + 150/metersPerDegreeLat, Lng: -90}
	b := domain.Facility{ID: "b", Lat: 35 + 10/metersPerDegreeLat, Lng: -90}

	got := DetectCurrentFacility(35, -90, []domain.Facility{far, a, b}, 200)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID, "caller order decides, not proximity")

	got = DetectCurrentFacility(35, -90, []domain.Facility{b, a}, 200)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
}

func TestDetectCurrentFacility_NoMatch(t *testing.T) {
	t.Parallel()

	assert.Nil(t, DetectCurrentFacility(35, -90, nil, 200))
	assert.Nil(t, DetectCurrentFacility(35, -90, []domain.Facility{{ID: "x", Lat: 40, Lng: -90}}, 200))
}

func TestDetectCurrentFacility_ReturnsCopy(t *testing.T) {
	t.Parallel()

	candidates := []domain.Facility{{ID: "a", Name: "Dock A", Lat: 1, Lng: 1}}
	got := DetectCurrentFacility(1, 1, candidates, 200)
	require.NotNil(t, got)
	got.Name = "mutated"
	assert.Equal(t, "Dock A", candidates[0].Name)
}

func TestValidCoordinates(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidCoordinates(90, 180))
	assert.True(t, ValidCoordinates(-90, -180))
	assert.False(t, ValidCoordinates(90.1, 0))
	assert.False(t, ValidCoordinates(0, -180.5))
}

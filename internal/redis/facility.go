package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"detention/internal/domain"
)

const (
	facilityGeoKey    = "facilities:locations"
	facilityKeyPrefix = "facility:"
)

// FacilityStore indexes known facilities by position so the geofence
// monitor only matches against the ones nearby.
type FacilityStore struct {
	client   redis.Cmdable
	radiusKm float64
}

// NewFacilityStore creates a FacilityStore that searches within radiusKm.
func NewFacilityStore(client redis.Cmdable, radiusKm float64) *FacilityStore {
	if radiusKm <= 0 {
		radiusKm = 5
	}
	return &FacilityStore{client: client, radiusKm: radiusKm}
}

// Upsert stores the facility details and its position in one pipeline.
func (s *FacilityStore) Upsert(ctx context.Context, f domain.Facility) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, facilityKeyPrefix+f.ID, data, 0)
	pipe.GeoAdd(ctx, facilityGeoKey, &redis.GeoLocation{
		Name:      f.ID,
		Longitude: f.Lng,
		Latitude:  f.Lat,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes a facility from the index.
func (s *FacilityStore) Remove(ctx context.Context, facilityID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, facilityGeoKey, facilityID)
	pipe.Del(ctx, facilityKeyPrefix+facilityID)
	_, err := pipe.Exec(ctx)
	return err
}

// Candidates returns the facilities within the search radius of loc, closest
// first, so that the first match in range is also the nearest.
func (s *FacilityStore) Candidates(ctx context.Context, loc domain.Location) ([]domain.Facility, error) {
	results, err := s.client.GeoRadius(ctx, facilityGeoKey, loc.Lng, loc.Lat, &redis.GeoRadiusQuery{
		Radius:    s.radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("facility radius search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Batch fetch details using pipeline
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(results))
	for i, r := range results {
		cmds[i] = pipe.Get(ctx, facilityKeyPrefix+r.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("facility details: %w", err)
	}

	facilities := make([]domain.Facility, 0, len(results))
	for i, r := range results {
		f := domain.Facility{ID: r.Name, Name: r.Name}
		if data, err := cmds[i].Bytes(); err == nil {
			_ = json.Unmarshal(data, &f)
		}
		// The index is authoritative for position.
		f.Lat, f.Lng = r.Latitude, r.Longitude
		facilities = append(facilities, f)
	}
	return facilities, nil
}

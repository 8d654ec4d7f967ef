package store

import (
	"context"
	"sort"
	"sync"

	"detention/internal/domain"
	"detention/internal/geo"
)

// FacilityIndex is an in-process facility index. Candidates are returned
// closest first, within the search radius.
type FacilityIndex struct {
	mu           sync.RWMutex
	facilities   map[string]domain.Facility
	radiusMeters float64
}

// NewFacilityIndex creates an index searching within radiusKm.
func NewFacilityIndex(radiusKm float64) *FacilityIndex {
	if radiusKm <= 0 {
		radiusKm = 5
	}
	return &FacilityIndex{
		facilities:   make(map[string]domain.Facility),
		radiusMeters: radiusKm * 1000,
	}
}

// Upsert adds or replaces a facility.
func (x *FacilityIndex) Upsert(_ context.Context, f domain.Facility) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.facilities[f.ID] = f
	return nil
}

// Remove deletes a facility. Removing an unknown id is not an error.
func (x *FacilityIndex) Remove(_ context.Context, facilityID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.facilities, facilityID)
	return nil
}

// Candidates returns facilities within the search radius of loc, nearest
// first. Ties are broken by id so the order is stable.
func (x *FacilityIndex) Candidates(ctx context.Context, loc domain.Location) ([]domain.Facility, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type ranked struct {
		f    domain.Facility
		dist float64
	}

	x.mu.RLock()
	var hits []ranked
	for _, f := range x.facilities {
		if d := geo.DistanceMeters(loc.Lat, loc.Lng, f.Lat, f.Lng); d <= x.radiusMeters {
			hits = append(hits, ranked{f: f, dist: d})
		}
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].f.ID < hits[j].f.ID
	})

	out := make([]domain.Facility, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.f)
	}
	return out, nil
}

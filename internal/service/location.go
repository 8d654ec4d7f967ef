package service

import (
	"context"
	"sync"
	"time"

	"detention/internal/domain"
	"detention/internal/geo"
)

// LocationProvider supplies device coordinates on demand.
type LocationProvider interface {
	// RequestPermission asks for foreground location access.
	RequestPermission(ctx context.Context) (bool, error)

	// GetCurrentLocation returns the current fix. It fails with
	// ErrPermissionDenied or ErrLocationUnavailable.
	GetCurrentLocation(ctx context.Context) (domain.Location, error)
}

// PushLocationProvider is a LocationProvider fed by the device: the host app
// pushes fixes and permission changes, and readers get the latest fix.
type PushLocationProvider struct {
	mu      sync.RWMutex
	granted bool
	latest  *domain.Location
	maxAge  time.Duration
	clock   func() time.Time
}

// NewPushLocationProvider creates a provider. Fixes older than maxAge are
// reported as unavailable; zero disables the age check.
func NewPushLocationProvider(granted bool, maxAge time.Duration) *PushLocationProvider {
	return &PushLocationProvider{
		granted: granted,
		maxAge:  maxAge,
		clock:   time.Now,
	}
}

// SetPermission records the platform permission state.
func (p *PushLocationProvider) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
}

// Push records a new fix from the device.
func (p *PushLocationProvider) Push(loc domain.Location) error {
	if !geo.ValidCoordinates(loc.Lat, loc.Lng) {
		return ErrInvalidLocation
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = p.clock()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = &loc
	return nil
}

// RequestPermission reports the recorded permission state.
func (p *PushLocationProvider) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted, nil
}

// GetCurrentLocation returns the latest fix.
func (p *PushLocationProvider) GetCurrentLocation(ctx context.Context) (domain.Location, error) {
	if err := ctx.Err(); err != nil {
		return domain.Location{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.granted {
		return domain.Location{}, ErrPermissionDenied
	}
	if p.latest == nil {
		return domain.Location{}, ErrLocationUnavailable
	}
	if p.maxAge > 0 && p.clock().Sub(p.latest.Timestamp) > p.maxAge {
		return domain.Location{}, ErrLocationUnavailable
	}
	return *p.latest, nil
}

// Ensure PushLocationProvider implements LocationProvider.
var _ LocationProvider = (*PushLocationProvider)(nil)

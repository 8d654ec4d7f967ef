package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"detention/internal/domain"
	"detention/internal/geo"
	"detention/internal/logging"
	"detention/internal/metrics"
)

// DefaultPollInterval is how often the monitor fetches a location.
const DefaultPollInterval = 30 * time.Second

// CandidateSource supplies the facilities a location is matched against.
// Order matters: the first facility in range wins.
type CandidateSource interface {
	Candidates(ctx context.Context, loc domain.Location) ([]domain.Facility, error)
}

// StaticCandidates is a fixed candidate list.
type StaticCandidates []domain.Facility

// Candidates returns the list unchanged.
func (c StaticCandidates) Candidates(context.Context, domain.Location) ([]domain.Facility, error) {
	return c, nil
}

// MonitorConfig holds geofence monitor settings.
type MonitorConfig struct {
	PollInterval time.Duration
	RadiusMeters float64
	FetchTimeout time.Duration
}

// GeofenceMonitor polls the location provider and raises enter/exit events
// when the detected facility changes.
type GeofenceMonitor struct {
	provider LocationProvider
	cfg      MonitorConfig
	clock    func() time.Time
	logger   *zap.Logger

	// updateMu serialises UpdateLocation so events are emitted in order.
	updateMu sync.Mutex

	mu         sync.RWMutex
	candidates CandidateSource
	state      domain.GeofenceState
	appState   domain.AppState
	cancel     context.CancelFunc
	done       chan struct{}
	onEvent    []func(domain.GeofenceEvent)
	onLocation []func(domain.Location)
}

// NewGeofenceMonitor creates an unmonitored GeofenceMonitor.
func NewGeofenceMonitor(provider LocationProvider, candidates CandidateSource, cfg MonitorConfig, logger *zap.Logger) *GeofenceMonitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = geo.DefaultRadiusMeters
	}
	if candidates == nil {
		candidates = StaticCandidates(nil)
	}
	return &GeofenceMonitor{
		provider:   provider,
		candidates: candidates,
		cfg:        cfg,
		clock:      time.Now,
		logger:     logging.OrNop(logger),
		appState:   domain.AppStateActive,
	}
}

// OnEvent registers a handler for enter/exit events. Handlers run on the
// updating goroutine and must not call Stop.
func (m *GeofenceMonitor) OnEvent(fn func(domain.GeofenceEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = append(m.onEvent, fn)
}

// OnLocation registers a handler for every successful fix.
func (m *GeofenceMonitor) OnLocation(fn func(domain.Location)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLocation = append(m.onLocation, fn)
}

// SetCandidates replaces the candidate source used by later polls.
func (m *GeofenceMonitor) SetCandidates(src CandidateSource) {
	if src == nil {
		src = StaticCandidates(nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = src
}

// Start requests permission, takes one fix immediately and begins polling.
// A denied permission leaves the monitor stopped with Error set. Calling
// Start while monitoring is a no-op.
func (m *GeofenceMonitor) Start(ctx context.Context) {
	if m.IsMonitoring() {
		return
	}

	granted, err := m.provider.RequestPermission(ctx)
	if err != nil || !granted {
		if err == nil {
			err = ErrPermissionDenied
		}
		m.mu.Lock()
		m.state.IsMonitoring = false
		m.state.Error = err.Error()
		m.mu.Unlock()
		m.logger.Warn("geofence monitoring not started", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.state.IsMonitoring = true
	m.state.Error = ""
	m.mu.Unlock()

	m.logger.Info("geofence monitoring started", zap.Duration("interval", m.cfg.PollInterval))
	_ = m.UpdateLocation(ctx)

	go m.loop(loopCtx, done)
}

func (m *GeofenceMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.UpdateLocation(ctx)
			if errors.Is(err, ErrPermissionDenied) {
				m.stopFromLoop(done)
				return
			}
		}
	}
}

// stopFromLoop ends monitoring after the permission was revoked.
func (m *GeofenceMonitor) stopFromLoop(done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != done {
		return
	}
	m.cancel()
	m.cancel = nil
	m.done = nil
	m.state.IsMonitoring = false
	m.logger.Warn("geofence monitoring stopped: permission revoked")
}

// Stop cancels the poll loop and waits for it to exit. It is idempotent.
func (m *GeofenceMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.state.IsMonitoring = false
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("geofence monitoring stopped")
}

// IsMonitoring reports whether the poll loop is running.
func (m *GeofenceMonitor) IsMonitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel != nil
}

// HandleAppStateChange refreshes the location immediately when the app
// returns to the foreground from background or inactive.
func (m *GeofenceMonitor) HandleAppStateChange(ctx context.Context, next domain.AppState) error {
	m.mu.Lock()
	prev := m.appState
	m.appState = next
	monitoring := m.cancel != nil
	m.mu.Unlock()

	resumed := (prev == domain.AppStateBackground || prev == domain.AppStateInactive) && next == domain.AppStateActive
	if !resumed || !monitoring {
		return nil
	}
	return m.UpdateLocation(ctx)
}

// UpdateLocation fetches a fix, matches it against the candidates and emits
// exit/enter events for boundary crossings. On failure Error is set and the
// detected facility keeps its last known value.
func (m *GeofenceMonitor) UpdateLocation(ctx context.Context) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	fetchCtx := ctx
	if m.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()
	}

	loc, err := m.provider.GetCurrentLocation(fetchCtx)
	if err != nil {
		m.fail(err)
		return err
	}

	m.mu.RLock()
	src := m.candidates
	m.mu.RUnlock()

	candidates, err := src.Candidates(fetchCtx, loc)
	now := m.clock()

	m.mu.Lock()
	m.state.CurrentLocation = &loc
	m.state.LastUpdate = &now
	if err != nil {
		m.state.Error = err.Error()
		locHandlers := append([]func(domain.Location){}, m.onLocation...)
		m.mu.Unlock()
		m.logger.Warn("facility candidates unavailable", zap.Error(err))
		for _, fn := range locHandlers {
			fn(loc)
		}
		return err
	}
	m.state.Error = ""
	prev := m.state.DetectedFacility
	next := geo.DetectCurrentFacility(loc.Lat, loc.Lng, candidates, m.cfg.RadiusMeters)
	m.state.DetectedFacility = next
	locHandlers := append([]func(domain.Location){}, m.onLocation...)
	eventHandlers := append([]func(domain.GeofenceEvent){}, m.onEvent...)
	m.mu.Unlock()

	for _, fn := range locHandlers {
		fn(loc)
	}
	for _, ev := range crossings(prev, next, now) {
		metrics.GeofenceEvents.WithLabelValues(string(ev.Kind)).Inc()
		m.logger.Info("geofence crossing",
			zap.String("kind", string(ev.Kind)),
			zap.String("facility_id", ev.Facility.ID),
		)
		for _, fn := range eventHandlers {
			fn(ev)
		}
	}
	return nil
}

func (m *GeofenceMonitor) fail(err error) {
	metrics.LocationFailures.Inc()
	m.mu.Lock()
	m.state.Error = err.Error()
	m.mu.Unlock()
	m.logger.Warn("location fetch failed", zap.Error(err))
}

// State returns a copy of the monitor state.
func (m *GeofenceMonitor) State() domain.GeofenceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.state
	if m.state.CurrentLocation != nil {
		loc := *m.state.CurrentLocation
		out.CurrentLocation = &loc
	}
	if m.state.DetectedFacility != nil {
		f := *m.state.DetectedFacility
		out.DetectedFacility = &f
	}
	out.LastUpdate = copyTime(m.state.LastUpdate)
	return out
}

// crossings returns exit(prev) and/or enter(next) when the facility changed.
// Exit always precedes enter.
func crossings(prev, next *domain.Facility, at time.Time) []domain.GeofenceEvent {
	var events []domain.GeofenceEvent
	if prev != nil && (next == nil || next.ID != prev.ID) {
		events = append(events, domain.GeofenceEvent{Kind: domain.GeofenceExit, Facility: *prev, At: at})
	}
	if next != nil && (prev == nil || prev.ID != next.ID) {
		events = append(events, domain.GeofenceEvent{Kind: domain.GeofenceEnter, Facility: *next, At: at})
	}
	return events
}

package service

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"detention/internal/domain"
	"detention/internal/logging"
	"detention/internal/metrics"
)

// SessionManager owns the single active detention on a device. States are
// idle and active; every transition is a single local step.
type SessionManager struct {
	mu       sync.RWMutex
	current  domain.ActiveDetention
	location *domain.Location

	queue  *CaptureQueue
	clock  func() time.Time
	codes  CodeGenerator
	logger *zap.Logger
}

// SessionOption customises a SessionManager.
type SessionOption func(*SessionManager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *SessionManager) { s.clock = clock }
}

// WithCodeGenerator overrides verification code generation.
func WithCodeGenerator(gen CodeGenerator) SessionOption {
	return func(s *SessionManager) { s.codes = gen }
}

// NewSessionManager creates an idle SessionManager backed by queue.
func NewSessionManager(queue *CaptureQueue, logger *zap.Logger, opts ...SessionOption) *SessionManager {
	s := &SessionManager{
		queue:  queue,
		clock:  time.Now,
		codes:  GenerateVerificationCode,
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest contains the parameters for starting a session.
type StartRequest struct {
	Facility           domain.Facility
	EventType          domain.EventType
	GracePeriodMinutes int
	HourlyRate         float64
	LoadReference      string
}

// StartTracking begins a session and returns its verification code. The
// remote id stays nil until SetRemoteID. Starting while a session is active
// is rejected with ErrSessionAlreadyActive and leaves it untouched.
func (s *SessionManager) StartTracking(req StartRequest) (string, error) {
	if strings.TrimSpace(req.Facility.ID) == "" {
		return "", ErrInvalidFacility
	}
	if !req.EventType.Valid() {
		return "", ErrInvalidEventType
	}
	if req.GracePeriodMinutes < 0 {
		return "", ErrInvalidGracePeriod
	}
	if req.HourlyRate < 0 {
		return "", ErrInvalidHourlyRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.IsTracking {
		return "", ErrSessionAlreadyActive
	}

	code, err := s.codes()
	if err != nil {
		return "", err
	}

	arrival := s.clock()
	facilityID := req.Facility.ID
	s.current = domain.ActiveDetention{
		FacilityID:         &facilityID,
		FacilityName:       req.Facility.Name,
		EventType:          req.EventType,
		LoadReference:      req.LoadReference,
		ArrivalTime:        &arrival,
		GracePeriodMinutes: req.GracePeriodMinutes,
		HourlyRate:         req.HourlyRate,
		IsTracking:         true,
		VerificationCode:   code,
	}

	s.queue.LogGpsPoint(code, s.location)

	metrics.SessionTransitions.WithLabelValues("start").Inc()
	s.logger.Info("detention started",
		zap.String("facility_id", facilityID),
		zap.String("event_type", string(req.EventType)),
		zap.String("verification_code", code),
		zap.Time("arrival", arrival),
	)
	return code, nil
}

// SetRemoteID attaches the remote event id once the store acknowledges the
// create. The code guards against a late acknowledgement landing on a newer
// session.
func (s *SessionManager) SetRemoteID(verificationCode, remoteID string) error {
	if remoteID == "" {
		return ErrInvalidRemoteID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsTracking || s.current.VerificationCode != verificationCode {
		return ErrSessionMismatch
	}
	if s.current.ID != nil {
		if *s.current.ID == remoteID {
			return nil
		}
		return ErrRemoteIDAlreadySet
	}
	id := remoteID
	s.current.ID = &id
	return nil
}

// EndTracking finalises the session using now as the departure instant and
// resets to idle. It returns nil when no session is active. Remote
// reconciliation is left to the caller.
func (s *SessionManager) EndTracking() *domain.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsTracking {
		return nil
	}

	now := s.clock()
	ended := s.current.Clone()
	totals := &domain.Totals{
		ElapsedSeconds:   ElapsedSeconds(ended, now),
		DetentionSeconds: DetentionSeconds(ended, now),
		Earnings:         Earnings(ended, now),
		DepartureTime:    now,
		RemoteID:         ended.RemoteID(),
		VerificationCode: ended.VerificationCode,
		Session:          ended,
	}
	s.current = domain.IdleDetention()

	metrics.SessionTransitions.WithLabelValues("end").Inc()
	s.logger.Info("detention ended",
		zap.String("verification_code", totals.VerificationCode),
		zap.Int64("elapsed_seconds", totals.ElapsedSeconds),
		zap.Int64("detention_seconds", totals.DetentionSeconds),
		zap.Float64("earnings", totals.Earnings),
	)
	return totals
}

// UpdateNotes replaces the session notes verbatim.
func (s *SessionManager) UpdateNotes(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsTracking {
		return ErrNotTracking
	}
	s.current.Notes = text
	return nil
}

// ResetActiveDetention forces the idle state without end-of-session
// accounting. It returns the discarded session, or the idle value when there
// was none.
func (s *SessionManager) ResetActiveDetention() domain.ActiveDetention {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsTracking {
		return domain.IdleDetention()
	}

	discarded := s.current.Clone()
	s.current = domain.IdleDetention()

	metrics.SessionTransitions.WithLabelValues("reset").Inc()
	s.logger.Warn("detention reset", zap.String("verification_code", discarded.VerificationCode))
	return discarded
}

// SetCurrentLocation records the latest known device location.
func (s *SessionManager) SetCurrentLocation(loc domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &loc
}

// CurrentLocation returns the latest known location, or nil.
func (s *SessionManager) CurrentLocation() *domain.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.location == nil {
		return nil
	}
	loc := *s.location
	return &loc
}

// LogGpsPoint queues a breadcrumb at the current location. It is a no-op
// when idle or when no location is known.
func (s *SessionManager) LogGpsPoint() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.IsTracking {
		return false
	}
	return s.queue.LogGpsPoint(s.current.VerificationCode, s.location)
}

// Current returns a copy of the active detention.
func (s *SessionManager) Current() domain.ActiveDetention {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// IsTracking reports whether a session is active.
func (s *SessionManager) IsTracking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.IsTracking
}

// GetElapsedSeconds returns whole seconds since arrival, 0 when idle.
func (s *SessionManager) GetElapsedSeconds() int64 {
	return ElapsedSeconds(s.Current(), s.clock())
}

// GetDetentionSeconds returns billable seconds, 0 when idle or in grace.
func (s *SessionManager) GetDetentionSeconds() int64 {
	return DetentionSeconds(s.Current(), s.clock())
}

// GetCurrentEarnings returns accrued earnings, 0 when idle or in grace.
func (s *SessionManager) GetCurrentEarnings() float64 {
	return Earnings(s.Current(), s.clock())
}

// IsInGracePeriod reports whether the session is still in its grace period.
func (s *SessionManager) IsInGracePeriod() bool {
	return InGracePeriod(s.Current(), s.clock())
}

// Live returns all derived figures evaluated at a single instant.
func (s *SessionManager) Live() domain.LiveStatus {
	return Live(s.Current(), s.clock())
}

// Snapshot fills the session part of a durable snapshot.
func (s *SessionManager) Snapshot(snap *domain.Snapshot) {
	snap.Detention = s.Current()
}

// Restore loads the session from a snapshot. A snapshot that is not tracking
// is normalised to the canonical idle value.
func (s *SessionManager) Restore(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := snap.Detention.Clone()
	if !d.IsTracking || d.ArrivalTime == nil || d.FacilityID == nil {
		d = domain.IdleDetention()
	}
	s.current = d
}

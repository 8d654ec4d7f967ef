package tests

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"detention/internal/domain"
	"detention/internal/repository"
	"detention/internal/service"
)

// ──────────────────────────────────────────────
// MOCK EVENT STORE
// ──────────────────────────────────────────────

// MockEventStore is a mock implementation of repository.EventStore.
type MockEventStore struct {
	mu      sync.RWMutex
	nextID  int
	byCode  map[string]string
	gpsLogs map[string][]domain.PendingGpsLog
	photos  map[string][]domain.PendingPhoto
	ended   map[string]domain.Totals
	voided  map[string]bool

	// Counters for verification
	CreateCallCount    int32
	AppendGpsCallCount int32
	UploadCallCount    int32
	EndCallCount       int32
	VoidCallCount      int32

	// Error injection
	CreateError    error
	AppendGpsError error
	UploadError    error
	EndError       error
	VoidError      error

	// FailUploadAfter makes UploadPhoto fail once this many uploads succeeded.
	// Negative disables it.
	FailUploadAfter int

	// CreateGate, when set, blocks CreateEvent until it is closed.
	CreateGate chan struct{}
}

// NewMockEventStore creates a new mock event store.
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		byCode:          make(map[string]string),
		gpsLogs:         make(map[string][]domain.PendingGpsLog),
		photos:          make(map[string][]domain.PendingPhoto),
		ended:           make(map[string]domain.Totals),
		voided:          make(map[string]bool),
		FailUploadAfter: -1,
	}
}

func (m *MockEventStore) CreateEvent(ctx context.Context, session domain.ActiveDetention) (string, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateGate != nil {
		select {
		case <-m.CreateGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return "", m.CreateError
	}
	if id, ok := m.byCode[session.VerificationCode]; ok {
		return id, nil
	}
	m.nextID++
	id := fmt.Sprintf("event-%d", m.nextID)
	m.byCode[session.VerificationCode] = id
	return id, nil
}

func (m *MockEventStore) AppendGpsLogs(ctx context.Context, remoteID string, logs []domain.PendingGpsLog) error {
	atomic.AddInt32(&m.AppendGpsCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendGpsError != nil {
		return m.AppendGpsError
	}
	m.gpsLogs[remoteID] = append(m.gpsLogs[remoteID], logs...)
	return nil
}

func (m *MockEventStore) UploadPhoto(ctx context.Context, remoteID string, photo domain.PendingPhoto) error {
	atomic.AddInt32(&m.UploadCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadError != nil {
		return m.UploadError
	}
	if m.FailUploadAfter >= 0 && m.totalPhotos() >= m.FailUploadAfter {
		return repository.ErrNetwork
	}
	m.photos[remoteID] = append(m.photos[remoteID], photo)
	return nil
}

func (m *MockEventStore) EndEvent(ctx context.Context, remoteID string, totals domain.Totals) error {
	atomic.AddInt32(&m.EndCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndError != nil {
		return m.EndError
	}
	m.ended[remoteID] = totals
	return nil
}

func (m *MockEventStore) VoidEvent(ctx context.Context, remoteID string) error {
	atomic.AddInt32(&m.VoidCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VoidError != nil {
		return m.VoidError
	}
	m.voided[remoteID] = true
	return nil
}

// SetErrors replaces the injected errors under the lock.
func (m *MockEventStore) SetErrors(create, appendGps, upload, end error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateError = create
	m.AppendGpsError = appendGps
	m.UploadError = upload
	m.EndError = end
}

// SetVoidError replaces the injected VoidEvent error under the lock.
func (m *MockEventStore) SetVoidError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VoidError = err
}

// EventID returns the remote id created for a verification code.
func (m *MockEventStore) EventID(code string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byCode[code]
}

// GpsLogs returns the breadcrumbs stored for an event.
func (m *MockEventStore) GpsLogs(remoteID string) []domain.PendingGpsLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.PendingGpsLog(nil), m.gpsLogs[remoteID]...)
}

// Photos returns the photos stored for an event.
func (m *MockEventStore) Photos(remoteID string) []domain.PendingPhoto {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.PendingPhoto(nil), m.photos[remoteID]...)
}

// Ended returns the totals recorded for an event and whether it was ended.
func (m *MockEventStore) Ended(remoteID string) (domain.Totals, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ended[remoteID]
	return t, ok
}

// Voided reports whether an event was voided.
func (m *MockEventStore) Voided(remoteID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.voided[remoteID]
}

func (m *MockEventStore) totalPhotos() int {
	n := 0
	for _, p := range m.photos {
		n += len(p)
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK STATE STORE
// ──────────────────────────────────────────────

// MockStateStore is an in-memory service.StateStore.
type MockStateStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	PutCallCount int32

	GetError error
	PutError error
}

// NewMockStateStore creates an empty state store.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{data: make(map[string][]byte)}
}

func (m *MockStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MockStateStore) Put(ctx context.Context, key string, value []byte) error {
	atomic.AddInt32(&m.PutCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutError != nil {
		return m.PutError
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Raw returns the stored bytes for key.
func (m *MockStateStore) Raw(key string) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key]
}

// ──────────────────────────────────────────────
// MOCK LOCATION PROVIDER
// ──────────────────────────────────────────────

// MockLocationProvider returns scripted fixes.
type MockLocationProvider struct {
	mu       sync.Mutex
	granted  bool
	current  domain.Location
	hasFix   bool
	fetchErr error

	PermissionError  error
	GetCallCount     int32
	RequestCallCount int32
}

// NewMockLocationProvider creates a provider with the given permission.
func NewMockLocationProvider(granted bool) *MockLocationProvider {
	return &MockLocationProvider{granted: granted}
}

// SetLocation makes every later fetch return loc.
func (m *MockLocationProvider) SetLocation(lat, lng float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Location{Lat: lat, Lng: lng, Timestamp: time.Now()}
	m.hasFix = true
	m.fetchErr = nil
}

// SetFetchError makes later fetches fail with err.
func (m *MockLocationProvider) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// SetPermission changes the permission state.
func (m *MockLocationProvider) SetPermission(granted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted = granted
}

func (m *MockLocationProvider) RequestPermission(ctx context.Context) (bool, error) {
	atomic.AddInt32(&m.RequestCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PermissionError != nil {
		return false, m.PermissionError
	}
	return m.granted, nil
}

func (m *MockLocationProvider) GetCurrentLocation(ctx context.Context) (domain.Location, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.granted {
		return domain.Location{}, service.ErrPermissionDenied
	}
	if m.fetchErr != nil {
		return domain.Location{}, m.fetchErr
	}
	if !m.hasFix {
		return domain.Location{}, service.ErrLocationUnavailable
	}
	return m.current, nil
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records delivered notifications.
type MockNotifier struct {
	mu        sync.Mutex
	delivered []service.Notification
	ch        chan service.Notification
}

// NewMockNotifier creates a notifier. Delivered notifications are also sent
// on C, which has room for buffer entries.
func NewMockNotifier(buffer int) *MockNotifier {
	return &MockNotifier{ch: make(chan service.Notification, buffer)}
}

func (m *MockNotifier) Notify(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	m.delivered = append(m.delivered, n)
	m.mu.Unlock()
	select {
	case m.ch <- n:
	default:
	}
	return nil
}

// C returns the delivery channel.
func (m *MockNotifier) C() <-chan service.Notification {
	return m.ch
}

// Delivered returns every notification delivered so far.
func (m *MockNotifier) Delivered() []service.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Notification(nil), m.delivered...)
}

// ──────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sequence returns a code generator yielding the given codes in order.
func Sequence(codes ...string) service.CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(codes) {
			return "", fmt.Errorf("code sequence exhausted")
		}
		c := codes[i]
		i++
		return c, nil
	}
}

var (
	FacilityA = domain.Facility{ID: "fac-a", Name: "Acme DC", Lat: 41.8781, Lng: -87.6298}
	FacilityB = domain.Facility{ID: "fac-b", Name: "Beta Cold Storage", Lat: 41.8881, Lng: -87.6298}
)

// PickupRequest returns a pickup start request at facility f.
func PickupRequest(f domain.Facility) service.StartRequest {
	return service.StartRequest{
		Facility:           f,
		EventType:          domain.EventTypePickup,
		GracePeriodMinutes: 120,
		HourlyRate:         75,
		LoadReference:      "LOAD-1001",
	}
}

// Ensure mocks implement their interfaces.
var (
	_ repository.EventStore    = (*MockEventStore)(nil)
	_ service.StateStore       = (*MockStateStore)(nil)
	_ service.LocationProvider = (*MockLocationProvider)(nil)
	_ service.Notifier         = (*MockNotifier)(nil)
)

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"detention/internal/domain"
	"detention/internal/logging"
	"detention/internal/metrics"
	"detention/internal/repository"
)

// StateStore is the durable key-value store holding the session snapshot.
type StateStore interface {
	// Get returns the stored value, or nil without error when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// TrackerConfig holds Tracker settings.
type TrackerConfig struct {
	StateKey          string
	RemoteTimeout     time.Duration
	GraceReminderLead time.Duration
}

// Tracker is the application-owned session context. It applies local
// transitions first, persists the snapshot, and then reconciles with the
// remote event store. Collaborator failures are logged and retried later;
// they never undo a local transition.
type Tracker struct {
	session   *SessionManager
	queue     *CaptureQueue
	events    repository.EventStore
	state     StateStore
	scheduler *Scheduler
	cfg       TrackerConfig
	logger    *zap.Logger

	// mu guards closeouts and orders End against late remote id acks.
	mu        sync.Mutex
	closeouts []domain.Closeout

	persistMu sync.Mutex
	syncMu    sync.Mutex
	creates   singleflight.Group
	wg        sync.WaitGroup
}

// NewTracker creates a Tracker. Call Restore once before use.
func NewTracker(
	session *SessionManager,
	queue *CaptureQueue,
	events repository.EventStore,
	state StateStore,
	scheduler *Scheduler,
	cfg TrackerConfig,
	logger *zap.Logger,
) *Tracker {
	if cfg.StateKey == "" {
		cfg.StateKey = "detention-storage"
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	return &Tracker{
		session:   session,
		queue:     queue,
		events:    events,
		state:     state,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logging.OrNop(logger),
	}
}

// Restore loads the persisted snapshot. An in-progress session survives a
// restart and gets its reminders rescheduled.
func (t *Tracker) Restore(ctx context.Context) error {
	data, err := t.state.Get(ctx, t.cfg.StateKey)
	if err != nil {
		return fmt.Errorf("load detention state: %w", err)
	}
	if data == nil {
		return nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode detention state: %w", err)
	}

	t.mu.Lock()
	t.session.Restore(snap)
	t.queue.Restore(snap)
	t.closeouts = append([]domain.Closeout(nil), snap.Closeouts...)
	t.mu.Unlock()

	current := t.session.Current()
	if current.IsTracking {
		t.scheduleReminders(current)
	}

	t.logger.Info("detention state restored",
		zap.Bool("tracking", current.IsTracking),
		zap.Int("pending_gps", len(snap.PendingGpsLogs)),
		zap.Int("pending_photos", len(snap.PendingPhotos)),
		zap.Int("closeouts", len(snap.Closeouts)),
	)
	return nil
}

// Start begins a session, persists it and returns the verification code.
// Remote creation runs in the background; its id is attached when it lands.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (string, error) {
	code, err := t.session.StartTracking(req)
	if err != nil {
		return "", err
	}
	t.persistLogged(ctx)

	current := t.session.Current()
	t.scheduleReminders(current)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		rctx, cancel := context.WithTimeout(context.Background(), t.cfg.RemoteTimeout)
		defer cancel()
		_, _ = t.ensureRemoteID(rctx, current)
	}()

	return code, nil
}

// End finalises the active session and returns its totals, or nil when idle.
// The ended session is queued as a closeout and reconciled in the background.
func (t *Tracker) End(ctx context.Context) (*domain.Totals, error) {
	t.mu.Lock()
	totals := t.session.EndTracking()
	if totals == nil {
		t.mu.Unlock()
		return nil, nil
	}
	t.closeouts = append(t.closeouts, domain.Closeout{Totals: *totals})
	t.mu.Unlock()

	t.scheduler.CancelAll(totals.VerificationCode)
	t.persistLogged(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		rctx, cancel := context.WithTimeout(context.Background(), t.cfg.RemoteTimeout)
		defer cancel()
		_, _ = t.Sync(rctx)
	}()

	return totals, nil
}

// Reset hard-resets to idle without end-of-session accounting. Reminders and
// queued evidence of the discarded session are dropped, and its remote event
// is voided in the background.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	discarded := t.session.ResetActiveDetention()
	if discarded.IsTracking {
		t.closeouts = append(t.closeouts, domain.Closeout{
			Totals: domain.Totals{
				DepartureTime:    time.Now(),
				RemoteID:         discarded.RemoteID(),
				VerificationCode: discarded.VerificationCode,
				Session:          discarded,
			},
			Voided: true,
		})
	}
	t.mu.Unlock()

	if !discarded.IsTracking {
		return
	}

	code := discarded.VerificationCode
	t.scheduler.CancelAll(code)
	if n := t.queue.Discard(code); n > 0 {
		t.logger.Warn("discarded queued evidence on reset",
			zap.String("verification_code", code),
			zap.Int("entries", n),
		)
	}
	t.persistLogged(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		rctx, cancel := context.WithTimeout(context.Background(), t.cfg.RemoteTimeout)
		defer cancel()
		_, _ = t.Sync(rctx)
	}()
}

// UpdateNotes replaces the notes of the active session.
func (t *Tracker) UpdateNotes(ctx context.Context, text string) error {
	if err := t.session.UpdateNotes(text); err != nil {
		return err
	}
	t.persistLogged(ctx)
	return nil
}

// UpdateLocation records the latest device fix.
func (t *Tracker) UpdateLocation(loc domain.Location) {
	t.session.SetCurrentLocation(loc)
}

// LogGpsPoint queues a breadcrumb at the current location. It reports
// whether a point was captured.
func (t *Tracker) LogGpsPoint(ctx context.Context) bool {
	if !t.session.LogGpsPoint() {
		return false
	}
	t.persistLogged(ctx)
	return true
}

// PhotoInput describes a photo taken during the active session.
type PhotoInput struct {
	LocalURI string
	Category domain.PhotoCategory
	Lat      *float64
	Lng      *float64
	Caption  *string
}

// AddPhoto queues photo evidence for the active session.
func (t *Tracker) AddPhoto(ctx context.Context, in PhotoInput) error {
	if strings.TrimSpace(in.LocalURI) == "" {
		return ErrInvalidPhoto
	}
	if in.Category == "" {
		in.Category = domain.PhotoCategoryOther
	}
	if !in.Category.Valid() {
		return ErrInvalidPhoto
	}

	current := t.session.Current()
	if !current.IsTracking {
		return ErrNotTracking
	}

	t.queue.AddPendingPhoto(domain.PendingPhoto{
		LocalURI:    in.LocalURI,
		Category:    in.Category,
		Lat:         in.Lat,
		Lng:         in.Lng,
		Caption:     in.Caption,
		SessionCode: current.VerificationCode,
	})
	t.persistLogged(ctx)
	return nil
}

// SyncReport summarises one Sync call.
type SyncReport struct {
	Skipped          bool
	Active           *SyncResult
	ClosedOut        int
	CloseoutsPending int
}

// Sync pushes the active session's queued evidence and reconciles ended
// sessions. Only one Sync runs at a time; overlapping calls are skipped.
func (t *Tracker) Sync(ctx context.Context) (SyncReport, error) {
	if !t.syncMu.TryLock() {
		return SyncReport{Skipped: true}, nil
	}
	defer t.syncMu.Unlock()

	var report SyncReport
	var errs []error

	current := t.session.Current()
	if current.IsTracking {
		id, err := t.ensureRemoteID(ctx, current)
		if err != nil {
			errs = append(errs, err)
		} else {
			res, err := t.queue.SyncPendingUploads(ctx, t.events, current.VerificationCode, id)
			report.Active = &res
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	closed, pending, err := t.reconcileCloseouts(ctx)
	report.ClosedOut = closed
	report.CloseoutsPending = pending
	if err != nil {
		errs = append(errs, err)
	}

	t.persistLogged(ctx)
	return report, errors.Join(errs...)
}

// reconcileCloseouts pushes each ended session to the remote store and drops
// the ones that fully succeed.
func (t *Tracker) reconcileCloseouts(ctx context.Context) (closed, pending int, err error) {
	t.mu.Lock()
	work := append([]domain.Closeout(nil), t.closeouts...)
	t.mu.Unlock()

	done := make(map[string]bool)
	failed := make(map[string]domain.Closeout)
	var errs []error

	for _, c := range work {
		if rerr := t.reconcileCloseout(ctx, &c); rerr != nil {
			c.Attempts++
			c.LastError = rerr.Error()
			failed[c.Totals.VerificationCode] = c
			errs = append(errs, rerr)
			continue
		}
		done[c.Totals.VerificationCode] = true
	}

	t.mu.Lock()
	kept := t.closeouts[:0]
	for _, c := range t.closeouts {
		code := c.Totals.VerificationCode
		if done[code] {
			continue
		}
		if f, ok := failed[code]; ok {
			if c.Totals.RemoteID != "" {
				f.Totals.RemoteID = c.Totals.RemoteID
				f.Totals.Session.ID = c.Totals.Session.ID
			}
			c = f
		}
		kept = append(kept, c)
	}
	t.closeouts = kept
	pending = len(kept)
	t.mu.Unlock()

	return len(done), pending, errors.Join(errs...)
}

func (t *Tracker) reconcileCloseout(ctx context.Context, c *domain.Closeout) error {
	code := c.Totals.VerificationCode

	if c.Totals.RemoteID == "" {
		id, err := t.createEvent(ctx, c.Totals.Session)
		if err != nil {
			return err
		}
		c.Totals.RemoteID = id
		c.Totals.Session.ID = &id
		t.recordCloseoutID(code, id)
	}

	if c.Voided {
		err := t.events.VoidEvent(ctx, c.Totals.RemoteID)
		metrics.RemoteCalls.WithLabelValues("void_event", metrics.Outcome(err)).Inc()
		if err != nil {
			return fmt.Errorf("void event %s: %w", c.Totals.RemoteID, err)
		}
		t.logger.Info("detention voided",
			zap.String("verification_code", code),
			zap.String("remote_id", c.Totals.RemoteID),
		)
		return nil
	}

	if t.queue.HasPending(code) {
		res, err := t.queue.SyncPendingUploads(ctx, t.events, code, c.Totals.RemoteID)
		if err != nil {
			return err
		}
		if res.Skipped {
			return fmt.Errorf("closeout %s: queue sync already in progress", code)
		}
	}

	err := t.events.EndEvent(ctx, c.Totals.RemoteID, c.Totals)
	metrics.RemoteCalls.WithLabelValues("end_event", metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("end event %s: %w", c.Totals.RemoteID, err)
	}

	t.logger.Info("detention closed out",
		zap.String("verification_code", code),
		zap.String("remote_id", c.Totals.RemoteID),
	)
	return nil
}

// ensureRemoteID returns the session's remote id, creating the event when it
// has never been acknowledged.
func (t *Tracker) ensureRemoteID(ctx context.Context, session domain.ActiveDetention) (string, error) {
	if id := session.RemoteID(); id != "" {
		return id, nil
	}
	id, err := t.createEvent(ctx, session)
	if err != nil {
		return "", err
	}
	t.attachRemoteID(ctx, session.VerificationCode, id)
	return id, nil
}

// createEvent deduplicates concurrent creates for the same session.
func (t *Tracker) createEvent(ctx context.Context, session domain.ActiveDetention) (string, error) {
	v, err, _ := t.creates.Do(session.VerificationCode, func() (interface{}, error) {
		return t.events.CreateEvent(ctx, session)
	})
	metrics.RemoteCalls.WithLabelValues("create_event", metrics.Outcome(err)).Inc()
	if err != nil {
		t.logger.Warn("create remote event failed",
			zap.String("verification_code", session.VerificationCode),
			zap.Error(err),
		)
		return "", fmt.Errorf("create event: %w", err)
	}
	return v.(string), nil
}

// attachRemoteID binds an acknowledged id to the active session, or to the
// matching closeout when the session has already ended.
func (t *Tracker) attachRemoteID(ctx context.Context, code, id string) {
	t.mu.Lock()
	err := t.session.SetRemoteID(code, id)
	if errors.Is(err, ErrSessionMismatch) {
		t.setCloseoutID(code, id)
		err = nil
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("remote id not attached",
			zap.String("verification_code", code),
			zap.String("remote_id", id),
			zap.Error(err),
		)
		return
	}
	t.persistLogged(ctx)
}

func (t *Tracker) recordCloseoutID(code, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setCloseoutID(code, id)
}

// setCloseoutID is called with t.mu held.
func (t *Tracker) setCloseoutID(code, id string) {
	for i := range t.closeouts {
		if t.closeouts[i].Totals.VerificationCode == code && t.closeouts[i].Totals.RemoteID == "" {
			rid := id
			t.closeouts[i].Totals.RemoteID = id
			t.closeouts[i].Totals.Session.ID = &rid
		}
	}
}

func (t *Tracker) scheduleReminders(d domain.ActiveDetention) {
	deadline, ok := GraceDeadline(d)
	if !ok {
		return
	}
	t.scheduler.ScheduleGraceReminders(d.VerificationCode, d.FacilityName, deadline, t.cfg.GraceReminderLead, d.HourlyRate)
}

// Persist writes the current snapshot to the state store.
func (t *Tracker) Persist(ctx context.Context) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	var snap domain.Snapshot
	t.session.Snapshot(&snap)
	t.queue.Export(&snap)
	t.mu.Lock()
	snap.Closeouts = append([]domain.Closeout(nil), t.closeouts...)
	t.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode detention state: %w", err)
	}
	if err := t.state.Put(ctx, t.cfg.StateKey, data); err != nil {
		return fmt.Errorf("store detention state: %w", err)
	}
	return nil
}

func (t *Tracker) persistLogged(ctx context.Context) {
	if err := t.Persist(ctx); err != nil {
		t.logger.Error("persist detention state", zap.Error(err))
	}
}

// Current returns a copy of the active detention.
func (t *Tracker) Current() domain.ActiveDetention {
	return t.session.Current()
}

// Live returns the derived figures for the active session now.
func (t *Tracker) Live() domain.LiveStatus {
	return t.session.Live()
}

// Queue exposes the capture queue for read access.
func (t *Tracker) Queue() *CaptureQueue {
	return t.queue
}

// Closeouts returns the ended sessions still awaiting reconciliation.
func (t *Tracker) Closeouts() []domain.Closeout {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Closeout(nil), t.closeouts...)
}

// Watch emits live figures every interval until ctx is done. It only reads
// session state.
func (t *Tracker) Watch(ctx context.Context, interval time.Duration) <-chan domain.LiveStatus {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan domain.LiveStatus, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- t.session.Live():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Wait blocks until background remote calls started by Start and End finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close waits for background work and cancels all reminders.
func (t *Tracker) Close() {
	t.wg.Wait()
	t.scheduler.Close()
}

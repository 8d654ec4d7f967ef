package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"detention/internal/domain"
	"detention/internal/logging"
	"detention/internal/metrics"
	"detention/internal/repository"
)

// CaptureQueue buffers GPS breadcrumbs and photo metadata until the remote
// event store confirms them. Entries are only appended or bulk-removed.
type CaptureQueue struct {
	mu             sync.Mutex
	gpsLogs        []domain.PendingGpsLog
	photos         []domain.PendingPhoto
	lastGpsLogTime *time.Time
	lastSyncTime   *time.Time
	isSyncing      bool

	clock  func() time.Time
	logger *zap.Logger
}

// QueueOption customises a CaptureQueue.
type QueueOption func(*CaptureQueue)

// WithQueueClock overrides the clock used for lastGpsLogTime and lastSyncTime.
func WithQueueClock(clock func() time.Time) QueueOption {
	return func(q *CaptureQueue) { q.clock = clock }
}

// NewCaptureQueue creates an empty queue.
func NewCaptureQueue(logger *zap.Logger, opts ...QueueOption) *CaptureQueue {
	q := &CaptureQueue{
		clock:  time.Now,
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SyncResult describes one SyncPendingUploads call.
type SyncResult struct {
	Skipped    bool      `json:"skipped"`
	GpsLogs    int       `json:"gpsLogs"`
	Photos     int       `json:"photos"`
	SyncedAt   time.Time `json:"syncedAt"`
	Remaining  int       `json:"remaining"`
	SessionRef string    `json:"sessionRef"`
}

// LogGpsPoint appends a breadcrumb for the session identified by sessionCode.
// It is a no-op, returning false, without a session or a known location.
func (q *CaptureQueue) LogGpsPoint(sessionCode string, loc *domain.Location) bool {
	if sessionCode == "" || loc == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	ts := loc.Timestamp
	if ts.IsZero() {
		ts = now
	}
	q.gpsLogs = append(q.gpsLogs, domain.PendingGpsLog{
		Lat:         loc.Lat,
		Lng:         loc.Lng,
		Accuracy:    loc.Accuracy,
		Timestamp:   ts,
		SessionCode: sessionCode,
	})
	q.lastGpsLogTime = &now
	metrics.CapturedEntries.WithLabelValues("gps").Inc()
	return true
}

// AddPendingPhoto appends photo metadata. There is no upper bound.
func (q *CaptureQueue) AddPendingPhoto(photo domain.PendingPhoto) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if photo.Timestamp.IsZero() {
		photo.Timestamp = q.clock()
	}
	q.photos = append(q.photos, photo)
	metrics.CapturedEntries.WithLabelValues("photo").Inc()
}

// PendingGpsLogs returns a copy of the queued breadcrumbs.
func (q *CaptureQueue) PendingGpsLogs() []domain.PendingGpsLog {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.PendingGpsLog(nil), q.gpsLogs...)
}

// PendingPhotos returns a copy of the queued photos.
func (q *CaptureQueue) PendingPhotos() []domain.PendingPhoto {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.PendingPhoto(nil), q.photos...)
}

// IsSyncing reports whether a sync is in flight.
func (q *CaptureQueue) IsSyncing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isSyncing
}

// LastSyncTime returns the time of the last fully successful sync.
func (q *CaptureQueue) LastSyncTime() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyTime(q.lastSyncTime)
}

// LastGpsLogTime returns the time the last breadcrumb was captured.
func (q *CaptureQueue) LastGpsLogTime() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return copyTime(q.lastGpsLogTime)
}

// HasPending reports whether any entry tagged with sessionCode is queued.
func (q *CaptureQueue) HasPending(sessionCode string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, g := range q.gpsLogs {
		if g.SessionCode == sessionCode {
			return true
		}
	}
	for _, p := range q.photos {
		if p.SessionCode == sessionCode {
			return true
		}
	}
	return false
}

// SyncPendingUploads hands the entries captured for sessionCode to the event
// store under remoteID. At most one sync runs at a time; a call made while
// another is in flight returns a Skipped result. Entries are removed only
// after the store confirms them, so a failed sync leaves everything queued.
// Breadcrumbs go in a single batch; photos are removed as each one is accepted.
func (q *CaptureQueue) SyncPendingUploads(ctx context.Context, store repository.EventStore, sessionCode, remoteID string) (SyncResult, error) {
	q.mu.Lock()
	if q.isSyncing {
		q.mu.Unlock()
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return SyncResult{Skipped: true, SessionRef: sessionCode}, nil
	}
	q.isSyncing = true
	gps := filterGps(q.gpsLogs, sessionCode)
	photos := filterPhotos(q.photos, sessionCode)
	q.mu.Unlock()

	start := time.Now()
	result := SyncResult{SessionRef: sessionCode}
	err := q.push(ctx, store, remoteID, gps, photos, &result)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	metrics.SyncRuns.WithLabelValues(metrics.Outcome(err)).Inc()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.isSyncing = false
	q.gpsLogs = dropGps(q.gpsLogs, sessionCode, result.GpsLogs)
	q.photos = dropPhotos(q.photos, sessionCode, result.Photos)
	result.Remaining = len(q.gpsLogs) + len(q.photos)
	if err != nil {
		q.logger.Warn("sync pending uploads failed",
			zap.String("session", sessionCode),
			zap.Int("gps_synced", result.GpsLogs),
			zap.Int("photos_synced", result.Photos),
			zap.Error(err),
		)
		return result, err
	}

	now := q.clock()
	q.lastSyncTime = &now
	result.SyncedAt = now
	return result, nil
}

// push performs the remote calls without holding the lock, so capture can
// continue during a sync. result records how many entries were confirmed.
func (q *CaptureQueue) push(ctx context.Context, store repository.EventStore, remoteID string, gps []domain.PendingGpsLog, photos []domain.PendingPhoto, result *SyncResult) error {
	if len(gps) > 0 {
		if err := store.AppendGpsLogs(ctx, remoteID, gps); err != nil {
			return fmt.Errorf("append gps logs: %w", err)
		}
		result.GpsLogs = len(gps)
	}
	for _, p := range photos {
		if err := store.UploadPhoto(ctx, remoteID, p); err != nil {
			return fmt.Errorf("upload photo %s: %w", p.LocalURI, err)
		}
		result.Photos++
	}
	return nil
}

// Export returns the queue contents for the durable snapshot.
func (q *CaptureQueue) Export(snap *domain.Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap.PendingGpsLogs = append([]domain.PendingGpsLog(nil), q.gpsLogs...)
	snap.PendingPhotos = append([]domain.PendingPhoto(nil), q.photos...)
	snap.LastGpsLogTime = copyTime(q.lastGpsLogTime)
	snap.LastSyncTime = copyTime(q.lastSyncTime)
}

// Restore replaces the queue contents from a snapshot. isSyncing is never
// restored; a sync interrupted by a restart simply runs again.
func (q *CaptureQueue) Restore(snap domain.Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gpsLogs = append([]domain.PendingGpsLog(nil), snap.PendingGpsLogs...)
	q.photos = append([]domain.PendingPhoto(nil), snap.PendingPhotos...)
	q.lastGpsLogTime = copyTime(snap.LastGpsLogTime)
	q.lastSyncTime = copyTime(snap.LastSyncTime)
	q.isSyncing = false
}

func filterGps(in []domain.PendingGpsLog, code string) []domain.PendingGpsLog {
	var out []domain.PendingGpsLog
	for _, g := range in {
		if g.SessionCode == code {
			out = append(out, g)
		}
	}
	return out
}

func filterPhotos(in []domain.PendingPhoto, code string) []domain.PendingPhoto {
	var out []domain.PendingPhoto
	for _, p := range in {
		if p.SessionCode == code {
			out = append(out, p)
		}
	}
	return out
}

// dropGps removes the first n entries tagged with code. Appends that arrived
// during the sync sit after them and are kept.
func dropGps(in []domain.PendingGpsLog, code string, n int) []domain.PendingGpsLog {
	if n == 0 {
		return in
	}
	out := make([]domain.PendingGpsLog, 0, len(in))
	for _, g := range in {
		if n > 0 && g.SessionCode == code {
			n--
			continue
		}
		out = append(out, g)
	}
	return out
}

func dropPhotos(in []domain.PendingPhoto, code string, n int) []domain.PendingPhoto {
	if n == 0 {
		return in
	}
	out := make([]domain.PendingPhoto, 0, len(in))
	for _, p := range in {
		if n > 0 && p.SessionCode == code {
			n--
			continue
		}
		out = append(out, p)
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Discard removes every entry tagged with sessionCode and returns how many
// were removed. It is only used by the hard reset path.
func (q *CaptureQueue) Discard(sessionCode string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.gpsLogs) + len(q.photos)
	q.gpsLogs = dropGps(q.gpsLogs, sessionCode, len(q.gpsLogs))
	q.photos = dropPhotos(q.photos, sessionCode, len(q.photos))
	return before - len(q.gpsLogs) - len(q.photos)
}

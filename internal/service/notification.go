package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"detention/internal/logging"
	"detention/internal/metrics"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationGraceEndingSoon  NotificationType = "GRACE_ENDING_SOON"
	NotificationDetentionStarted NotificationType = "DETENTION_STARTED"
)

// Notification is a reminder payload delivered at a scheduled instant.
type Notification struct {
	ID            string
	Type          NotificationType
	SessionHandle string // verification code of the owning session
	Title         string
	Message       string
	Data          map[string]interface{}
	FireAt        time.Time
}

// Notifier delivers a notification to the driver.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It stands in for push
// delivery on hosts without a notification channel.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.logger.Info("notification",
		zap.String("type", string(notification.Type)),
		zap.String("session", notification.SessionHandle),
		zap.String("title", notification.Title),
		zap.String("message", notification.Message),
	)
	return nil
}

// Scheduler fires notifications at computed instants and cancels them per
// session.
type Scheduler struct {
	mu        sync.Mutex
	timers    map[string]*time.Timer
	bySession map[string][]string
	closed    bool

	notifier Notifier
	clock    func() time.Time
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler delivering through notifier.
func NewScheduler(notifier Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers:    make(map[string]*time.Timer),
		bySession: make(map[string][]string),
		notifier:  notifier,
		clock:     time.Now,
		logger:    logging.OrNop(logger),
	}
}

// ScheduleAt arranges for n to be delivered at the given instant and returns
// its handle. Instants in the past fire immediately.
func (s *Scheduler) ScheduleAt(at time.Time, n Notification) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ""
	}

	n.ID = uuid.New().String()
	n.FireAt = at
	delay := at.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}

	s.timers[n.ID] = time.AfterFunc(delay, func() { s.fire(n) })
	s.bySession[n.SessionHandle] = append(s.bySession[n.SessionHandle], n.ID)

	metrics.NotificationsScheduled.WithLabelValues("scheduled").Inc()
	s.logger.Debug("notification scheduled",
		zap.String("id", n.ID),
		zap.String("type", string(n.Type)),
		zap.Time("fire_at", at),
	)
	return n.ID
}

func (s *Scheduler) fire(n Notification) {
	s.mu.Lock()
	if _, ok := s.timers[n.ID]; !ok {
		s.mu.Unlock()
		return
	}
	s.forget(n.SessionHandle, n.ID)
	s.mu.Unlock()

	metrics.NotificationsScheduled.WithLabelValues("fired").Inc()
	if err := s.notifier.Notify(context.Background(), n); err != nil {
		s.logger.Warn("notification delivery failed", zap.String("id", n.ID), zap.Error(err))
	}
}

// forget drops bookkeeping for one handle. Callers hold s.mu.
func (s *Scheduler) forget(session, id string) {
	delete(s.timers, id)
	ids := s.bySession[session]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.bySession, session)
	} else {
		s.bySession[session] = ids
	}
}

// CancelAll cancels every pending notification of a session and returns how
// many were cancelled.
func (s *Scheduler) CancelAll(sessionHandle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, id := range s.bySession[sessionHandle] {
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
			cancelled++
		}
	}
	delete(s.bySession, sessionHandle)

	if cancelled > 0 {
		metrics.NotificationsScheduled.WithLabelValues("cancelled").Add(float64(cancelled))
	}
	return cancelled
}

// Pending returns the number of notifications still scheduled for a session.
func (s *Scheduler) Pending(sessionHandle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bySession[sessionHandle])
}

// Close cancels everything and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.bySession = make(map[string][]string)
	s.closed = true
}

// ScheduleGraceReminders schedules the standard reminders for a session:
// one lead before the grace deadline and one at the deadline. Reminders
// whose instant has already passed are skipped.
func (s *Scheduler) ScheduleGraceReminders(sessionHandle, facilityName string, deadline time.Time, lead time.Duration, hourlyRate float64) []string {
	now := s.clock()
	var handles []string

	if lead > 0 {
		if at := deadline.Add(-lead); at.After(now) {
			handles = append(handles, s.ScheduleAt(at, Notification{
				Type:          NotificationGraceEndingSoon,
				SessionHandle: sessionHandle,
				Title:         "Grace period ending soon",
				Message:       fmt.Sprintf("Free time at %s ends in %d minutes", facilityName, int(lead.Minutes())),
				Data: map[string]interface{}{
					"deadline": deadline,
				},
			}))
		}
	}

	if deadline.After(now) {
		handles = append(handles, s.ScheduleAt(deadline, Notification{
			Type:          NotificationDetentionStarted,
			SessionHandle: sessionHandle,
			Title:         "Detention time started",
			Message:       fmt.Sprintf("You are now earning detention at %s ($%.2f/hr)", facilityName, hourlyRate),
			Data: map[string]interface{}{
				"deadline":    deadline,
				"hourly_rate": hourlyRate,
			},
		}))
	}
	return handles
}

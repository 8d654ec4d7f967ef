package tests

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detention/internal/domain"
	"detention/internal/metrics"
	"detention/internal/service"
)

// ──────────────────────────────────────────────
// 1. SESSION LIFECYCLE
// ──────────────────────────────────────────────

var arrival = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func newSession(t *testing.T, codes ...string) (*service.SessionManager, *service.CaptureQueue, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(arrival)
	queue := service.NewCaptureQueue(nil, service.WithQueueClock(clock.Now))
	if len(codes) == 0 {
		codes = []string{"ABCD2345"}
	}
	session := service.NewSessionManager(queue, nil,
		service.WithClock(clock.Now),
		service.WithCodeGenerator(Sequence(codes...)),
	)
	return session, queue, clock
}

func TestSession_StartsIdle(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)

	assert.True(t, session.Current().IsIdle())
	assert.False(t, session.IsTracking())
	assert.Zero(t, session.GetElapsedSeconds())
	assert.Zero(t, session.GetDetentionSeconds())
	assert.Zero(t, session.GetCurrentEarnings())
	assert.False(t, session.IsInGracePeriod())
}

func TestSession_StartTracking_PopulatesSession(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)

	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	assert.Equal(t, "ABCD2345", code)

	cur := session.Current()
	assert.True(t, cur.IsTracking)
	assert.Nil(t, cur.ID, "remote id must stay unset until acknowledged")
	require.NotNil(t, cur.FacilityID)
	assert.Equal(t, FacilityA.ID, *cur.FacilityID)
	assert.Equal(t, FacilityA.Name, cur.FacilityName)
	assert.Equal(t, domain.EventTypePickup, cur.EventType)
	assert.Equal(t, "LOAD-1001", cur.LoadReference)
	require.NotNil(t, cur.ArrivalTime)
	assert.True(t, cur.ArrivalTime.Equal(arrival))
	assert.Equal(t, 120, cur.GracePeriodMinutes)
	assert.Equal(t, 75.0, cur.HourlyRate)
	assert.Equal(t, code, cur.VerificationCode)
}

func TestSession_StartWithRealGenerator_ProducesValidCode(t *testing.T) {
	t.Parallel()

	session := service.NewSessionManager(service.NewCaptureQueue(nil), nil)
	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	assert.True(t, service.IsValidVerificationCode(code))
}

func TestSession_StartWhileActive_Rejected(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t, "ABCD2345", "WXYZ6789")

	_, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	before := session.Current()

	_, err = session.StartTracking(PickupRequest(FacilityB))
	assert.ErrorIs(t, err, service.ErrSessionAlreadyActive)
	assert.Equal(t, before, session.Current())
}

func TestSession_StartTracking_InvalidInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*service.StartRequest)
		wantErr error
	}{
		{"empty facility id", func(r *service.StartRequest) { r.Facility.ID = " " }, service.ErrInvalidFacility},
		{"unknown event type", func(r *service.StartRequest) { r.EventType = "dropoff" }, service.ErrInvalidEventType},
		{"negative grace", func(r *service.StartRequest) { r.GracePeriodMinutes = -1 }, service.ErrInvalidGracePeriod},
		{"negative rate", func(r *service.StartRequest) { r.HourlyRate = -0.01 }, service.ErrInvalidHourlyRate},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			session, _, _ := newSession(t)
			req := PickupRequest(FacilityA)
			tc.mutate(&req)

			_, err := session.StartTracking(req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, session.Current().IsIdle())
		})
	}
}

func TestSession_SetRemoteID(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)
	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)

	assert.ErrorIs(t, session.SetRemoteID(code, ""), service.ErrInvalidRemoteID)
	assert.ErrorIs(t, session.SetRemoteID("ZZZZ9999", "event-1"), service.ErrSessionMismatch)
	assert.Nil(t, session.Current().ID)

	require.NoError(t, session.SetRemoteID(code, "event-1"))
	assert.Equal(t, "event-1", session.Current().RemoteID())

	assert.NoError(t, session.SetRemoteID(code, "event-1"), "same id again is a no-op")
	assert.ErrorIs(t, session.SetRemoteID(code, "event-2"), service.ErrRemoteIDAlreadySet)
	assert.Equal(t, "event-1", session.Current().RemoteID())
}

func TestSession_SetRemoteID_AfterEndIsMismatch(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)
	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	session.EndTracking()

	assert.ErrorIs(t, session.SetRemoteID(code, "event-1"), service.ErrSessionMismatch)
	assert.True(t, session.Current().IsIdle())
}

func TestSession_EndTracking_ComputesTotalsAndResets(t *testing.T) {
	t.Parallel()

	session, _, clock := newSession(t)
	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	require.NoError(t, session.SetRemoteID(code, "event-1"))

	clock.Advance(241 * time.Minute)
	totals := session.EndTracking()
	require.NotNil(t, totals)

	assert.Equal(t, int64(14460), totals.ElapsedSeconds)
	assert.Equal(t, int64(7260), totals.DetentionSeconds)
	assert.InDelta(t, 151.25, totals.Earnings, 1e-9)
	assert.True(t, totals.DepartureTime.Equal(arrival.Add(241*time.Minute)))
	assert.Equal(t, "event-1", totals.RemoteID)
	assert.Equal(t, code, totals.VerificationCode)
	assert.Equal(t, code, totals.Session.VerificationCode)

	assert.True(t, session.Current().IsIdle())
	assert.Nil(t, session.EndTracking(), "ending while idle returns nil")
}

func TestSession_UpdateNotes(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)
	assert.ErrorIs(t, session.UpdateNotes("dock 4"), service.ErrNotTracking)
	assert.True(t, session.Current().IsIdle())

	_, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)

	notes := "  dock 4\nwaiting on lumper  "
	require.NoError(t, session.UpdateNotes(notes))
	assert.Equal(t, notes, session.Current().Notes, "notes are stored verbatim")

	require.NoError(t, session.UpdateNotes(""))
	assert.Empty(t, session.Current().Notes)
}

// Not parallel: reads the shared reset counter.
func TestSession_Reset(t *testing.T) {
	session, _, _ := newSession(t)
	before := testutil.ToFloat64(metrics.SessionTransitions.WithLabelValues("reset"))
	assert.True(t, session.ResetActiveDetention().IsIdle(), "reset while idle is a no-op")
	assert.InDelta(t, before, testutil.ToFloat64(metrics.SessionTransitions.WithLabelValues("reset")), 0,
		"an idle reset is not a transition")

	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)

	discarded := session.ResetActiveDetention()
	assert.Equal(t, code, discarded.VerificationCode)
	assert.True(t, discarded.IsTracking)
	assert.True(t, session.Current().IsIdle())
}

func TestSession_LiveFiguresFollowClock(t *testing.T) {
	t.Parallel()

	session, _, clock := newSession(t)
	_, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)

	clock.Advance(119 * time.Minute)
	assert.True(t, session.IsInGracePeriod())
	assert.Zero(t, session.GetDetentionSeconds())
	assert.Zero(t, session.GetCurrentEarnings())

	clock.Advance(2 * time.Minute)
	assert.False(t, session.IsInGracePeriod())
	assert.Equal(t, int64(60), session.GetDetentionSeconds())
	assert.InDelta(t, 1.25, session.GetCurrentEarnings(), 1e-9)
	assert.Equal(t, int64(7260), session.GetElapsedSeconds())

	live := session.Live()
	assert.Equal(t, int64(60), live.DetentionSeconds)
	assert.True(t, live.IsTracking)
}

func TestSession_LogGpsPoint(t *testing.T) {
	t.Parallel()

	session, queue, _ := newSession(t)
	assert.False(t, session.LogGpsPoint(), "idle sessions do not log")

	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	assert.False(t, session.LogGpsPoint(), "no location known yet")
	assert.Empty(t, queue.PendingGpsLogs())

	session.SetCurrentLocation(domain.Location{Lat: FacilityA.Lat, Lng: FacilityA.Lng})
	assert.True(t, session.LogGpsPoint())

	logs := queue.PendingGpsLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, code, logs[0].SessionCode)
	assert.Equal(t, FacilityA.Lat, logs[0].Lat)
	assert.NotNil(t, queue.LastGpsLogTime())
}

func TestSession_StartWithKnownLocation_LogsInitialPoint(t *testing.T) {
	t.Parallel()

	session, queue, _ := newSession(t)
	session.SetCurrentLocation(domain.Location{Lat: FacilityA.Lat, Lng: FacilityA.Lng})

	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)

	logs := queue.PendingGpsLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, code, logs[0].SessionCode)
}

func TestSession_SnapshotRestore_SurvivesRestart(t *testing.T) {
	t.Parallel()

	session, _, clock := newSession(t)
	code, err := session.StartTracking(PickupRequest(FacilityA))
	require.NoError(t, err)
	require.NoError(t, session.SetRemoteID(code, "event-1"))
	require.NoError(t, session.UpdateNotes("gate 2"))

	var snap domain.Snapshot
	session.Snapshot(&snap)
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded domain.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	restarted := service.NewSessionManager(service.NewCaptureQueue(nil), nil, service.WithClock(clock.Now))
	restarted.Restore(decoded)

	cur := restarted.Current()
	assert.True(t, cur.IsTracking)
	assert.Equal(t, "event-1", cur.RemoteID())
	assert.Equal(t, code, cur.VerificationCode)
	assert.Equal(t, "gate 2", cur.Notes)
	require.NotNil(t, cur.ArrivalTime)
	assert.True(t, cur.ArrivalTime.Equal(arrival))

	// Figures are recomputed from arrival, so time spent down still counts.
	clock.Advance(3 * time.Hour)
	assert.Equal(t, int64(3*3600), restarted.GetElapsedSeconds())
	assert.Equal(t, int64(3600), restarted.GetDetentionSeconds())
}

func TestSession_RestoreNonTrackingSnapshot_IsCanonicalIdle(t *testing.T) {
	t.Parallel()

	session, _, _ := newSession(t)
	stale := "event-9"
	session.Restore(domain.Snapshot{Detention: domain.ActiveDetention{
		ID:               &stale,
		FacilityName:     "Leftover",
		IsTracking:       false,
		VerificationCode: "ZZZZ9999",
	}})

	assert.True(t, session.Current().IsIdle())
}

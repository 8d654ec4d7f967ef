package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detention/internal/service"
	"detention/internal/store"
	"detention/internal/tests"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	tracker  *service.Tracker
	monitor  *service.GeofenceMonitor
	provider *service.PushLocationProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	queue := service.NewCaptureQueue(nil)
	session := service.NewSessionManager(queue, nil)
	tracker := service.NewTracker(session, queue, tests.NewMockEventStore(), tests.NewMockStateStore(),
		service.NewScheduler(tests.NewMockNotifier(4), nil),
		service.TrackerConfig{StateKey: "detention-storage", RemoteTimeout: time.Second, GraceReminderLead: 15 * time.Minute},
		nil,
	)
	t.Cleanup(tracker.Close)

	provider := service.NewPushLocationProvider(true, 0)
	facilities := store.NewFacilityIndex(5)
	monitor := service.NewGeofenceMonitor(provider, facilities, service.MonitorConfig{PollInterval: time.Hour}, nil)
	t.Cleanup(monitor.Stop)

	dh := NewDetentionHandler(tracker, Defaults{GracePeriodMinutes: 120, HourlyRate: 75})
	gh := NewGeofenceHandler(monitor, provider, tracker, facilities)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.POST("/detention/start", dh.Start)
	v1.POST("/detention/end", dh.End)
	v1.POST("/detention/reset", dh.Reset)
	v1.PUT("/detention/notes", dh.UpdateNotes)
	v1.GET("/detention", dh.Status)
	v1.POST("/detention/gps", dh.LogGpsPoint)
	v1.POST("/detention/photos", dh.AddPhoto)
	v1.POST("/sync", dh.Sync)
	v1.POST("/location", gh.UpdateLocation)
	v1.POST("/location/permission", gh.SetPermission)
	v1.POST("/app-state", gh.AppState)
	v1.GET("/geofence", gh.State)
	v1.POST("/geofence/start", gh.Start)
	v1.POST("/geofence/stop", gh.Stop)
	v1.PUT("/facilities/:id", gh.UpsertFacility)
	v1.GET("/facilities/nearby", gh.NearbyFacilities)

	return &testServer{router: r, tracker: tracker, monitor: monitor, provider: provider}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var startBody = map[string]any{
	"facility":  map[string]any{"id": "fac-a", "name": "Acme DC", "lat": 41.8781, "lng": -87.6298},
	"eventType": "pickup",
}

func TestStart_AppliesDefaults(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/detention/start", startBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp StartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, service.IsValidVerificationCode(resp.VerificationCode))
	assert.Equal(t, 120, resp.Detention.GracePeriodMinutes)
	assert.Equal(t, 75.0, resp.Detention.HourlyRate)
	assert.True(t, resp.Detention.IsTracking)
	s.tracker.Wait()
}

func TestStart_Errors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/detention/start", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/detention/start", map[string]any{
		"facility":  map[string]any{"id": "fac-a"},
		"eventType": "dropoff",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/detention/start", startBody)
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, "/v1/detention/start", startBody)
	assert.Equal(t, http.StatusConflict, w.Code)
	s.tracker.Wait()
}

func TestEnd_WhileIdleIsConflict(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/detention/end", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnd_ReturnsFormattedTotals(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/detention/start", startBody).Code)
	w := s.do(t, http.MethodPost, "/v1/detention/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp TotalsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "$0.00", resp.Amount)
	assert.Equal(t, "00:00:00", resp.Detention)
	assert.NotEmpty(t, resp.VerificationCode)
	s.tracker.Wait()
}

func TestNotes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/v1/detention/notes", NotesRequest{Notes: "dock 4"})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/detention/start", startBody).Code)
	w = s.do(t, http.MethodPut, "/v1/detention/notes", NotesRequest{Notes: "dock 4"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dock 4", s.tracker.Current().Notes)
	s.tracker.Wait()
}

func TestStatus_Idle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/detention", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Detention.IsIdle())
	assert.Equal(t, "00:00:00", resp.Elapsed)
	assert.Equal(t, "$0.00", resp.Earnings)
	assert.Empty(t, resp.Closeouts)
}

func TestPhotos_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/detention/photos", PhotoRequest{LocalURI: "file:///a.jpg"})
	assert.Equal(t, http.StatusConflict, w.Code, "no session")

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/detention/start", startBody).Code)
	w = s.do(t, http.MethodPost, "/v1/detention/photos", PhotoRequest{LocalURI: "file:///a.jpg", Category: "selfie"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/detention/photos", PhotoRequest{LocalURI: "file:///a.jpg", Category: "dock"})
	assert.Equal(t, http.StatusCreated, w.Code)
	s.tracker.Wait()
}

func TestLocation_FeedsGpsLogging(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/location", LocationRequest{Lat: 120, Lng: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/v1/detention/start", startBody).Code)
	w = s.do(t, http.MethodPost, "/v1/location", LocationRequest{Lat: 41.8781, Lng: -87.6298})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodPost, "/v1/detention/gps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logged":true}`, w.Body.String())
	s.tracker.Wait()
}

func TestGeofence_StartDetectsRegisteredFacility(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/v1/facilities/fac-a", FacilityRequestBody{Name: "Acme DC", Lat: 41.8781, Lng: -87.6298})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/v1/location", LocationRequest{Lat: 41.8782, Lng: -87.6298}).Code)

	w = s.do(t, http.MethodPost, "/v1/geofence/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	state := s.monitor.State()
	require.NotNil(t, state.DetectedFacility)
	assert.Equal(t, "fac-a", state.DetectedFacility.ID)

	w = s.do(t, http.MethodGet, "/v1/facilities/nearby?lat=41.8782&lng=-87.6298", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fac-a")

	w = s.do(t, http.MethodPost, "/v1/geofence/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.monitor.IsMonitoring())
}

func TestGeofence_StartWithoutPermissionIsForbidden(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/location/permission", PermissionRequest{Granted: false}).Code)
	w := s.do(t, http.MethodPost, "/v1/geofence/start", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, s.monitor.IsMonitoring())
}

func TestAppState_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/app-state", AppStateRequest{State: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/app-state", AppStateRequest{State: "background"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSync_Idle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Skipped)
	assert.Zero(t, resp.ClosedOut)
}

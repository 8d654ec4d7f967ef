package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"detention/internal/domain"
	"detention/internal/geo"
	"detention/internal/service"
)

// FacilityIndex stores the facilities the monitor matches against.
type FacilityIndex interface {
	Upsert(ctx context.Context, f domain.Facility) error
	Remove(ctx context.Context, facilityID string) error
	Candidates(ctx context.Context, loc domain.Location) ([]domain.Facility, error)
}

// GeofenceHandler handles device location input and geofence monitoring.
type GeofenceHandler struct {
	monitor    *service.GeofenceMonitor
	provider   *service.PushLocationProvider
	tracker    *service.Tracker
	facilities FacilityIndex
}

// NewGeofenceHandler creates a new GeofenceHandler.
func NewGeofenceHandler(monitor *service.GeofenceMonitor, provider *service.PushLocationProvider, tracker *service.Tracker, facilities FacilityIndex) *GeofenceHandler {
	return &GeofenceHandler{
		monitor:    monitor,
		provider:   provider,
		tracker:    tracker,
		facilities: facilities,
	}
}

// LocationRequest is the HTTP request body for a device fix.
type LocationRequest struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// PermissionRequest is the HTTP request body for a permission change.
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// AppStateRequest is the HTTP request body for an app lifecycle change.
type AppStateRequest struct {
	State string `json:"state"`
}

// FacilityRequestBody is the HTTP request body for registering a facility.
type FacilityRequestBody struct {
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// UpdateLocation handles POST /v1/location
func (h *GeofenceHandler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	loc := domain.Location{Lat: req.Lat, Lng: req.Lng, Accuracy: req.Accuracy}
	if req.Timestamp != nil {
		loc.Timestamp = *req.Timestamp
	}
	if err := h.provider.Push(loc); err != nil {
		respondError(c, err)
		return
	}
	h.tracker.UpdateLocation(loc)

	c.Status(http.StatusNoContent)
}

// SetPermission handles POST /v1/location/permission
func (h *GeofenceHandler) SetPermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	h.provider.SetPermission(req.Granted)
	respondJSON(c, http.StatusOK, gin.H{"granted": req.Granted})
}

// AppState handles POST /v1/app-state
func (h *GeofenceHandler) AppState(c *gin.Context) {
	var req AppStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	state := domain.AppState(req.State)
	switch state {
	case domain.AppStateActive, domain.AppStateInactive, domain.AppStateBackground:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid app state"})
		return
	}

	// A failed refresh is already recorded in the monitor state.
	_ = h.monitor.HandleAppStateChange(c.Request.Context(), state)
	respondJSON(c, http.StatusOK, h.monitor.State())
}

// State handles GET /v1/geofence
func (h *GeofenceHandler) State(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.monitor.State())
}

// Start handles POST /v1/geofence/start
func (h *GeofenceHandler) Start(c *gin.Context) {
	h.monitor.Start(c.Request.Context())
	state := h.monitor.State()
	if !state.IsMonitoring {
		respondJSON(c, http.StatusForbidden, state)
		return
	}
	respondJSON(c, http.StatusOK, state)
}

// Stop handles POST /v1/geofence/stop
func (h *GeofenceHandler) Stop(c *gin.Context) {
	h.monitor.Stop()
	respondJSON(c, http.StatusOK, h.monitor.State())
}

// UpsertFacility handles PUT /v1/facilities/:id
func (h *GeofenceHandler) UpsertFacility(c *gin.Context) {
	var req FacilityRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	f := domain.Facility{
		ID:      c.Param("id"),
		Name:    req.Name,
		Address: req.Address,
		Lat:     req.Lat,
		Lng:     req.Lng,
	}
	if f.ID == "" {
		respondError(c, service.ErrInvalidFacility)
		return
	}
	if !geo.ValidCoordinates(f.Lat, f.Lng) {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	if err := h.facilities.Upsert(c.Request.Context(), f); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, f)
}

// RemoveFacility handles DELETE /v1/facilities/:id
func (h *GeofenceHandler) RemoveFacility(c *gin.Context) {
	if err := h.facilities.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NearbyFacilities handles GET /v1/facilities/nearby?lat=&lng=
func (h *GeofenceHandler) NearbyFacilities(c *gin.Context) {
	var q struct {
		Lat float64 `form:"lat"`
		Lng float64 `form:"lng"`
	}
	if err := c.ShouldBindQuery(&q); err != nil || !geo.ValidCoordinates(q.Lat, q.Lng) {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	facilities, err := h.facilities.Candidates(c.Request.Context(), domain.Location{Lat: q.Lat, Lng: q.Lng})
	if err != nil {
		respondError(c, err)
		return
	}
	if facilities == nil {
		facilities = []domain.Facility{}
	}
	respondJSON(c, http.StatusOK, facilities)
}

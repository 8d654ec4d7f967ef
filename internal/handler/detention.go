package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"detention/internal/domain"
	"detention/internal/service"
)

// Defaults are applied when a start request omits the grace period or rate.
type Defaults struct {
	GracePeriodMinutes int
	HourlyRate         float64
}

// DetentionHandler handles HTTP requests for the active detention session.
type DetentionHandler struct {
	tracker  *service.Tracker
	defaults Defaults
}

// NewDetentionHandler creates a new DetentionHandler.
func NewDetentionHandler(tracker *service.Tracker, defaults Defaults) *DetentionHandler {
	return &DetentionHandler{
		tracker:  tracker,
		defaults: defaults,
	}
}

// FacilityRequest identifies the facility a session starts at.
type FacilityRequest struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// StartRequest is the HTTP request body for starting a session.
type StartRequest struct {
	Facility           FacilityRequest `json:"facility"`
	EventType          string          `json:"eventType"`
	GracePeriodMinutes *int            `json:"gracePeriodMinutes,omitempty"`
	HourlyRate         *float64        `json:"hourlyRate,omitempty"`
	LoadReference      string          `json:"loadReference,omitempty"`
}

// NotesRequest is the HTTP request body for replacing notes.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// PhotoRequest is the HTTP request body for queueing a photo.
type PhotoRequest struct {
	LocalURI string   `json:"localUri"`
	Category string   `json:"category,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
	Caption  *string  `json:"caption,omitempty"`
}

// StartResponse is the HTTP response for starting a session.
type StartResponse struct {
	VerificationCode string                 `json:"verificationCode"`
	Detention        domain.ActiveDetention `json:"detention"`
}

// TotalsResponse is the HTTP response for ending a session.
type TotalsResponse struct {
	domain.Totals
	Elapsed   string `json:"elapsed"`
	Detention string `json:"detention"`
	Amount    string `json:"amount"`
}

// StatusResponse is the HTTP response for the session status.
type StatusResponse struct {
	Detention      domain.ActiveDetention `json:"detention"`
	Live           domain.LiveStatus      `json:"live"`
	Elapsed        string                 `json:"elapsed"`
	DetentionTime  string                 `json:"detentionTime"`
	Earnings       string                 `json:"earnings"`
	PendingGpsLogs int                    `json:"pendingGpsLogs"`
	PendingPhotos  int                    `json:"pendingPhotos"`
	IsSyncing      bool                   `json:"isSyncing"`
	LastSyncTime   *time.Time             `json:"lastSyncTime,omitempty"`
	LastGpsLogTime *time.Time             `json:"lastGpsLogTime,omitempty"`
	Closeouts      []domain.Closeout      `json:"closeouts"`
}

// SyncResponse is the HTTP response for a manual sync.
type SyncResponse struct {
	Skipped          bool                `json:"skipped"`
	Active           *service.SyncResult `json:"active,omitempty"`
	ClosedOut        int                 `json:"closedOut"`
	CloseoutsPending int                 `json:"closeoutsPending"`
	Error            string              `json:"error,omitempty"`
}

// Start handles POST /v1/detention/start
func (h *DetentionHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	grace := h.defaults.GracePeriodMinutes
	if req.GracePeriodMinutes != nil {
		grace = *req.GracePeriodMinutes
	}
	rate := h.defaults.HourlyRate
	if req.HourlyRate != nil {
		rate = *req.HourlyRate
	}

	code, err := h.tracker.Start(c.Request.Context(), service.StartRequest{
		Facility: domain.Facility{
			ID:      req.Facility.ID,
			Name:    req.Facility.Name,
			Address: req.Facility.Address,
			Lat:     req.Facility.Lat,
			Lng:     req.Facility.Lng,
		},
		EventType:          domain.EventType(req.EventType),
		GracePeriodMinutes: grace,
		HourlyRate:         rate,
		LoadReference:      req.LoadReference,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, StartResponse{
		VerificationCode: code,
		Detention:        h.tracker.Current(),
	})
}

// End handles POST /v1/detention/end
func (h *DetentionHandler) End(c *gin.Context) {
	totals, err := h.tracker.End(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if totals == nil {
		respondError(c, service.ErrNotTracking)
		return
	}

	respondJSON(c, http.StatusOK, TotalsResponse{
		Totals:    *totals,
		Elapsed:   service.FormatDuration(totals.ElapsedSeconds),
		Detention: service.FormatDuration(totals.DetentionSeconds),
		Amount:    service.FormatCurrency(totals.Earnings),
	})
}

// Reset handles POST /v1/detention/reset
func (h *DetentionHandler) Reset(c *gin.Context) {
	h.tracker.Reset(c.Request.Context())
	respondJSON(c, http.StatusOK, gin.H{"detention": h.tracker.Current()})
}

// UpdateNotes handles PUT /v1/detention/notes
func (h *DetentionHandler) UpdateNotes(c *gin.Context) {
	var req NotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.tracker.UpdateNotes(c.Request.Context(), req.Notes); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"notes": req.Notes})
}

// Status handles GET /v1/detention
func (h *DetentionHandler) Status(c *gin.Context) {
	current := h.tracker.Current()
	live := h.tracker.Live()
	queue := h.tracker.Queue()

	closeouts := h.tracker.Closeouts()
	if closeouts == nil {
		closeouts = []domain.Closeout{}
	}

	respondJSON(c, http.StatusOK, StatusResponse{
		Detention:      current,
		Live:           live,
		Elapsed:        service.FormatDuration(live.ElapsedSeconds),
		DetentionTime:  service.FormatDuration(live.DetentionSeconds),
		Earnings:       service.FormatCurrency(live.Earnings),
		PendingGpsLogs: len(queue.PendingGpsLogs()),
		PendingPhotos:  len(queue.PendingPhotos()),
		IsSyncing:      queue.IsSyncing(),
		LastSyncTime:   queue.LastSyncTime(),
		LastGpsLogTime: queue.LastGpsLogTime(),
		Closeouts:      closeouts,
	})
}

// LogGpsPoint handles POST /v1/detention/gps
func (h *DetentionHandler) LogGpsPoint(c *gin.Context) {
	logged := h.tracker.LogGpsPoint(c.Request.Context())
	respondJSON(c, http.StatusOK, gin.H{"logged": logged})
}

// AddPhoto handles POST /v1/detention/photos
func (h *DetentionHandler) AddPhoto(c *gin.Context) {
	var req PhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.tracker.AddPhoto(c.Request.Context(), service.PhotoInput{
		LocalURI: req.LocalURI,
		Category: domain.PhotoCategory(req.Category),
		Lat:      req.Lat,
		Lng:      req.Lng,
		Caption:  req.Caption,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, gin.H{"pendingPhotos": len(h.tracker.Queue().PendingPhotos())})
}

// Sync handles POST /v1/sync
func (h *DetentionHandler) Sync(c *gin.Context) {
	report, err := h.tracker.Sync(c.Request.Context())

	resp := SyncResponse{
		Skipped:          report.Skipped,
		Active:           report.Active,
		ClosedOut:        report.ClosedOut,
		CloseoutsPending: report.CloseoutsPending,
	}
	status := http.StatusOK
	if report.Skipped {
		status = http.StatusAccepted
	}
	if err != nil {
		// Queued entries are kept; the caller only learns the attempt failed.
		resp.Error = err.Error()
		status = mapErrorToHTTPStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
	}
	respondJSON(c, status, resp)
}

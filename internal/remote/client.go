// Package remote implements the event store over the back office REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"detention/internal/domain"
	"detention/internal/repository"
)

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 512

// Client talks to the detention events API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client. A nil httpClient gets a client with timeout.
func NewClient(baseURL, token string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

type createEventRequest struct {
	VerificationCode   string           `json:"verificationCode"`
	FacilityID         string           `json:"facilityId"`
	FacilityName       string           `json:"facilityName"`
	EventType          domain.EventType `json:"eventType"`
	LoadReference      string           `json:"loadReference,omitempty"`
	ArrivalTime        time.Time        `json:"arrivalTime"`
	GracePeriodMinutes int              `json:"gracePeriodMinutes"`
	HourlyRate         float64          `json:"hourlyRate"`
	Notes              string           `json:"notes,omitempty"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

type gpsLog struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type photoRequest struct {
	LocalURI  string               `json:"localUri"`
	Category  domain.PhotoCategory `json:"category"`
	Lat       *float64             `json:"lat,omitempty"`
	Lng       *float64             `json:"lng,omitempty"`
	Caption   *string              `json:"caption,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

type endEventRequest struct {
	DepartureTime    time.Time `json:"departureTime"`
	ElapsedSeconds   int64     `json:"elapsedSeconds"`
	DetentionSeconds int64     `json:"detentionSeconds"`
	Earnings         float64   `json:"earnings"`
	Notes            string    `json:"notes,omitempty"`
}

// CreateEvent registers the session. The idempotency key is derived from the
// verification code, so a retried create returns the original id.
func (c *Client) CreateEvent(ctx context.Context, session domain.ActiveDetention) (string, error) {
	if session.VerificationCode == "" || session.FacilityID == nil || session.ArrivalTime == nil {
		return "", repository.ErrValidation
	}

	body := createEventRequest{
		VerificationCode:   session.VerificationCode,
		FacilityID:         *session.FacilityID,
		FacilityName:       session.FacilityName,
		EventType:          session.EventType,
		LoadReference:      session.LoadReference,
		ArrivalTime:        *session.ArrivalTime,
		GracePeriodMinutes: session.GracePeriodMinutes,
		HourlyRate:         session.HourlyRate,
		Notes:              session.Notes,
	}

	var resp createEventResponse
	if err := c.do(ctx, http.MethodPost, "/detention-events", idempotencyKey("create", session.VerificationCode), body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: create response without id", repository.ErrValidation)
	}
	return resp.ID, nil
}

// AppendGpsLogs posts a batch of breadcrumbs.
func (c *Client) AppendGpsLogs(ctx context.Context, remoteID string, entries []domain.PendingGpsLog) error {
	if len(entries) == 0 {
		return nil
	}
	logs := make([]gpsLog, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, gpsLog{Lat: e.Lat, Lng: e.Lng, Accuracy: e.Accuracy, Timestamp: e.Timestamp})
	}
	body := struct {
		Logs []gpsLog `json:"logs"`
	}{Logs: logs}

	return c.do(ctx, http.MethodPost, eventPath(remoteID, "gps-logs"), gpsBatchKey(remoteID, logs), body, nil)
}

// gpsBatchKey keys a batch by every entry in it. Only a batch carrying the
// same fixes in the same order maps to the same key.
func gpsBatchKey(remoteID string, logs []gpsLog) string {
	parts := make([]string, 0, len(logs)+2)
	parts = append(parts, "gps", remoteID)
	for _, l := range logs {
		acc := "-"
		if l.Accuracy != nil {
			acc = strconv.FormatFloat(*l.Accuracy, 'g', -1, 64)
		}
		parts = append(parts, fmt.Sprintf("%s,%s,%s,%s",
			l.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(l.Lat, 'g', -1, 64),
			strconv.FormatFloat(l.Lng, 'g', -1, 64),
			acc,
		))
	}
	return idempotencyKey(parts...)
}

// UploadPhoto posts photo metadata. The local uri keys idempotency.
func (c *Client) UploadPhoto(ctx context.Context, remoteID string, photo domain.PendingPhoto) error {
	if photo.LocalURI == "" {
		return repository.ErrValidation
	}
	body := photoRequest{
		LocalURI:  photo.LocalURI,
		Category:  photo.Category,
		Lat:       photo.Lat,
		Lng:       photo.Lng,
		Caption:   photo.Caption,
		Timestamp: photo.Timestamp,
	}
	return c.do(ctx, http.MethodPost, eventPath(remoteID, "photos"), idempotencyKey("photo", remoteID, photo.LocalURI), body, nil)
}

// EndEvent posts the final totals.
func (c *Client) EndEvent(ctx context.Context, remoteID string, totals domain.Totals) error {
	body := endEventRequest{
		DepartureTime:    totals.DepartureTime,
		ElapsedSeconds:   totals.ElapsedSeconds,
		DetentionSeconds: totals.DetentionSeconds,
		Earnings:         totals.Earnings,
		Notes:            totals.Session.Notes,
	}
	return c.do(ctx, http.MethodPost, eventPath(remoteID, "end"), idempotencyKey("end", remoteID), body, nil)
}

// VoidEvent marks a discarded event as void.
func (c *Client) VoidEvent(ctx context.Context, remoteID string) error {
	return c.do(ctx, http.MethodPost, eventPath(remoteID, "void"), idempotencyKey("void", remoteID), struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, path, key string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", repository.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s", statusError(resp.StatusCode), method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", repository.ErrValidation, err)
	}
	return nil
}

// statusError maps a non-2xx status to a repository sentinel. Throttling and
// server errors are retryable; other client errors are not.
func statusError(code int) error {
	switch {
	case code == http.StatusNotFound:
		return repository.ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return repository.ErrNetwork
	default:
		return repository.ErrValidation
	}
}

func eventPath(remoteID, action string) string {
	return "/detention-events/" + url.PathEscape(remoteID) + "/" + action
}

// idempotencyKey derives a stable key so a retried request is recognised.
func idempotencyKey(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "|"))).String()
}

// Ensure Client implements repository.EventStore.
var _ repository.EventStore = (*Client)(nil)

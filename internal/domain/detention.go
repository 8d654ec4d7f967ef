package domain

import "time"

// EventType identifies which side of a load a detention event covers.
type EventType string

const (
	EventTypePickup   EventType = "pickup"
	EventTypeDelivery EventType = "delivery"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypePickup || t == EventTypeDelivery
}

// ActiveDetention is the single live detention session on a device.
// The zero value is the canonical idle shape.
type ActiveDetention struct {
	ID                 *string    `json:"id"`
	FacilityID         *string    `json:"facilityId"`
	FacilityName       string     `json:"facilityName"`
	EventType          EventType  `json:"eventType"`
	LoadReference      string     `json:"loadReference,omitempty"`
	ArrivalTime        *time.Time `json:"arrivalTime"`
	GracePeriodMinutes int        `json:"gracePeriodMinutes"`
	HourlyRate         float64    `json:"hourlyRate"`
	IsTracking         bool       `json:"isTracking"`
	Notes              string     `json:"notes,omitempty"`
	VerificationCode   string     `json:"verificationCode"`
}

// IdleDetention returns the canonical idle value.
func IdleDetention() ActiveDetention {
	return ActiveDetention{}
}

// IsIdle reports whether d is exactly the canonical idle value.
func (d ActiveDetention) IsIdle() bool {
	return d == ActiveDetention{}
}

// RemoteID returns the acknowledged remote identifier, or "" if none yet.
func (d ActiveDetention) RemoteID() string {
	if d.ID == nil {
		return ""
	}
	return *d.ID
}

// Clone returns a deep copy so callers cannot alias the live pointers.
func (d ActiveDetention) Clone() ActiveDetention {
	out := d
	if d.ID != nil {
		id := *d.ID
		out.ID = &id
	}
	if d.FacilityID != nil {
		fid := *d.FacilityID
		out.FacilityID = &fid
	}
	if d.ArrivalTime != nil {
		at := *d.ArrivalTime
		out.ArrivalTime = &at
	}
	return out
}

// LiveStatus is the calculator's view of a session at a given instant.
type LiveStatus struct {
	IsTracking       bool       `json:"isTracking"`
	ElapsedSeconds   int64      `json:"elapsedSeconds"`
	DetentionSeconds int64      `json:"detentionSeconds"`
	Earnings         float64    `json:"earnings"`
	InGracePeriod    bool       `json:"inGracePeriod"`
	GraceDeadline    *time.Time `json:"graceDeadline,omitempty"`
	At               time.Time  `json:"at"`
}

// Totals are the final figures computed when a session ends.
type Totals struct {
	ElapsedSeconds   int64           `json:"elapsedSeconds"`
	DetentionSeconds int64           `json:"detentionSeconds"`
	Earnings         float64         `json:"earnings"`
	DepartureTime    time.Time       `json:"departureTime"`
	RemoteID         string          `json:"remoteId,omitempty"`
	VerificationCode string          `json:"verificationCode"`
	Session          ActiveDetention `json:"session"`
}

// Closeout is an ended session whose remote reconciliation is still pending.
// A voided closeout comes from a reset: its event is voided instead of ended
// and its evidence is not uploaded.
type Closeout struct {
	Totals    Totals `json:"totals"`
	Voided    bool   `json:"voided,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

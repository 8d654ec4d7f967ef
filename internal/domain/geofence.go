package domain

import "time"

// GeofenceEventKind is either an entry into or an exit from a facility radius.
type GeofenceEventKind string

const (
	GeofenceEnter GeofenceEventKind = "enter"
	GeofenceExit  GeofenceEventKind = "exit"
)

// GeofenceEvent is raised when the detected facility changes.
type GeofenceEvent struct {
	Kind     GeofenceEventKind `json:"kind"`
	Facility Facility          `json:"facility"`
	At       time.Time         `json:"at"`
}

// GeofenceState is the transient monitor state. It is never persisted.
type GeofenceState struct {
	IsMonitoring     bool       `json:"isMonitoring"`
	CurrentLocation  *Location  `json:"currentLocation"`
	DetectedFacility *Facility  `json:"detectedFacility"`
	LastUpdate       *time.Time `json:"lastUpdate"`
	Error            string     `json:"error,omitempty"`
}

// AppState mirrors the host application's foreground state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

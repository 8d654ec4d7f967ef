package service

import "errors"

var (
	// ErrSessionAlreadyActive is returned when starting while a session is live.
	ErrSessionAlreadyActive = errors.New("detention session already active")

	// ErrNotTracking is returned by operations that require a live session.
	ErrNotTracking = errors.New("no active detention session")

	// ErrInvalidFacility is returned when the facility id is empty.
	ErrInvalidFacility = errors.New("invalid facility")

	// ErrInvalidEventType is returned for event types other than pickup/delivery.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrInvalidGracePeriod is returned when the grace period is negative.
	ErrInvalidGracePeriod = errors.New("invalid grace period")

	// ErrInvalidHourlyRate is returned when the hourly rate is negative.
	ErrInvalidHourlyRate = errors.New("invalid hourly rate")

	// ErrInvalidRemoteID is returned when attaching an empty remote id.
	ErrInvalidRemoteID = errors.New("invalid remote id")

	// ErrSessionMismatch is returned when a remote id arrives for a session
	// that is no longer the active one.
	ErrSessionMismatch = errors.New("verification code does not match active session")

	// ErrRemoteIDAlreadySet is returned when the active session already has a
	// different remote id.
	ErrRemoteIDAlreadySet = errors.New("remote id already attached")

	// ErrInvalidPhoto is returned when a photo has no local uri or a bad category.
	ErrInvalidPhoto = errors.New("invalid photo")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrPermissionDenied is returned when location permission is not granted.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationUnavailable is returned when no location fix is available.
	ErrLocationUnavailable = errors.New("location unavailable")
)

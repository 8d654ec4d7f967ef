package repository

import (
	"context"

	"detention/internal/domain"
)

// EventStore is the remote record of detention events. Implementations may
// be a SQL table, a REST service, or anything else; the session core only
// sees this contract.
type EventStore interface {
	// CreateEvent records a new event and returns its remote id. Creating the
	// same session twice (same verification code) returns the same id.
	CreateEvent(ctx context.Context, session domain.ActiveDetention) (string, error)

	// AppendGpsLogs attaches breadcrumbs to an event.
	AppendGpsLogs(ctx context.Context, remoteID string, entries []domain.PendingGpsLog) error

	// EndEvent stores the final totals of an event.
	EndEvent(ctx context.Context, remoteID string, totals domain.Totals) error

	// VoidEvent closes an event that was discarded without totals. Voiding
	// an already voided event is a no-op.
	VoidEvent(ctx context.Context, remoteID string) error

	// UploadPhoto attaches photo evidence to an event. Uploading the same
	// local uri twice is a no-op.
	UploadPhoto(ctx context.Context, remoteID string, photo domain.PendingPhoto) error
}

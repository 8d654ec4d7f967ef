package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"detention/internal/domain"
	"detention/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS detention_events (
	id                   TEXT PRIMARY KEY,
	verification_code    TEXT NOT NULL UNIQUE,
	facility_id          TEXT NOT NULL,
	facility_name        TEXT NOT NULL DEFAULT '',
	event_type           TEXT NOT NULL,
	load_reference       TEXT NOT NULL DEFAULT '',
	arrival_time         TIMESTAMPTZ NOT NULL,
	grace_period_minutes INTEGER NOT NULL,
	hourly_rate          DOUBLE PRECISION NOT NULL,
	notes                TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'active',
	departure_time       TIMESTAMPTZ,
	elapsed_seconds      BIGINT,
	detention_seconds    BIGINT,
	earnings             DOUBLE PRECISION,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS detention_gps_logs (
	id          BIGSERIAL PRIMARY KEY,
	event_id    TEXT NOT NULL REFERENCES detention_events(id),
	lat         DOUBLE PRECISION NOT NULL,
	lng         DOUBLE PRECISION NOT NULL,
	accuracy    DOUBLE PRECISION,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE (event_id, recorded_at, lat, lng)
);

CREATE TABLE IF NOT EXISTS detention_photos (
	event_id  TEXT NOT NULL REFERENCES detention_events(id),
	local_uri TEXT NOT NULL,
	category  TEXT NOT NULL,
	lat       DOUBLE PRECISION,
	lng       DOUBLE PRECISION,
	caption   TEXT,
	taken_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, local_uri)
);
`

// EventRepository is a PostgreSQL implementation of repository.EventStore.
type EventRepository struct {
	db *sql.DB
	q  Querier
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db, q: db}
}

// EnsureSchema creates the event tables if they do not exist.
func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure detention schema: %w", classify(err))
	}
	return nil
}

// CreateEvent inserts the event, or returns the existing id when the
// verification code was already recorded.
func (r *EventRepository) CreateEvent(ctx context.Context, session domain.ActiveDetention) (string, error) {
	if session.VerificationCode == "" || session.FacilityID == nil || session.ArrivalTime == nil {
		return "", repository.ErrValidation
	}

	query := `
		INSERT INTO detention_events (id, verification_code, facility_id, facility_name, event_type, load_reference, arrival_time, grace_period_minutes, hourly_rate, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (verification_code) DO UPDATE SET verification_code = EXCLUDED.verification_code
		RETURNING id
	`

	var id string
	err := r.q.QueryRowContext(ctx, query,
		uuid.New().String(),
		session.VerificationCode,
		*session.FacilityID,
		session.FacilityName,
		session.EventType,
		session.LoadReference,
		*session.ArrivalTime,
		session.GracePeriodMinutes,
		session.HourlyRate,
		session.Notes,
	).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// AppendGpsLogs inserts the breadcrumbs in one transaction. Points already
// stored by an earlier, unacknowledged attempt are skipped.
func (r *EventRepository) AppendGpsLogs(ctx context.Context, remoteID string, entries []domain.PendingGpsLog) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()

	if err := requireEvent(ctx, tx, remoteID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detention_gps_logs (event_id, lat, lng, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, recorded_at, lat, lng) DO NOTHING
	`)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, remoteID, e.Lat, e.Lng, nullFloat(e.Accuracy), e.Timestamp); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// UploadPhoto records photo metadata. Re-uploading the same local uri is a
// no-op.
func (r *EventRepository) UploadPhoto(ctx context.Context, remoteID string, photo domain.PendingPhoto) error {
	if photo.LocalURI == "" {
		return repository.ErrValidation
	}
	if err := requireEvent(ctx, r.q, remoteID); err != nil {
		return err
	}

	query := `
		INSERT INTO detention_photos (event_id, local_uri, category, lat, lng, caption, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, local_uri) DO NOTHING
	`

	var caption sql.NullString
	if photo.Caption != nil {
		caption = sql.NullString{String: *photo.Caption, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		remoteID,
		photo.LocalURI,
		photo.Category,
		nullFloat(photo.Lat),
		nullFloat(photo.Lng),
		caption,
		photo.Timestamp,
	)
	return classify(err)
}

// EndEvent stores the final totals and notes.
func (r *EventRepository) EndEvent(ctx context.Context, remoteID string, totals domain.Totals) error {
	query := `
		UPDATE detention_events
		SET status = 'ended', departure_time = $1, elapsed_seconds = $2, detention_seconds = $3, earnings = $4, notes = $5
		WHERE id = $6
	`

	result, err := r.q.ExecContext(ctx, query,
		totals.DepartureTime,
		totals.ElapsedSeconds,
		totals.DetentionSeconds,
		totals.Earnings,
		totals.Session.Notes,
		remoteID,
	)
	if err != nil {
		return classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// VoidEvent marks an active event as voided. Events that already ended or
// were voided are left unchanged.
func (r *EventRepository) VoidEvent(ctx context.Context, remoteID string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE detention_events SET status = 'voided' WHERE id = $1 AND status = 'active'`,
		remoteID,
	)
	if err != nil {
		return classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if rowsAffected == 0 {
		return requireEvent(ctx, r.q, remoteID)
	}
	return nil
}

func requireEvent(ctx context.Context, q Querier, remoteID string) error {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM detention_events WHERE id = $1)`, remoteID).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// classify maps driver errors onto the repository sentinels so callers can
// tell retryable failures from rejected payloads.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %s", repository.ErrNetwork, pqErr.Message)
		case "22", "23":
			return fmt.Errorf("%w: %s", repository.ErrValidation, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", repository.ErrNetwork, err)
	}
	return err
}

// Ensure EventRepository implements repository.EventStore.
var _ repository.EventStore = (*EventRepository)(nil)

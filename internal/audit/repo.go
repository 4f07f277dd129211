package audit

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds recorded by the dashboard.
const (
	KindSessionStarted = "session_started"
	KindManualEntry    = "manual_entry"
	KindExport         = "export"
)

// Event is one line of dashboard activity.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Teacher   string    `json:"teacher"`
	SessionID string    `json:"session_id,omitempty"`
	Course    string    `json:"course,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	When      time.Time `json:"when"`
}

const schema = `
CREATE TABLE IF NOT EXISTS dashboard_events (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	teacher     TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	course      TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS dashboard_events_session_idx ON dashboard_events (session_id, occurred_at DESC);
`

// Repository persists dashboard activity in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the events table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// InsertEvent writes a new event, filling in id and timestamp when absent.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.Kind == "" {
		return Event{}, errors.New("event kind required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.When.IsZero() {
		evt.When = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dashboard_events (id, kind, teacher, session_id, course, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.Kind, evt.Teacher, evt.SessionID, evt.Course, evt.Detail, evt.When)
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ListEvents returns events newest first, optionally filtered by teacher and session.
func (r *Repository) ListEvents(ctx context.Context, teacher, sessionID string, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, kind, teacher, session_id, course, detail, occurred_at FROM dashboard_events`
	args := []any{}
	clauses := []string{}
	if teacher != "" {
		args = append(args, teacher)
		clauses = append(clauses, "teacher = $"+strconv.Itoa(len(args)))
	}
	if sessionID != "" {
		args = append(args, sessionID)
		clauses = append(clauses, "session_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Kind, &evt.Teacher, &evt.SessionID, &evt.Course, &evt.Detail, &evt.When); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

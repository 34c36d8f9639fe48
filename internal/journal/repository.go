package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// timeLayout is fixed-width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// EventEntry is one recorded controller event.
type EventEntry struct {
	ID          int64             `json:"id"`
	Resource    string            `json:"resource"`
	Fields      map[string]string `json:"fields"`
	Subscribers int               `json:"subscribers"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MastershipEntry is one recorded mastership transition.
type MastershipEntry struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Transition string    `json:"transition"`
	Holders    int       `json:"holders"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository stores the journal in SQLite (tables event_history and
// mastership_audit, created by the embedded migrations).
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordEvent inserts one dispatched event.
func (r *Repository) RecordEvent(ctx context.Context, resource string, fields map[string]string, subscribers int, at time.Time) error {
	if resource == "" {
		return fmt.Errorf("resource is required")
	}
	if fields == nil {
		fields = map[string]string{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshalling event fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO event_history (resource, fields, subscribers, created_at) VALUES (?, ?, ?, ?)",
		resource, string(fieldsJSON), subscribers, formatTime(at))
	if err != nil {
		return fmt.Errorf("inserting event history: %w", err)
	}
	return nil
}

// EventHistory returns recent events for a resource, newest first.
// limit defaults to 50 and is capped at 500.
func (r *Repository) EventHistory(ctx context.Context, resource string, limit int) ([]EventEntry, error) {
	if resource == "" {
		return nil, fmt.Errorf("resource is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, resource, fields, subscribers, created_at
		 FROM event_history
		 WHERE resource = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		resource, limit)
	if err != nil {
		return nil, fmt.Errorf("querying event history: %w", err)
	}
	defer rows.Close()

	entries := make([]EventEntry, 0, limit)
	for rows.Next() {
		var e EventEntry
		var fieldsJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.Resource, &fieldsJSON, &e.Subscribers, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event history: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &e.Fields); err != nil {
			return nil, fmt.Errorf("unmarshalling event fields: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event history: %w", err)
	}
	return entries, nil
}

// RecordMastership inserts one mastership transition.
func (r *Repository) RecordMastership(ctx context.Context, kind, transition string, holders int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO mastership_audit (kind, transition, holders, created_at) VALUES (?, ?, ?, ?)",
		kind, transition, holders, formatTime(at))
	if err != nil {
		return fmt.Errorf("inserting mastership audit: %w", err)
	}
	return nil
}

// MastershipHistory returns recent transitions of both kinds, newest first.
func (r *Repository) MastershipHistory(ctx context.Context, limit int) ([]MastershipEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, transition, holders, created_at
		 FROM mastership_audit
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying mastership audit: %w", err)
	}
	defer rows.Close()

	var entries []MastershipEntry
	for rows.Next() {
		var e MastershipEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Transition, &e.Holders, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning mastership audit: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mastership audit: %w", err)
	}
	return entries, nil
}

// Prune deletes journal rows older than olderThan from both tables.
//
// Returns:
//   - int64: Total rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(time.Now().Add(-olderThan))

	var total int64
	for _, table := range []string{"event_history", "mastership_audit"} {
		result, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff) //nolint:gosec // table names are constants
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SQLiteRepository stores journal entries in the diag_results table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over an already migrated
// database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. CreatedAt and ID are assigned by the database.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.UDN == "" {
		return ErrUDNRequired
	}
	if e.Summary == nil {
		e.Summary = map[string]any{}
	}

	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return fmt.Errorf("marshalling summary: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO diag_results (kind, udn, path, test_id, status, summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.UDN, e.Path, int64(e.TestID), e.Status, string(summary),
	)
	if err != nil {
		return fmt.Errorf("inserting result: %w", err)
	}
	return nil
}

// List returns up to limit entries ordered newest first (default 50,
// max 200).
func (r *SQLiteRepository) List(ctx context.Context, udn string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, kind, udn, path, test_id, status, summary, created_at FROM diag_results`
	args := []any{}
	if udn != "" {
		query += ` WHERE udn = ?`
		args = append(args, udn)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var testID int64
		var summary, createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.UDN, &e.Path, &testID, &e.Status, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		e.TestID = uint32(testID) //nolint:gosec // written from a uint32
		if err := json.Unmarshal([]byte(summary), &e.Summary); err != nil {
			return nil, fmt.Errorf("unmarshalling summary: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return entries, nil
}

// Prune deletes entries created more than olderThan ago.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx, "DELETE FROM diag_results WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}

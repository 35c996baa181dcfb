package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateRun records the start of an ingestion run and returns its ID.
func (db *DB) CreateRun(ctx context.Context) (string, error) {
	id := uuid.NewString()

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO runs (id, started_at) VALUES (?, ?)", id, db.timestamp())
	if err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return id, nil
}

// FinishRun stores the counts and message of a completed run.
func (db *DB) FinishRun(ctx context.Context, r Run) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, fetched = ?, kept = ?, ingested = ?,
			created = ?, updated = ?, error_count = ?, message = ?
		WHERE id = ?`,
		db.timestamp(), r.Fetched, r.Kept, r.Ingested, r.Created, r.Updated,
		r.ErrorCount, r.Message, r.ID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: not found", r.ID)
	}
	return nil
}

// LastRun returns the most recently started run, or nil if none exist.
func (db *DB) LastRun(ctx context.Context) (*Run, error) {
	var r Run
	var finished sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, fetched, kept, ingested, created, updated,
			error_count, COALESCE(message, '')
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &r.StartedAt, &finished, &r.Fetched, &r.Kept, &r.Ingested,
		&r.Created, &r.Updated, &r.ErrorCount, &r.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	r.FinishedAt = finished.String
	return &r, nil
}

// Stats returns aggregate counts. today decides which rows are still open.
func (db *DB) Stats(ctx context.Context, today string) (*Stats, error) {
	var s Stats
	var err error
	if s.Total, err = db.CountOpportunities(ctx, Query{}); err != nil {
		return nil, err
	}
	if s.Open, err = db.CountOpportunities(ctx, Query{OpenOnly: true, Today: today}); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&s.Runs); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	if s.LastRun, err = db.LastRun(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

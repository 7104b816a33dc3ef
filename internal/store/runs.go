package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BeginRun inserts a running run and returns it with its ID set
func (s *Store) BeginRun(kind, exportPath string) (*Run, error) {
	r := &Run{
		Kind:       kind,
		ExportPath: exportPath,
		StartedAt:  time.Now(),
		Status:     RunRunning,
	}

	result, err := s.db.Exec(`
		INSERT INTO runs (kind, export_path, started_at, status)
		VALUES (?, ?, ?, ?)
	`, r.Kind, r.ExportPath, r.StartedAt, r.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	r.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get run ID: %w", err)
	}

	return r, nil
}

// FinishRun stores the final counts and status of r
func (s *Store) FinishRun(r *Run) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, workouts = ?, record_types = ?,
		       skipped = ?, error = ?, event_log = ?
		WHERE id = ?
	`, r.FinishedAt, r.Status, r.Workouts, r.RecordTypes, r.Skipped, r.Error, r.EventLog, r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", r.ID, err)
	}

	return nil
}

const runColumns = `
	id, kind, export_path, started_at, finished_at, status,
	workouts, record_types, skipped, COALESCE(error, ''), COALESCE(event_log, '')`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var finished sql.NullTime
	err := row.Scan(
		&r.ID, &r.Kind, &r.ExportPath, &r.StartedAt, &finished, &r.Status,
		&r.Workouts, &r.RecordTypes, &r.Skipped, &r.Error, &r.EventLog,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}

// GetRun retrieves a run by ID, nil if absent
func (s *Store) GetRun(id int64) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the newest run of the given kind (any kind if empty),
// nil if there is none
func (s *Store) LatestRun(kind string) (*Run, error) {
	var row *sql.Row
	if kind == "" {
		row = s.db.QueryRow(`SELECT ` + runColumns + ` FROM runs ORDER BY id DESC LIMIT 1`)
	} else {
		row = s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE kind = ? ORDER BY id DESC LIMIT 1`, kind)
	}

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

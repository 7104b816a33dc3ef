package store

import (
	"fmt"
)

// InsertSkippedBatch stores the items a run skipped in one transaction
func (s *Store) InsertSkippedBatch(items []*SkippedItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO skipped_items (run_id, stage, item, workout_uuid, error)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		result, err := stmt.Exec(it.RunID, it.Stage, it.Item, it.WorkoutUUID, it.Error)
		if err != nil {
			return fmt.Errorf("failed to insert skipped item %s: %w", it.Item, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			it.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetSkippedItems returns the items skipped by a run in insertion order
func (s *Store) GetSkippedItems(runID int64) ([]*SkippedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, stage, COALESCE(item, ''), COALESCE(workout_uuid, ''), COALESCE(error, '')
		FROM skipped_items
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get skipped items: %w", err)
	}
	defer rows.Close()

	var items []*SkippedItem
	for rows.Next() {
		it := &SkippedItem{}
		if err := rows.Scan(&it.ID, &it.RunID, &it.Stage, &it.Item, &it.WorkoutUUID, &it.Error); err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	return items, rows.Err()
}

// CountSkippedByStage returns skipped item counts per stage for a run
func (s *Store) CountSkippedByStage(runID int64) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT stage, COUNT(*) FROM skipped_items
		WHERE run_id = ?
		GROUP BY stage
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count skipped items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[stage] = n
	}

	return counts, rows.Err()
}

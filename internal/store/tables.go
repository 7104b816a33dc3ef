package store

import (
	"database/sql"
	"fmt"
)

// RecordTable inserts or replaces the index entry of a cache file
func (s *Store) RecordTable(e *TableEntry) error {
	var runID any
	if e.RunID != 0 {
		runID = e.RunID
	}

	_, err := s.db.Exec(`
		INSERT INTO cache_tables (name, item_id, path, rows, columns, bytes, sha1, run_id, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name, item_id) DO UPDATE SET
			path = excluded.path,
			rows = excluded.rows,
			columns = excluded.columns,
			bytes = excluded.bytes,
			sha1 = excluded.sha1,
			run_id = excluded.run_id,
			written_at = CURRENT_TIMESTAMP
	`, e.Name, e.ItemID, e.Path, e.Rows, e.Columns, e.Bytes, e.SHA1, runID)
	if err != nil {
		return fmt.Errorf("failed to record table %s/%s: %w", e.Name, e.ItemID, err)
	}

	return nil
}

const tableColumns = `
	name, item_id, path, rows, columns, bytes, COALESCE(sha1, ''),
	COALESCE(run_id, 0), written_at`

func scanTables(rows *sql.Rows) ([]*TableEntry, error) {
	defer rows.Close()

	var entries []*TableEntry
	for rows.Next() {
		e := &TableEntry{}
		if err := rows.Scan(
			&e.Name, &e.ItemID, &e.Path, &e.Rows, &e.Columns, &e.Bytes, &e.SHA1,
			&e.RunID, &e.WrittenAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetTable retrieves one entry, nil if absent
func (s *Store) GetTable(name, itemID string) (*TableEntry, error) {
	rows, err := s.db.Query(`SELECT `+tableColumns+` FROM cache_tables WHERE name = ? AND item_id = ?`, name, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get table: %w", err)
	}

	entries, err := scanTables(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// GetAllTables returns every indexed cache file ordered by name and item
func (s *Store) GetAllTables() ([]*TableEntry, error) {
	rows, err := s.db.Query(`SELECT ` + tableColumns + ` FROM cache_tables ORDER BY name, item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return scanTables(rows)
}

// GetTablesForRun returns the files written by one run
func (s *Store) GetTablesForRun(runID int64) ([]*TableEntry, error) {
	rows, err := s.db.Query(`SELECT `+tableColumns+` FROM cache_tables WHERE run_id = ? ORDER BY name, item_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables for run %d: %w", runID, err)
	}
	return scanTables(rows)
}

// TableStats aggregates the entries sharing one table name
type TableStats struct {
	Name  string
	Files int
	Rows  int
	Bytes int64
}

// GetTableStats returns per-name totals over the whole index
func (s *Store) GetTableStats() ([]TableStats, error) {
	rows, err := s.db.Query(`
		SELECT name, COUNT(*), COALESCE(SUM(rows), 0), COALESCE(SUM(bytes), 0)
		FROM cache_tables
		GROUP BY name
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var st TableStats
		if err := rows.Scan(&st.Name, &st.Files, &st.Rows, &st.Bytes); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// DeleteItemTables drops the per-item entries of the given table names
func (s *Store) DeleteItemTables(names ...string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.Exec(`DELETE FROM cache_tables WHERE name = ? AND item_id != ''`, name); err != nil {
				return fmt.Errorf("failed to delete %s entries: %w", name, err)
			}
		}
		return nil
	})
}

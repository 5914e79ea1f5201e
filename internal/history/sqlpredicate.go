package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/open-aviation/tangram/internal/codec"
)

// matchRowIndexes loads rows into a transient in-memory SQLite table
// and returns the row indexes matching predicateSQL, a bare SQL
// WHERE-clause fragment supplied by the caller. Used to select rows
// for DeleteRows and for its dry-run preview. Indexes rather than rows are
// returned because codec.HistoryRow holds pointer fields and is not
// safely comparable by value.
func matchRowIndexes(rows []codec.HistoryRow, predicateSQL string) (map[int]bool, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open predicate evaluator: %w", err)
	}
	defer db.Close()

	const createTable = `CREATE TABLE rows (
		row_index INTEGER PRIMARY KEY,
		identifier TEXT,
		timestamp_ms INTEGER,
		latitude REAL,
		longitude REAL,
		altitude REAL,
		callsign TEXT,
		track REAL
	)`
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("create predicate table: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO rows (row_index, identifier, timestamp_ms, latitude, longitude, altitude, callsign, track)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare predicate insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.Exec(i, row.Identifier, row.TimestampMs, row.Latitude, row.Longitude, row.Altitude, row.Callsign, row.Track); err != nil {
			return nil, fmt.Errorf("load row %d: %w", i, err)
		}
	}

	query := fmt.Sprintf("SELECT row_index FROM rows WHERE %s", predicateSQL)
	result, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("evaluate predicate %q: %w", predicateSQL, err)
	}
	defer result.Close()

	matched := make(map[int]bool)
	for result.Next() {
		var idx int
		if err := result.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan predicate result: %w", err)
		}
		matched[idx] = true
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("iterate predicate result: %w", err)
	}
	return matched, nil
}

// DeleteRows removes every row in the table matching predicateSQL.
// It reads every live data file and, for each file with a match,
// commits a version removing it and, when rows remain, writes those
// rows to a new file and commits a second version adding it. A file
// whose rows are entirely removed is simply not re-added. Mutually exclusive with flush and compaction via the
// table's pause semaphore and write lock; returns immediately with an
// error if maintenance already holds the pause slot rather than
// blocking the caller indefinitely.
func (t *Table) DeleteRows(predicateSQL string) (deleted int, err error) {
	select {
	case t.pauseSem <- struct{}{}:
		defer func() { <-t.pauseSem }()
	default:
		return 0, fmt.Errorf("delete rows on %s: table busy with maintenance", t.Name)
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.mu.Lock()
	t.state = stateDeleting
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.state = stateIdle
		t.mu.Unlock()
	}()

	versions, readErr := readLog(t.dir)
	if readErr != nil {
		return 0, fmt.Errorf("delete rows %s: %w", t.Name, readErr)
	}
	files, _, _ := currentState(versions)

	now := time.Now().Unix()
	for _, path := range files {
		fullPath := filepath.Join(t.dir, path)
		rows, readErr := readDataFile(fullPath)
		if readErr != nil {
			return deleted, fmt.Errorf("delete rows: read %s: %w", path, readErr)
		}

		toRemove, matchErr := matchRowIndexes(rows, predicateSQL)
		if matchErr != nil {
			return deleted, matchErr
		}
		if len(toRemove) == 0 {
			continue
		}

		var kept []codec.HistoryRow
		for i, row := range rows {
			if toRemove[i] {
				deleted++
				continue
			}
			kept = append(kept, row)
		}

		if _, err := appendVersion(t.dir, Action{Remove: &RemoveAction{Path: path, DeletionTimestamp: now}}); err != nil {
			return deleted, fmt.Errorf("delete rows: commit remove %s: %w", path, err)
		}
		if len(kept) == 0 {
			continue
		}

		newName := fmt.Sprintf("part-%s.parquet", uuid.NewString())
		size, writeErr := writeDataFile(filepath.Join(t.dir, newName), kept)
		if writeErr != nil {
			return deleted, fmt.Errorf("delete rows: rewrite %s: %w", path, writeErr)
		}
		if _, err := appendVersion(t.dir, Action{Add: &AddAction{Path: newName, Size: size}}); err != nil {
			return deleted, fmt.Errorf("delete rows: commit add %s: %w", newName, err)
		}
	}
	return deleted, nil
}

// previewDeleteRows evaluates predicateSQL against every live data
// file without mutating anything, for the --dry-run path of the
// DeleteRows command.
func (t *Table) previewDeleteRows(predicateSQL string) (int, []json.RawMessage, error) {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	versions, err := readLog(t.dir)
	if err != nil {
		return 0, nil, fmt.Errorf("preview delete rows %s: %w", t.Name, err)
	}
	files, _, _ := currentState(versions)

	var matchedCount int
	var preview []json.RawMessage
	for _, path := range files {
		rows, err := readDataFile(filepath.Join(t.dir, path))
		if err != nil {
			return matchedCount, preview, fmt.Errorf("preview delete rows: read %s: %w", path, err)
		}
		indexes, err := matchRowIndexes(rows, predicateSQL)
		if err != nil {
			return matchedCount, preview, err
		}
		for i := range indexes {
			matchedCount++
			if raw, err := json.Marshal(rows[i]); err == nil {
				preview = append(preview, raw)
			}
		}
	}
	return matchedCount, preview, nil
}

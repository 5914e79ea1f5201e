package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/open-aviation/tangram/internal/codec"
)

// Optimize compacts a table's small data files into larger ones,
// pausing new flushes for its duration via the same pause semaphore a
// delete uses.
func (t *Table) Optimize(ctx context.Context) error {
	select {
	case t.pauseSem <- struct{}{}:
		defer func() { <-t.pauseSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.mu.Lock()
	t.state = stateMaintaining
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.state = stateIdle
		t.mu.Unlock()
	}()

	versions, err := readLog(t.dir)
	if err != nil {
		return fmt.Errorf("optimize %s: %w", t.Name, err)
	}
	files, _, _ := currentState(versions)
	if len(files) < 2 {
		return nil
	}

	groups := t.groupBySize(files)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		if err := t.compactGroup(group); err != nil {
			return err
		}
	}
	return nil
}

// groupBySize buckets small files together up to optimizeTarget bytes
// per output file; files already at or above the target are left
// alone.
func (t *Table) groupBySize(files []string) [][]string {
	var groups [][]string
	var current []string
	var currentSize int64

	for _, path := range files {
		info, err := os.Stat(filepath.Join(t.dir, path))
		if err != nil {
			continue
		}
		if info.Size() >= t.optimizeTarget {
			continue // already at target size, leave standalone
		}
		if currentSize+info.Size() > t.optimizeTarget && len(current) > 0 {
			groups = append(groups, current)
			current = nil
			currentSize = 0
		}
		current = append(current, path)
		currentSize += info.Size()
	}
	if len(current) > 1 {
		groups = append(groups, current)
	}
	return groups
}

// compactGroup merges group's data files into a single new file and
// commits a version removing the originals and adding the merge.
func (t *Table) compactGroup(group []string) error {
	var merged []codec.HistoryRow
	for _, path := range group {
		rows, err := readDataFile(filepath.Join(t.dir, path))
		if err != nil {
			return fmt.Errorf("compact read %s: %w", path, err)
		}
		merged = append(merged, rows...)
	}

	fileName := fmt.Sprintf("part-%s.parquet", uuid.NewString())
	size, err := writeDataFile(filepath.Join(t.dir, fileName), merged)
	if err != nil {
		return fmt.Errorf("compact write: %w", err)
	}

	now := time.Now().Unix()
	if _, err := appendVersion(t.dir, Action{Add: &AddAction{Path: fileName, Size: size}}); err != nil {
		return fmt.Errorf("compact commit add: %w", err)
	}
	for _, path := range group {
		if _, err := appendVersion(t.dir, Action{Remove: &RemoveAction{Path: path, DeletionTimestamp: now}}); err != nil {
			return fmt.Errorf("compact commit remove %s: %w", path, err)
		}
	}
	return nil
}

// Vacuum permanently deletes data files removed from the table's
// logical state more than vacuumRetention ago.
func (t *Table) Vacuum(ctx context.Context) error {
	select {
	case t.pauseSem <- struct{}{}:
		defer func() { <-t.pauseSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	versions, err := readLog(t.dir)
	if err != nil {
		return fmt.Errorf("vacuum %s: %w", t.Name, err)
	}

	present := make(map[string]bool)
	for _, v := range versions {
		if v.Action.Add != nil {
			present[v.Action.Add.Path] = true
		}
		if v.Action.Remove != nil {
			delete(present, v.Action.Remove.Path)
		}
	}

	cutoff := time.Now().Add(-t.vacuumRetention).Unix()
	for _, v := range versions {
		if v.Action.Remove == nil {
			continue
		}
		path := v.Action.Remove.Path
		if present[path] {
			continue // re-added since removal, still live
		}
		if v.Action.Remove.DeletionTimestamp > cutoff {
			continue // still within retention window
		}
		if err := os.Remove(filepath.Join(t.dir, path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("vacuum remove %s: %w", path, err)
		}
	}
	return nil
}

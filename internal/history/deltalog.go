// Package history implements the history engine: a
// single-writer, append-mostly columnar store over Delta-style
// transactional table directories, with background compaction and
// vacuum, an online control protocol, and an offline mode for direct
// file access. Grounded on
// packages/tangram_history/src/tangram_history/cli.py (control
// envelopes, schema-tree printing, online/offline branching) and
// other_examples/dc180e34_pobradovic08-route-beacon-ri__internal-history-pipeline.go.go
// (buffer + ticker flush shape).
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// logDir is the transaction-log subdirectory name within a table
// directory.
const logDir = "_delta_log"

// Action is one entry in a transaction-log JSON version file. Only
// one of the fields is populated per action, mirroring Delta Lake's
// single-action-per-line log format collapsed here to one action per
// version file for simplicity.
type Action struct {
	// Metadata actions record the table's current schema.
	Metadata *MetadataAction `json:"metadata,omitempty"`
	// Add actions record a new data file.
	Add *AddAction `json:"add,omitempty"`
	// Remove actions record a data file no longer part of the table.
	Remove *RemoveAction `json:"remove,omitempty"`
	// CommitInfo carries free-form audit metadata for the version.
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
}

// MetadataAction records the table schema as of this version. Readers
// MUST NOT assume schema stability across versions.
type MetadataAction struct {
	SchemaJSON string `json:"schemaJson"`
}

// AddAction records one data file added by this version.
type AddAction struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// RemoveAction records one data file removed by this version (by
// vacuum, once unreferenced past retention, or by a delete).
type RemoveAction struct {
	Path             string `json:"path"`
	DeletionTimestamp int64  `json:"deletionTimestamp"`
}

// CommitInfo is free-form per-version audit metadata.
type CommitInfo struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	Description string    `json:"description,omitempty"`
}

// Version is one parsed transaction-log entry: its version number and
// the action it records.
type Version struct {
	Number int64
	Action Action
}

// logPath returns the path of the JSON log file for version n within
// tableDir.
func logPath(tableDir string, n int64) string {
	return filepath.Join(tableDir, logDir, fmt.Sprintf("%020d.json", n))
}

// readLog loads every version file in tableDir/_delta_log, ordered
// ascending by version number.
func readLog(tableDir string) ([]Version, error) {
	entries, err := os.ReadDir(filepath.Join(tableDir, logDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read delta log %s: %w", tableDir, err)
	}

	var versions []Version
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(tableDir, logDir, name))
		if err != nil {
			return nil, fmt.Errorf("read delta log entry %s: %w", name, err)
		}
		var action Action
		if err := json.Unmarshal(raw, &action); err != nil {
			return nil, fmt.Errorf("decode delta log entry %s: %w", name, err)
		}
		versions = append(versions, Version{Number: n, Action: action})
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].Number < versions[j].Number })
	return versions, nil
}

// appendVersion commits a new version by writing action as the next
// sequential log file. Returns the version number just committed.
func appendVersion(tableDir string, action Action) (int64, error) {
	if err := os.MkdirAll(filepath.Join(tableDir, logDir), 0o755); err != nil {
		return 0, fmt.Errorf("create delta log dir: %w", err)
	}

	versions, err := readLog(tableDir)
	if err != nil {
		return 0, err
	}
	next := int64(0)
	if len(versions) > 0 {
		next = versions[len(versions)-1].Number + 1
	}

	raw, err := json.Marshal(action)
	if err != nil {
		return 0, fmt.Errorf("encode delta log action: %w", err)
	}
	if err := os.WriteFile(logPath(tableDir, next), raw, 0o644); err != nil {
		return 0, fmt.Errorf("write delta log entry: %w", err)
	}
	return next, nil
}

// currentState folds a version list into the live set of data files
// and the most recent schema, matching Delta Lake's "replay the log"
// semantics.
func currentState(versions []Version) (files []string, schemaJSON string, version int64) {
	version = -1
	present := make(map[string]bool)
	for _, v := range versions {
		version = v.Number
		if v.Action.Metadata != nil {
			schemaJSON = v.Action.Metadata.SchemaJSON
		}
		if v.Action.Add != nil {
			present[v.Action.Add.Path] = true
		}
		if v.Action.Remove != nil {
			delete(present, v.Action.Remove.Path)
		}
	}
	for path := range present {
		files = append(files, path)
	}
	sort.Strings(files)
	return files, schemaJSON, version
}

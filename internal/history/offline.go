package history

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-aviation/tangram/internal/codec"
)

// ListTablesOffline reads every table directory under basePath
// directly from its transaction log, without going through the bus
// control protocol. Each immediate subdirectory of
// basePath containing a _delta_log/ directory is treated as a table.
func ListTablesOffline(basePath string) ([]codec.TableInfo, error) {
	entries, err := os.ReadDir(basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list tables offline: %w", err)
	}

	var infos []codec.TableInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tableDir := filepath.Join(basePath, entry.Name())
		if _, err := os.Stat(filepath.Join(tableDir, logDir)); err != nil {
			continue
		}
		versions, err := readLog(tableDir)
		if err != nil {
			return nil, fmt.Errorf("list tables offline: read log %s: %w", entry.Name(), err)
		}
		_, schemaJSON, version := currentState(versions)
		infos = append(infos, codec.TableInfo{
			Name:       entry.Name(),
			URI:        tableDir,
			Version:    version,
			SchemaJSON: schemaJSON,
		})
	}
	return infos, nil
}

// DeleteRowsOffline opens the table directory at tableDir directly
// (no bus involved) and applies predicateSQL, for historyctl's
// --force-offline path. The caller is responsible for ensuring no
// writer process holds the table open concurrently; offline mode
// cannot take the process-wide write lock a live Table enforces.
func DeleteRowsOffline(tableDir, predicateSQL string) (int, error) {
	name := filepath.Base(tableDir)
	t := &Table{
		Name:            name,
		dir:             tableDir,
		pauseSem:        make(chan struct{}, 1),
		quarantineAfter: DefaultQuarantineAfterFailures,
	}
	return t.DeleteRows(predicateSQL)
}

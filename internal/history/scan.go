package history

import (
	"fmt"
	"path/filepath"

	"github.com/open-aviation/tangram/internal/codec"
)

// ScanAll reads every live data file of the table and returns their
// rows concatenated, for use by internal/query. Order across files is unspecified; callers sort as
// needed.
func (t *Table) ScanAll() ([]codec.HistoryRow, error) {
	versions, err := readLog(t.dir)
	if err != nil {
		return nil, fmt.Errorf("scan table %s: %w", t.Name, err)
	}
	files, _, _ := currentState(versions)

	var rows []codec.HistoryRow
	for _, path := range files {
		fileRows, err := readDataFile(filepath.Join(t.dir, path))
		if err != nil {
			return nil, fmt.Errorf("scan table %s: read %s: %w", t.Name, path, err)
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

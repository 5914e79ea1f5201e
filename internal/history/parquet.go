package history

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/open-aviation/tangram/internal/codec"
)

// writeDataFile commits rows to a new columnar data file at path,
// using the schema tags on codec.HistoryRow. The file's directory is
// created if it does not exist yet.
func writeDataFile(path string, rows []codec.HistoryRow) (size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create data dir for %s: %w", path, err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("open data file %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(codec.HistoryRow), 4)
	if err != nil {
		return 0, fmt.Errorf("create parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return 0, fmt.Errorf("write row %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("finalize data file %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat data file %s: %w", path, err)
	}
	return info.Size(), nil
}

// readDataFile scans every row of the parquet file at path.
func readDataFile(path string) ([]codec.HistoryRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open data file %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(codec.HistoryRow), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader %s: %w", path, err)
	}
	defer pr.ReadStop()

	total := int(pr.GetNumRows())
	rows := make([]codec.HistoryRow, total)
	if total > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("read rows %s: %w", path, err)
		}
	}
	return rows, nil
}

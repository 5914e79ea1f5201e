package history

import (
	"context"
	"testing"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

func TestTable_OptimizeMergesSmallFiles(t *testing.T) {
	tbl := NewTable(t.TempDir(), "flights", bus.NewMemory(), testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: int64(1700000000000 + i*1000)})
		if err := tbl.Flush(ctx); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
	}

	before, _ := readLog(tbl.dir)
	beforeFiles, _, _ := currentState(before)
	if len(beforeFiles) != 3 {
		t.Fatalf("expected 3 data files before optimize, got %d", len(beforeFiles))
	}

	if err := tbl.Optimize(ctx); err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	after, _ := readLog(tbl.dir)
	afterFiles, _, _ := currentState(after)
	if len(afterFiles) != 1 {
		t.Fatalf("expected 1 data file after optimize, got %d: %v", len(afterFiles), afterFiles)
	}

	rows, err := readDataFile(tbl.dir + "/" + afterFiles[0])
	if err != nil {
		t.Fatalf("readDataFile: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected merged file to hold 3 rows, got %d", len(rows))
	}
}

func TestTable_VacuumRespectsRetention(t *testing.T) {
	tbl := NewTable(t.TempDir(), "flights", bus.NewMemory(), testLogger())
	tbl.vacuumRetention = 0
	ctx := context.Background()

	tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: 1700000000000})
	if err := tbl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	versions, _ := readLog(tbl.dir)
	files, _, _ := currentState(versions)
	path := tbl.dir + "/" + files[0]

	if _, err := tbl.DeleteRows("identifier = 'abc123'"); err != nil {
		t.Fatalf("DeleteRows: %v", err)
	}

	if err := tbl.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum: %v", err)
	}

	if _, err := readDataFile(path); err == nil {
		t.Fatal("expected removed file to be physically deleted by vacuum")
	}
}

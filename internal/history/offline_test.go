package history

import (
	"context"
	"testing"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

func TestListTablesOffline(t *testing.T) {
	basePath := t.TempDir()
	tbl := NewTable(basePath, "flights", bus.NewMemory(), testLogger())
	ctx := context.Background()
	tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: 1700000000000})
	if err := tbl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	infos, err := ListTablesOffline(basePath)
	if err != nil {
		t.Fatalf("ListTablesOffline: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "flights" {
		t.Fatalf("unexpected tables: %+v", infos)
	}
}

func TestListTablesOfflineMissingBasePath(t *testing.T) {
	infos, err := ListTablesOffline(t.TempDir() + "/missing")
	if err != nil {
		t.Fatalf("ListTablesOffline on missing dir: %v", err)
	}
	if infos != nil {
		t.Fatalf("expected nil, got %+v", infos)
	}
}

func TestDeleteRowsOffline(t *testing.T) {
	basePath := t.TempDir()
	tbl := NewTable(basePath, "flights", bus.NewMemory(), testLogger())
	ctx := context.Background()
	tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: 1700000000000})
	if err := tbl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deleted, err := DeleteRowsOffline(tbl.dir, "identifier = 'abc123'")
	if err != nil {
		t.Fatalf("DeleteRowsOffline: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
}

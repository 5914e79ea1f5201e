package history

import (
	"context"
	"testing"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

func TestController_ListTables(t *testing.T) {
	b := bus.NewMemory()
	tbl := NewTable(t.TempDir(), "flights", b, testLogger())
	ctx := context.Background()
	tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: 1700000000000})
	if err := tbl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	registry := NewRegistry(tbl)
	controller := NewController(b, registry, testLogger())

	responses, err := b.Subscribe(ctx, codec.ResponseChannel("requester-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cmd, _ := codec.EncodeControlCommand(codec.ControlCommand{Type: codec.CommandListTables, SenderID: "requester-1"})
	controller.handle(ctx, cmd)

	select {
	case msg := <-responses:
		resp, err := codec.DecodeControlResponse(msg.Payload)
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Type != codec.ResponseTableList {
			t.Fatalf("response type = %q, want TableList", resp.Type)
		}
		if len(resp.Tables) != 1 || resp.Tables[0].Name != "flights" {
			t.Fatalf("unexpected tables: %+v", resp.Tables)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a response on the sender's response channel")
	}
}

func TestController_DeleteRowsUnknownTableFails(t *testing.T) {
	b := bus.NewMemory()
	ctx := context.Background()
	registry := NewRegistry()
	controller := NewController(b, registry, testLogger())

	responses, _ := b.Subscribe(ctx, codec.ResponseChannel("requester-2"))
	cmd, _ := codec.EncodeControlCommand(codec.ControlCommand{Type: codec.CommandDeleteRows, SenderID: "requester-2", Table: "missing", Predicate: "1=1"})
	controller.handle(ctx, cmd)

	select {
	case msg := <-responses:
		resp, _ := codec.DecodeControlResponse(msg.Payload)
		if resp.Type != codec.ResponseCommandFailed {
			t.Fatalf("response type = %q, want CommandFailed", resp.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a CommandFailed response")
	}
}

func TestController_DeleteRowsDryRunDoesNotMutate(t *testing.T) {
	b := bus.NewMemory()
	ctx := context.Background()
	tbl := NewTable(t.TempDir(), "flights", b, testLogger())
	tbl.Enqueue(codec.HistoryRow{Identifier: "abc123", TimestampMs: 1700000000000})
	if err := tbl.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	before, _ := tbl.Describe()

	registry := NewRegistry(tbl)
	controller := NewController(b, registry, testLogger())
	responses, _ := b.Subscribe(ctx, codec.ResponseChannel("requester-3"))

	cmd, _ := codec.EncodeControlCommand(codec.ControlCommand{
		Type: codec.CommandDeleteRows, SenderID: "requester-3",
		Table: "flights", Predicate: "identifier = 'abc123'", DryRun: true,
	})
	controller.handle(ctx, cmd)

	select {
	case msg := <-responses:
		resp, _ := codec.DecodeControlResponse(msg.Payload)
		if resp.Type != codec.ResponseDeleteOutput || resp.AffectedRows != 1 {
			t.Fatalf("unexpected dry-run response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a response")
	}

	after, _ := tbl.Describe()
	if after.Version != before.Version {
		t.Fatalf("dry run must not commit a version: before=%d after=%d", before.Version, after.Version)
	}
}

package lsp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/geo"
	"github.com/open-aviation/tangram/internal/state"
)

type fakeSink struct {
	rows []codec.HistoryRow
}

func (f *fakeSink) Enqueue(row codec.HistoryRow) {
	f.rows = append(f.rows, row)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(writeInterval time.Duration) (*Pipeline, bus.Bus, *fakeSink) {
	b := bus.NewMemory()
	store := state.New(b, time.Minute)
	geoIdx := geo.New(b)
	sink := &fakeSink{}
	return New(b, store, geoIdx, sink, writeInterval, testLogger()), b, sink
}

func TestPipeline_CoordinateFanOut(t *testing.T) {
	ctx := context.Background()
	p, b, sink := newTestPipeline(60 * time.Second)

	coordCh, _ := b.Subscribe(ctx, "coordinate")
	altCh, _ := b.Subscribe(ctx, "altitude")

	raw := []byte(`{"icao24":"a0b1c2","timestamp":1700000000.0,"latitude":43.5,"longitude":1.47,"altitude":32000}`)
	p.processRecord(ctx, raw)

	select {
	case <-coordCh:
	case <-time.After(time.Second):
		t.Fatal("expected coordinate publish")
	}
	select {
	case <-altCh:
	case <-time.After(time.Second):
		t.Fatal("expected altitude publish")
	}

	sv, ok, err := p.store.Get(ctx, "a0b1c2")
	if err != nil || !ok {
		t.Fatalf("expected stored SV, ok=%v err=%v", ok, err)
	}
	if sv.Latitude == nil || *sv.Latitude != 43.5 {
		t.Errorf("SV = %+v", sv)
	}

	points, err := p.geoIndex.Search(ctx, 1.47, 43.5, 1.0)
	if err != nil || len(points) != 1 {
		t.Fatalf("geo search = %+v, err=%v", points, err)
	}

	if len(sink.rows) != 1 {
		t.Fatalf("history rows = %d, want 1 (first write always buffered)", len(sink.rows))
	}
}

func TestPipeline_HistoryThrottling(t *testing.T) {
	ctx := context.Background()
	p, _, sink := newTestPipeline(60 * time.Second)

	rec1 := []byte(`{"icao24":"a0b1c2","timestamp":1700000000.0,"latitude":43.5,"longitude":1.47}`)
	p.processRecord(ctx, rec1)
	if len(sink.rows) != 1 {
		t.Fatalf("after first record: rows = %d, want 1", len(sink.rows))
	}

	rec2 := []byte(`{"icao24":"a0b1c2","timestamp":1700000030.0,"latitude":43.6,"longitude":1.48}`)
	p.processRecord(ctx, rec2)
	if len(sink.rows) != 1 {
		t.Fatalf("after second record (30s < 60s interval): rows = %d, want still 1", len(sink.rows))
	}

	rec3 := []byte(`{"icao24":"a0b1c2","timestamp":1700000070.0,"latitude":43.7,"longitude":1.49}`)
	p.processRecord(ctx, rec3)
	if len(sink.rows) != 2 {
		t.Fatalf("after third record (70s >= 60s since first write): rows = %d, want 2", len(sink.rows))
	}
}

func TestPipeline_LastSeenMonotonic(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(60 * time.Second)

	rec1 := []byte(`{"icao24":"a0b1c2","timestamp":1700000100.0,"callsign":"AFR123"}`)
	p.processRecord(ctx, rec1)

	// Out-of-order record with an older timestamp must be dropped.
	rec2 := []byte(`{"icao24":"a0b1c2","timestamp":1700000050.0,"callsign":"SHOULD_NOT_APPEAR"}`)
	p.processRecord(ctx, rec2)

	sv, _, _ := p.store.Get(ctx, "a0b1c2")
	if sv.LastSeen != 1700000100.0 {
		t.Errorf("LastSeen = %v, want unchanged at 1700000100.0", sv.LastSeen)
	}
	if sv.Callsign == nil || *sv.Callsign != "AFR123" {
		t.Errorf("Callsign = %v, should not be overwritten by stale record", sv.Callsign)
	}
}

func TestPipeline_EqualTimestampMergesButLastSeenUnchanged(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(60 * time.Second)

	rec1 := []byte(`{"icao24":"a0b1c2","timestamp":1700000100.0,"callsign":"AFR123"}`)
	p.processRecord(ctx, rec1)

	rec2 := []byte(`{"icao24":"a0b1c2","timestamp":1700000100.0,"track":90}`)
	p.processRecord(ctx, rec2)

	sv, _, _ := p.store.Get(ctx, "a0b1c2")
	if sv.LastSeen != 1700000100.0 {
		t.Errorf("LastSeen = %v, want unchanged", sv.LastSeen)
	}
	if sv.Track == nil || *sv.Track != 90 {
		t.Errorf("Track = %v, want merged from equal-timestamp record", sv.Track)
	}
	if sv.Callsign == nil || *sv.Callsign != "AFR123" {
		t.Errorf("Callsign = %v, should be preserved", sv.Callsign)
	}
}

func TestPipeline_MalformedRecordDropped(t *testing.T) {
	ctx := context.Background()
	p, _, sink := newTestPipeline(60 * time.Second)

	p.processRecord(ctx, []byte(`not json`))
	p.processRecord(ctx, []byte(`{"timestamp":1.0}`)) // missing icao24

	if len(sink.rows) != 0 {
		t.Errorf("expected no history rows from malformed input, got %d", len(sink.rows))
	}
}

func TestPipeline_AltitudeOnlyNoCoordinatePublish(t *testing.T) {
	ctx := context.Background()
	p, b, _ := newTestPipeline(60 * time.Second)

	coordCh, _ := b.Subscribe(ctx, "coordinate")
	altCh, _ := b.Subscribe(ctx, "altitude")

	raw := []byte(`{"icao24":"a0b1c2","timestamp":1700000000.0,"altitude":32000}`)
	p.processRecord(ctx, raw)

	select {
	case <-altCh:
	case <-time.After(time.Second):
		t.Fatal("expected altitude publish")
	}
	select {
	case <-coordCh:
		t.Fatal("did not expect coordinate publish without lat/lon")
	case <-time.After(50 * time.Millisecond):
	}
}

package state

import (
	"context"
	"testing"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
)

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := New(bus.NewMemory(), time.Minute)

	lat, lon := 43.5, 1.47
	v := Vector{Identifier: "a0b1c2", FirstSeen: 1700000000, LastSeen: 1700000000, Latitude: &lat, Longitude: &lon}
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, "a0b1c2")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.HasPosition() || *got.Latitude != lat {
		t.Errorf("Get = %+v", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s := New(bus.NewMemory(), time.Minute)

	_, ok, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing identifier")
	}
}

func TestStore_LastWrite(t *testing.T) {
	ctx := context.Background()
	s := New(bus.NewMemory(), time.Minute)

	_, ok, err := s.GetLastWrite(ctx, "a0b1c2")
	if err != nil {
		t.Fatalf("GetLastWrite: %v", err)
	}
	if ok {
		t.Error("expected no last_write recorded initially")
	}

	if err := s.SetLastWrite(ctx, "a0b1c2", 1700000000.0); err != nil {
		t.Fatalf("SetLastWrite: %v", err)
	}
	ts, ok, err := s.GetLastWrite(ctx, "a0b1c2")
	if err != nil || !ok {
		t.Fatalf("GetLastWrite: ok=%v err=%v", ok, err)
	}
	if ts != 1700000000.0 {
		t.Errorf("GetLastWrite = %v, want 1700000000", ts)
	}
}

func TestStore_ExpireDue(t *testing.T) {
	ctx := context.Background()
	s := New(bus.NewMemory(), time.Minute)

	stale := Vector{Identifier: "stale1", FirstSeen: 1000, LastSeen: 1000}
	fresh := Vector{Identifier: "fresh1", FirstSeen: 1000, LastSeen: 1990}
	if err := s.Put(ctx, stale); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	if err := s.Put(ctx, fresh); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	n, err := s.ExpireDue(ctx, 2000, 600)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireDue evicted %d, want 1", n)
	}

	if _, ok, _ := s.Get(ctx, "stale1"); ok {
		t.Error("stale1 should have been evicted")
	}
	if _, ok, _ := s.Get(ctx, "fresh1"); !ok {
		t.Error("fresh1 should still be present")
	}
}

func TestStore_Sweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(bus.NewMemory(), time.Minute)

	if err := s.Put(ctx, Vector{Identifier: "a0b1c2", FirstSeen: 1, LastSeen: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Sweep(ctx, 10*time.Millisecond, time.Nanosecond) }()

	deadline := time.After(time.Second)
	for {
		if _, ok, _ := s.Get(ctx, "a0b1c2"); !ok {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("timed out waiting for sweep to evict")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Sweep: %v", err)
	}
}

func TestVector_HasPosition(t *testing.T) {
	v := Vector{Identifier: "a0b1c2"}
	if v.HasPosition() {
		t.Error("expected HasPosition()=false without latitude")
	}
	lat := 43.5
	v.Latitude = &lat
	if !v.HasPosition() {
		t.Error("expected HasPosition()=true with latitude")
	}
}

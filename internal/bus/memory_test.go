package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemory_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	ch, err := m.Subscribe(ctx, "coordinate")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := m.Publish(ctx, "coordinate", []byte(`{"icao24":"a0b1c2"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Channel != "coordinate" {
			t.Errorf("Channel = %q, want coordinate", msg.Channel)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemory_PSubscribeMatchesPattern(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	ch, err := m.PSubscribe(ctx, "altitude*")
	if err != nil {
		t.Fatalf("PSubscribe: %v", err)
	}

	m.Publish(ctx, "altitude", []byte("1"))
	m.Publish(ctx, "altitude:a0b1c2", []byte("2"))
	m.Publish(ctx, "coordinate", []byte("3"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got[msg.Channel] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	if !got["altitude"] || !got["altitude:a0b1c2"] {
		t.Errorf("got = %v, want altitude and altitude:a0b1c2", got)
	}
}

func TestMemory_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "aircraft:current:a0b1c2", `{"icao24":"a0b1c2"}`, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := m.Get(ctx, "aircraft:current:a0b1c2")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if val != `{"icao24":"a0b1c2"}` {
		t.Errorf("Get = %q", val)
	}

	if err := m.Set(ctx, "expired", "x", time.Nanosecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(time.Millisecond)
	_, ok, err = m.Get(ctx, "expired")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected key to be expired")
	}
}

func TestMemory_GeoAddSearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.GeoAdd(ctx, "planes", 1.47, 43.5, "a0b1c2"); err != nil {
		t.Fatalf("GeoAdd: %v", err)
	}
	points, err := m.GeoSearch(ctx, "planes", 1.47, 43.5, 1.0)
	if err != nil {
		t.Fatalf("GeoSearch: %v", err)
	}
	if len(points) != 1 || points[0].Name != "a0b1c2" {
		t.Errorf("GeoSearch = %+v, want [a0b1c2]", points)
	}

	// Exact-point radius-0 search still returns the point sitting on it.
	points, err = m.GeoSearch(ctx, "planes", 1.47, 43.5, 0)
	if err != nil {
		t.Fatalf("GeoSearch radius=0: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("GeoSearch radius=0 = %+v, want 1 point", points)
	}
}

func TestMemory_PubSubNumSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory()

	if n, _ := m.PubSubNumSub(ctx, "history:control"); n != 0 {
		t.Errorf("NumSub before subscribe = %d, want 0", n)
	}
	m.Subscribe(ctx, "history:control")
	if n, _ := m.PubSubNumSub(ctx, "history:control"); n != 1 {
		t.Errorf("NumSub after subscribe = %d, want 1", n)
	}
}

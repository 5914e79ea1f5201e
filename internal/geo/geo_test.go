package geo

import (
	"context"
	"testing"

	"github.com/open-aviation/tangram/internal/bus"
)

func TestIndex_RefreshSearch(t *testing.T) {
	ctx := context.Background()
	idx := New(bus.NewMemory())

	if err := idx.Refresh(ctx, "a0b1c2", 1.47, 43.5); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	points, err := idx.Search(ctx, 1.47, 43.5, 1.0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(points) != 1 || points[0].Identifier != "a0b1c2" {
		t.Errorf("Search = %+v, want [a0b1c2]", points)
	}
}

func TestIndex_SearchExactPointRadiusZero(t *testing.T) {
	ctx := context.Background()
	idx := New(bus.NewMemory())
	idx.Refresh(ctx, "a0b1c2", 1.47, 43.5)

	points, err := idx.Search(ctx, 1.47, 43.5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("Search radius=0 = %+v, want 1 point", points)
	}
}

func TestIndex_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	idx := New(bus.NewMemory())
	idx.Refresh(ctx, "a0b1c2", 1.0, 1.0)
	idx.Refresh(ctx, "a0b1c2", 2.0, 2.0)

	points, err := idx.Search(ctx, 2.0, 2.0, 1.0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(points) != 1 || points[0].Longitude != 2.0 {
		t.Errorf("Search = %+v, want updated position", points)
	}
}

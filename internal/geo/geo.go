// Package geo wraps the bus-backed geospatial set tangram uses to
// answer "what is near here right now". Grounded on the bus-key
// convention in original_source/src/tangram/channels.py; no pack repo
// implements a geospatial index, so the behaviour is implemented
// straight against the [bus.Bus] geoset primitive.
package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
)

// SetKey is the well-known geoset name.
const SetKey = "planes"

// TTL is refreshed on every write.
const TTL = time.Minute

// Point is one member of a search result: identifier plus position.
type Point struct {
	Identifier string
	Latitude   float64
	Longitude  float64
}

// Index is the geospatial index over SetKey.
type Index struct {
	bus bus.Bus
}

// New returns an Index backed by b.
func New(b bus.Bus) *Index {
	return &Index{bus: b}
}

// Refresh adds or updates id's position and refreshes the set's TTL.
func (idx *Index) Refresh(ctx context.Context, id string, lon, lat float64) error {
	if err := idx.bus.GeoAdd(ctx, SetKey, lon, lat, id); err != nil {
		return fmt.Errorf("geo refresh %s: %w", id, err)
	}
	if err := idx.bus.Expire(ctx, SetKey, TTL); err != nil {
		return fmt.Errorf("geo refresh ttl %s: %w", id, err)
	}
	return nil
}

// Search returns every tracked identifier within radiusKM of
// (centerLon, centerLat).
func (idx *Index) Search(ctx context.Context, centerLon, centerLat, radiusKM float64) ([]Point, error) {
	results, err := idx.bus.GeoSearch(ctx, SetKey, centerLon, centerLat, radiusKM)
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	points := make([]Point, 0, len(results))
	for _, r := range results {
		points = append(points, Point{Identifier: r.Name, Latitude: r.Latitude, Longitude: r.Longitude})
	}
	return points, nil
}

// Package bus defines the narrow pub/sub interface the rest of tangram
// talks through, plus a Redis-backed implementation. Every other
// component (state store, geo index, live-state pipeline, channel hub,
// history engine) depends only on the Bus interface, never on
// go-redis directly, so the bus can be faked in tests.
package bus

import (
	"context"
	"time"
)

// Message is one item delivered from a pattern subscription: the
// concrete channel it arrived on (which may differ from the
// subscribed pattern) and the raw payload bytes.
type Message struct {
	Channel string
	Payload []byte
}

// GeoPoint is one member of a geospatial set search result.
type GeoPoint struct {
	Name      string
	Longitude float64
	Latitude  float64
}

// Bus is the pub/sub, geospatial, and string-KV primitive tangram is
// built on. Implementations MUST be safe for concurrent use from many
// goroutines; the reference implementation is backed by a Redis
// connection pool (see [internal/bus.Redis]).
type Bus interface {
	// Publish sends payload on channel. Fire-and-forget: no delivery
	// guarantee beyond what the backing pub/sub system offers.
	Publish(ctx context.Context, channel string, payload []byte) error

	// PSubscribe opens a pattern subscription (e.g. "altitude*",
	// "channel:*"). The returned channel is closed when ctx is
	// cancelled or the subscription is torn down. Callers MUST drain
	// it promptly; a stalled consumer can back up the underlying
	// connection.
	PSubscribe(ctx context.Context, pattern string) (<-chan Message, error)

	// Subscribe opens an exact-channel subscription.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	// Get returns the string value stored at key, or ("", false, nil)
	// if it does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key with the given TTL. ttl <= 0 means no
	// expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire refreshes the TTL on an existing key without changing its
	// value. A no-op (not an error) if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key immediately. A no-op (not an error) if the
	// key does not exist.
	Delete(ctx context.Context, key string) error

	// GeoAdd inserts or updates member's position in the geospatial set
	// named key.
	GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error

	// GeoSearch returns every member of the geospatial set key within
	// radiusKM kilometres of (centerLon, centerLat).
	GeoSearch(ctx context.Context, key string, centerLon, centerLat, radiusKM float64) ([]GeoPoint, error)

	// ZAdd appends a timestamped sample to the sorted set named key,
	// used for the optional time-series publish.
	ZAdd(ctx context.Context, key string, scoreUnixMilli float64, member string) error

	// PubSubNumSub returns the subscriber count for the given exact
	// channel, used by the history admin CLI's online/offline probe.
	PubSubNumSub(ctx context.Context, channel string) (int64, error)

	// Close releases underlying connections.
	Close() error
}

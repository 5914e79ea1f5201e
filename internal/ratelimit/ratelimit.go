// Package ratelimit implements the optional downstream coordinate
// republish variant of the live-state pipeline: a bus subscriber that
// re-publishes coordinates at most once per identifier per configured
// interval. Grounded on original_source/service/src/tangram/plugins/rate_limiting.py
// and the teacher's internal/mqtt messageRateLimiter (atomic
// counters, periodic reset), generalized here from "drop once a
// single global counter exceeds a threshold" to "drop per identifier
// until its own interval has elapsed" — a map of last-published
// timestamps rather than one shared counter.
package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

// DefaultInterval is the minimum spacing between republishes for one
// identifier.
const DefaultInterval = 5 * time.Second

const (
	sourceTopic      = "coordinate"
	republishedTopic = "trajectory"
)

// Limiter subscribes to the coordinate topic and republishes onto
// "trajectory" at most once per identifier per interval.
type Limiter struct {
	bus      bus.Bus
	interval time.Duration

	mu           sync.Mutex
	lastPublished map[string]float64
}

// New returns a Limiter. interval <= 0 uses DefaultInterval.
func New(b bus.Bus, interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{bus: b, interval: interval, lastPublished: make(map[string]float64)}
}

// Run subscribes to the coordinate topic and republishes filtered
// events until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	msgs, err := l.bus.Subscribe(ctx, sourceTopic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Limiter) handle(ctx context.Context, payload []byte) {
	var evt codec.CoordinateEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return
	}
	if !l.allow(evt.Identifier, evt.Timestamp) {
		return
	}
	l.bus.Publish(ctx, republishedTopic, payload)
}

// allow reports whether identifier may republish at timestamp, and
// records the timestamp as its new last-published time if so. It
// keeps per-identifier last-published timestamps and discards records
// violating the interval.
func (l *Limiter) allow(identifier string, timestamp float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.lastPublished[identifier]
	if ok && timestamp-last < l.interval.Seconds() {
		return false
	}
	l.lastPublished[identifier] = timestamp
	return true
}

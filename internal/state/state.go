// Package state maintains the in-memory, TTL-backed state vector per
// tracked object, plus the derived last-write timestamp
// used to throttle history writes. It is bus-backed rather than a
// local map so multiple processes can share state, matching
// original_source/src/tangram/history_redis.py's State class
// (aircraft:current:<id>, aircraft:lastwrite:<id>), and generalizes a
// namespaced local-store shape (Get/Set/Delete signatures) onto the
// bus instead of local SQLite.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
)

// DefaultExpiration is the SV TTL.
const DefaultExpiration = 10 * time.Minute

// DefaultSweepInterval is how often Sweep calls ExpireDue.
const DefaultSweepInterval = time.Minute

const (
	keyPrefixCurrent   = "aircraft:current:"
	keyPrefixLastWrite = "aircraft:lastwrite:"
)

// Vector is one tracked object's state.
type Vector struct {
	Identifier   string   `json:"icao24"`
	Registration *string  `json:"registration,omitempty"`
	TypeCode     *string  `json:"typecode,omitempty"`
	Callsign     *string  `json:"callsign,omitempty"`
	FirstSeen    float64  `json:"firstseen"`
	LastSeen     float64  `json:"lastseen"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Track        *float64 `json:"track,omitempty"`
}

// HasPosition reports whether the vector carries a latitude (and,
// by invariant, therefore a longitude too).
func (v Vector) HasPosition() bool {
	return v.Latitude != nil
}

// Store is the bus-backed SV store. Alongside the bus-held value it
// keeps a local identifier -> last_seen index so ExpireDue can find
// sweep candidates without a bus-side key scan.
type Store struct {
	bus        bus.Bus
	expiration time.Duration

	mu       sync.Mutex
	lastSeen map[string]float64
}

// New returns a Store with the given SV expiration. expiration <= 0
// uses DefaultExpiration.
func New(b bus.Bus, expiration time.Duration) *Store {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Store{bus: b, expiration: expiration, lastSeen: make(map[string]float64)}
}

// Get returns the current SV for id, or (zero, false, nil) if absent
// or expired. Expiry is enforced by the bus's own TTL.
func (s *Store) Get(ctx context.Context, id string) (Vector, bool, error) {
	raw, ok, err := s.bus.Get(ctx, keyPrefixCurrent+id)
	if err != nil {
		return Vector{}, false, fmt.Errorf("state get %s: %w", id, err)
	}
	if !ok {
		return Vector{}, false, nil
	}
	var v Vector
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Vector{}, false, fmt.Errorf("state decode %s: %w", id, err)
	}
	return v, true, nil
}

// Put stores v, resetting the SV's TTL to the store's expiration.
func (s *Store) Put(ctx context.Context, v Vector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state encode %s: %w", v.Identifier, err)
	}
	if err := s.bus.Set(ctx, keyPrefixCurrent+v.Identifier, string(raw), s.expiration); err != nil {
		return fmt.Errorf("state put %s: %w", v.Identifier, err)
	}
	s.mu.Lock()
	s.lastSeen[v.Identifier] = v.LastSeen
	s.mu.Unlock()
	return nil
}

// GetLastWrite returns the last history-write timestamp recorded for
// id, or (0, false) if none is recorded.
func (s *Store) GetLastWrite(ctx context.Context, id string) (float64, bool, error) {
	raw, ok, err := s.bus.Get(ctx, keyPrefixLastWrite+id)
	if err != nil {
		return 0, false, fmt.Errorf("state get_last_write %s: %w", id, err)
	}
	if !ok {
		return 0, false, nil
	}
	var ts float64
	if _, err := fmt.Sscanf(raw, "%g", &ts); err != nil {
		return 0, false, fmt.Errorf("state decode last_write %s: %w", id, err)
	}
	return ts, true, nil
}

// SetLastWrite records ts as the last history-write time for id.
func (s *Store) SetLastWrite(ctx context.Context, id string, ts float64) error {
	if err := s.bus.Set(ctx, keyPrefixLastWrite+id, fmt.Sprintf("%g", ts), s.expiration); err != nil {
		return fmt.Errorf("state set_last_write %s: %w", id, err)
	}
	return nil
}

// ExpireDue evicts every SV whose last_seen predates threshold
// relative to nowUnix, from both the bus and the local index, and
// returns how many it evicted. Complements the bus's own TTL: TTL
// alone never observes a stale read, but a feed that stops updating
// an identifier still leaves it resident until the TTL lapses;
// ExpireDue is the named operation a caller can drive on its own
// cadence (see Sweep) independent of that TTL.
func (s *Store) ExpireDue(ctx context.Context, nowUnix, threshold float64) (int, error) {
	due := s.dueIdentifiers(nowUnix, threshold)

	evicted := 0
	for _, id := range due {
		if err := s.bus.Delete(ctx, keyPrefixCurrent+id); err != nil {
			return evicted, fmt.Errorf("state expire_due %s: %w", id, err)
		}
		if err := s.bus.Delete(ctx, keyPrefixLastWrite+id); err != nil {
			return evicted, fmt.Errorf("state expire_due %s: %w", id, err)
		}
		s.mu.Lock()
		delete(s.lastSeen, id)
		s.mu.Unlock()
		evicted++
	}
	return evicted, nil
}

func (s *Store) dueIdentifiers(nowUnix, threshold float64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for id, lastSeen := range s.lastSeen {
		if nowUnix-lastSeen >= threshold {
			due = append(due, id)
		}
	}
	return due
}

// Sweep calls ExpireDue against threshold every interval until ctx is
// cancelled. interval <= 0 uses DefaultSweepInterval. Intended to run
// under taskrunner.Run.
func (s *Store) Sweep(ctx context.Context, interval, threshold time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := s.ExpireDue(ctx, float64(now.Unix()), threshold.Seconds()); err != nil {
				return fmt.Errorf("state sweep: %w", err)
			}
		}
	}
}

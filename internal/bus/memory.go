package bus

import (
	"context"
	"math"
	"path"
	"sync"
	"time"
)

// Memory is an in-process [Bus] for tests, grounded on a nil-safe
// non-blocking events.Bus (broadcast to every subscriber, drop on a
// full channel) generalized here to pattern-matched pub/sub plus a
// plain map standing in for Redis string/geo/zset storage.
type Memory struct {
	mu       sync.Mutex
	patterns map[string][]chan Message // pattern -> subscribers
	exact    map[string][]chan Message // channel -> subscribers
	kv       map[string]kvEntry
	geo      map[string]map[string]GeoPoint
	zsets    map[string]map[string]float64
}

type kvEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemory returns a ready-to-use in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		patterns: make(map[string][]chan Message),
		exact:    make(map[string][]chan Message),
		kv:       make(map[string]kvEntry),
		geo:      make(map[string]map[string]GeoPoint),
		zsets:    make(map[string]map[string]float64),
	}
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := Message{Channel: channel, Payload: payload}
	for _, ch := range m.exact[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	for pattern, subs := range m.patterns {
		ok, _ := path.Match(pattern, channel)
		if !ok {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- msg:
			default:
			}
		}
	}
	return nil
}

func (m *Memory) PSubscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	return m.subscribe(ctx, pattern, true), nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	return m.subscribe(ctx, channel, false), nil
}

func (m *Memory) subscribe(ctx context.Context, key string, isPattern bool) <-chan Message {
	ch := make(chan Message, 256)
	m.mu.Lock()
	if isPattern {
		m.patterns[key] = append(m.patterns[key], ch)
	} else {
		m.exact[key] = append(m.exact[key], ch)
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeSub(key, ch, isPattern)
		close(ch)
	}()
	return ch
}

func (m *Memory) removeSub(key string, ch chan Message, isPattern bool) {
	set := m.exact
	if isPattern {
		set = m.patterns
	}
	subs := set[key]
	for i, c := range subs {
		if c == ch {
			set[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.kv[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(m.kv, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	m.kv[key] = entry
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.kv[key]
	if !ok {
		return nil
	}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	} else {
		entry.expires = time.Time{}
	}
	m.kv[key] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) GeoAdd(_ context.Context, key string, longitude, latitude float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.geo[key]
	if !ok {
		set = make(map[string]GeoPoint)
		m.geo[key] = set
	}
	set[member] = GeoPoint{Name: member, Longitude: longitude, Latitude: latitude}
	return nil
}

func (m *Memory) GeoSearch(_ context.Context, key string, centerLon, centerLat, radiusKM float64) ([]GeoPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []GeoPoint
	for _, p := range m.geo[key] {
		if haversineKM(centerLon, centerLat, p.Longitude, p.Latitude) <= radiusKM {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (m *Memory) PubSubNumSub(_ context.Context, channel string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.exact[channel])), nil
}

func (m *Memory) Close() error { return nil }

// haversineKM returns the great-circle distance in kilometres between
// two (lon, lat) points, matching the accuracy class Redis GEOSEARCH
// documents for this radius class.
func haversineKM(lon1, lat1, lon2, lat2 float64) float64 {
	const earthRadiusKM = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

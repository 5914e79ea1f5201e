// Package lsp implements the live-state pipeline: a bus
// subscriber that turns raw decoded surveillance records into state
// store updates, filtered fan-out publishes, geospatial index
// refreshes, and a throttled feed of rows for the history engine.
// The subscribe/process/dispatch loop shape is grounded on
// other_examples/e9fb72e8_pobradovic08-route-beacon-ri__internal-state-pipeline.go.go's
// Pipeline.Run (per-record processing dispatched off a channel),
// adapted from Kafka records with an offset-commit channel to bus
// messages with no offset concept. Field-merge and fan-out rules are
// grounded on original_source/service/src/tangram/plugins/filter_jet1090.py
// and coordinate.py.
package lsp

import (
	"context"
	"log/slog"
	"time"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/geo"
	"github.com/open-aviation/tangram/internal/state"
)

// RawPattern is the default raw-feed subscription pattern.
const RawPattern = "jet1090-full*"

const (
	topicCoordinate = "coordinate"
	topicAltitude   = "altitude"
)

// DefaultWriteInterval is the minimum spacing between history rows for
// one identifier.
const DefaultWriteInterval = 60 * time.Second

// HistoryRow is one row the pipeline has decided to persist, handed
// to whatever sink the caller wires in (normally internal/history's
// buffered writer).
type HistoryRow = codec.HistoryRow

// Sink receives history rows the pipeline has gated through.
// Implementations must not block significantly; the history engine's
// buffered writer satisfies this.
type Sink interface {
	Enqueue(row HistoryRow)
}

// Pipeline wires the bus, state store, and geo index together into
// the live-state processing loop.
type Pipeline struct {
	bus           bus.Bus
	store         *state.Store
	geoIndex      *geo.Index
	sink          Sink
	writeInterval time.Duration
	logger        *slog.Logger
}

// New returns a Pipeline. writeInterval <= 0 uses DefaultWriteInterval.
func New(b bus.Bus, store *state.Store, geoIndex *geo.Index, sink Sink, writeInterval time.Duration, logger *slog.Logger) *Pipeline {
	if writeInterval <= 0 {
		writeInterval = DefaultWriteInterval
	}
	return &Pipeline{bus: b, store: store, geoIndex: geoIndex, sink: sink, writeInterval: writeInterval, logger: logger}
}

// Run subscribes to RawPattern and processes records until ctx is
// cancelled. Intended to run under taskrunner.Run so a panic in one
// record's processing does not take down the whole pipeline's
// supervising goroutine — though per-record errors are already
// contained in processRecord and never propagate.
func (p *Pipeline) Run(ctx context.Context) error {
	msgs, err := p.bus.PSubscribe(ctx, RawPattern)
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
			p.processRecord(ctx, msg.Payload)
		}
	}
}

// processRecord runs the per-record procedure: merge into the state
// vector, fan out derived events, and gate a history write. Errors
// are logged and the record dropped; they never propagate to other
// records.
func (p *Pipeline) processRecord(ctx context.Context, raw []byte) {
	rec, err := codec.DecodeRawRecord(raw)
	if err != nil {
		p.logger.Warn("dropping malformed record", "error", err)
		return
	}

	existing, found, err := p.store.Get(ctx, rec.Identifier)
	if err != nil {
		p.logger.Warn("state lookup failed", "identifier", rec.Identifier, "error", err)
		return
	}

	sv := existing
	if !found {
		sv = state.Vector{Identifier: rec.Identifier, FirstSeen: rec.Timestamp}
	}

	// last_seen MUST only move forward.
	if found && rec.Timestamp < sv.LastSeen {
		return
	}

	mergeRecord(&sv, rec)

	if err := p.store.Put(ctx, sv); err != nil {
		p.logger.Warn("state put failed", "identifier", rec.Identifier, "error", err)
		return
	}

	p.fanOut(ctx, rec)
	p.historyGate(ctx, sv)
}

// mergeRecord applies "present overwrites absent or older": any field
// the incoming record carries replaces the stored one; fields it
// omits are left untouched.
func mergeRecord(sv *state.Vector, rec codec.RawRecord) {
	sv.LastSeen = rec.Timestamp
	if rec.Latitude != nil {
		sv.Latitude = rec.Latitude
	}
	if rec.Longitude != nil {
		sv.Longitude = rec.Longitude
	}
	if rec.Altitude != nil {
		sv.Altitude = rec.Altitude
	}
	if rec.Callsign != nil {
		sv.Callsign = rec.Callsign
	}
	if rec.Track != nil {
		sv.Track = rec.Track
	}
	if rec.TypeCode != nil {
		sv.TypeCode = rec.TypeCode
	}
	if rec.Registration != nil {
		sv.Registration = rec.Registration
	}
}

// fanOut publishes coordinate/altitude derived events and refreshes
// the geospatial index.
func (p *Pipeline) fanOut(ctx context.Context, rec codec.RawRecord) {
	if rec.Altitude != nil {
		payload := codec.EncodeAltitudeEvent(codec.AltitudeEvent{
			Identifier: rec.Identifier,
			Timestamp:  rec.Timestamp,
			Altitude:   *rec.Altitude,
		})
		if err := p.bus.Publish(ctx, topicAltitude, payload); err != nil {
			p.logger.Warn("altitude publish failed", "identifier", rec.Identifier, "error", err)
		}
	}

	if rec.Latitude != nil && rec.Longitude != nil {
		payload := codec.EncodeCoordinateEvent(codec.CoordinateEvent{
			Identifier: rec.Identifier,
			Timestamp:  rec.Timestamp,
			Latitude:   *rec.Latitude,
			Longitude:  *rec.Longitude,
		})
		if err := p.bus.Publish(ctx, topicCoordinate, payload); err != nil {
			p.logger.Warn("coordinate publish failed", "identifier", rec.Identifier, "error", err)
		}
		if err := p.geoIndex.Refresh(ctx, rec.Identifier, *rec.Longitude, *rec.Latitude); err != nil {
			p.logger.Warn("geo refresh failed", "identifier", rec.Identifier, "error", err)
		}
	}
}

// historyGate enqueues a history row only if the state vector has
// position and enough time has passed since the last write for this
// identifier.
func (p *Pipeline) historyGate(ctx context.Context, sv state.Vector) {
	if !sv.HasPosition() {
		return
	}

	lastWrite, found, err := p.store.GetLastWrite(ctx, sv.Identifier)
	if err != nil {
		p.logger.Warn("last_write lookup failed", "identifier", sv.Identifier, "error", err)
		return
	}
	if found && sv.LastSeen-lastWrite < p.writeInterval.Seconds() {
		return
	}

	row := codec.HistoryRow{
		Identifier:  sv.Identifier,
		TimestampMs: int64(sv.LastSeen * 1000),
		Latitude:    *sv.Latitude,
		Longitude:   *sv.Longitude,
		Altitude:    sv.Altitude,
		Callsign:    sv.Callsign,
		Track:       sv.Track,
	}
	p.sink.Enqueue(row)

	if err := p.store.SetLastWrite(ctx, sv.Identifier, sv.LastSeen); err != nil {
		p.logger.Warn("set last_write failed", "identifier", sv.Identifier, "error", err)
	}
}

// Package query implements the query façade: trajectory
// lookups and free-text search over a history table, plus a
// near-point lookup delegated to internal/geo. Grounded on
// original_source/src/tangram/history.py (list_tracks, count_tracks
// shape) generalized from a local SQLite cache to direct scans of
// the history engine's own columnar tables.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/geo"
	"github.com/open-aviation/tangram/internal/history"
)

// MinSegmentRows is the minimum row count a flight segment must have
// to be reported by Search.
const MinSegmentRows = 5

// SegmentGap is the minimum gap between consecutive points that
// starts a new flight segment.
const SegmentGap = 30 * 60 * 1000 // milliseconds

// Facade answers query operations against one history table.
type Facade struct {
	table *history.Table
	geo   *geo.Index
}

// New returns a Facade over table, delegating near-point lookups to
// geoIndex.
func New(table *history.Table, geoIndex *geo.Index) *Facade {
	return &Facade{table: table, geo: geoIndex}
}

// Point is one trajectory sample as returned to a caller.
type Point struct {
	Identifier  string   `json:"identifier"`
	TimestampMs int64    `json:"timestamp_ms"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Callsign    *string  `json:"callsign,omitempty"`
	Track       *float64 `json:"track,omitempty"`
}

// Trajectory returns identifier's points within [fromMs, toMs] (spec
// §4.8 "Trajectory by id and time window"), ordered ascending by
// timestamp. A zero toMs means "no upper bound".
func (f *Facade) Trajectory(ctx context.Context, identifier string, fromMs, toMs int64) ([]Point, error) {
	rows, err := f.table.ScanAll()
	if err != nil {
		return nil, fmt.Errorf("trajectory query: %w", err)
	}

	var points []Point
	for _, row := range rows {
		if row.Identifier != identifier {
			continue
		}
		if row.TimestampMs < fromMs {
			continue
		}
		if toMs > 0 && row.TimestampMs > toMs {
			continue
		}
		points = append(points, toPoint(row))
	}

	sort.Slice(points, func(i, j int) bool { return points[i].TimestampMs < points[j].TimestampMs })
	return points, nil
}

// Segment is one flight segment aggregate emitted by Search (spec
// §4.8 "per-segment aggregates").
type Segment struct {
	Identifier string  `json:"identifier"`
	Callsign   string  `json:"callsign"`
	StartTs    int64   `json:"start_ts"`
	EndTs      int64   `json:"end_ts"`
	RowCount   int     `json:"row_count"`
	MeanLat    float64 `json:"mean_lat"`
	MeanLon    float64 `json:"mean_lon"`
	DurationS  float64 `json:"duration_s"`
}

// Search performs free-text matching on callsign/identifier substring,
// segments each candidate's points, and returns the qualifying
// segments ordered by start time descending.
func (f *Facade) Search(ctx context.Context, query string) ([]Segment, error) {
	rows, err := f.table.ScanAll()
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}

	byID := make(map[string][]codec.HistoryRow)
	for _, row := range rows {
		byID[row.Identifier] = append(byID[row.Identifier], row)
	}

	needle := strings.ToLower(query)
	var segments []Segment
	for id, idRows := range byID {
		if !identifierMatches(id, idRows, needle) {
			continue
		}
		sort.Slice(idRows, func(i, j int) bool { return idRows[i].TimestampMs < idRows[j].TimestampMs })
		forwardFillCallsign(idRows)
		for _, seg := range segmentRows(id, idRows) {
			if seg.RowCount >= MinSegmentRows {
				segments = append(segments, seg)
			}
		}
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].StartTs > segments[j].StartTs })
	return segments, nil
}

// identifierMatches reports whether id itself, or any callsign ever
// observed for id, substring-matches needle (already lowercased).
// Candidates are selected at the identifier level, not at the individual-row level, so a segment later includes
// every point of that identifier even if only some rows carried a
// matching callsign.
func identifierMatches(id string, rows []codec.HistoryRow, needle string) bool {
	if strings.Contains(strings.ToLower(id), needle) {
		return true
	}
	for _, row := range rows {
		if row.Callsign != nil && strings.Contains(strings.ToLower(*row.Callsign), needle) {
			return true
		}
	}
	return false
}

// forwardFillCallsign propagates the last non-empty callsign forward
// across rows sorted ascending by timestamp.
func forwardFillCallsign(rows []codec.HistoryRow) {
	var last *string
	for i := range rows {
		if rows[i].Callsign != nil && *rows[i].Callsign != "" {
			last = rows[i].Callsign
		} else if last != nil {
			rows[i].Callsign = last
		}
	}
}

// segmentRows splits rows (sorted ascending, callsign forward-filled)
// into flight segments: a new segment starts whenever the gap to the
// previous point is >= SegmentGap or the callsign changes.
func segmentRows(id string, rows []codec.HistoryRow) []Segment {
	var segments []Segment
	var current []codec.HistoryRow

	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, aggregateSegment(id, current))
		current = nil
	}

	for i, row := range rows {
		if i > 0 {
			prev := rows[i-1]
			gap := row.TimestampMs - prev.TimestampMs
			callsignChanged := !sameCallsign(prev.Callsign, row.Callsign)
			if gap >= SegmentGap || callsignChanged {
				flush()
			}
		}
		current = append(current, row)
	}
	flush()
	return segments
}

func sameCallsign(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func aggregateSegment(id string, rows []codec.HistoryRow) Segment {
	var sumLat, sumLon float64
	for _, r := range rows {
		sumLat += r.Latitude
		sumLon += r.Longitude
	}
	callsign := ""
	if rows[0].Callsign != nil {
		callsign = *rows[0].Callsign
	}
	start := rows[0].TimestampMs
	end := rows[len(rows)-1].TimestampMs
	return Segment{
		Identifier: id,
		Callsign:   callsign,
		StartTs:    start,
		EndTs:      end,
		RowCount:   len(rows),
		MeanLat:    sumLat / float64(len(rows)),
		MeanLon:    sumLon / float64(len(rows)),
		DurationS:  float64(end-start) / 1000,
	}
}

// NearPoint delegates to the geospatial index.
func (f *Facade) NearPoint(ctx context.Context, centerLon, centerLat, radiusKM float64) ([]geo.Point, error) {
	return f.geo.Search(ctx, centerLon, centerLat, radiusKM)
}

func toPoint(row codec.HistoryRow) Point {
	return Point{
		Identifier:  row.Identifier,
		TimestampMs: row.TimestampMs,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		Altitude:    row.Altitude,
		Callsign:    row.Callsign,
		Track:       row.Track,
	}
}

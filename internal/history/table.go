package history

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

// Default tuning values.
const (
	DefaultBufferSize            = 100_000
	DefaultFlushInterval         = 5 * time.Second
	DefaultOptimizeInterval      = 120 * time.Second
	DefaultOptimizeTargetSize    = 128 * 1024 * 1024
	DefaultVacuumInterval        = 120 * time.Second
	DefaultVacuumRetention       = 120 * time.Second
	DefaultQuarantineAfterFailures = 3
	flushHighWaterMark           = 0.8
)

// tableState is a table's runtime state.
type tableState int32

const (
	stateIdle tableState = iota
	stateBuffering
	stateFlushing
	stateMaintaining
	stateDeleting
)

// Table is one Delta-style transactional table directory: a
// single-writer buffered columnar store with background
// compaction/vacuum.
type Table struct {
	Name string
	dir  string
	bus  bus.Bus

	bufferSize       int
	flushInterval    time.Duration
	optimizeInterval time.Duration
	optimizeTarget   int64
	vacuumInterval   time.Duration
	vacuumRetention  time.Duration
	quarantineAfter  int

	logger *slog.Logger

	// writeLock is the process-wide single-writer mutex. pauseSem blocks new flushes/maintenance while
	// a delete holds it for its duration.
	writeLock sync.Mutex
	pauseSem  chan struct{}

	mu             sync.Mutex
	buffer         []codec.HistoryRow
	state          tableState
	quarantined    bool
	flushFailures  int
}

// NewTable returns a Table rooted at <basePath>/<name>.
func NewTable(basePath, name string, b bus.Bus, logger *slog.Logger) *Table {
	t := &Table{
		Name:             name,
		dir:              filepath.Join(basePath, name),
		bus:              b,
		bufferSize:       DefaultBufferSize,
		flushInterval:    DefaultFlushInterval,
		optimizeInterval: DefaultOptimizeInterval,
		optimizeTarget:   DefaultOptimizeTargetSize,
		vacuumInterval:   DefaultVacuumInterval,
		vacuumRetention:  DefaultVacuumRetention,
		quarantineAfter:  DefaultQuarantineAfterFailures,
		logger:           logger,
		pauseSem:         make(chan struct{}, 1),
	}
	return t
}

// Enqueue appends row to the in-memory buffer, implementing the lsp.Sink interface.
func (t *Table) Enqueue(row codec.HistoryRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quarantined {
		return
	}
	t.buffer = append(t.buffer, row)
	t.state = stateBuffering
}

// bufferFillRatio reports how full the buffer is, used to trigger an
// early flush.
func (t *Table) bufferFillRatio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(len(t.buffer)) / float64(t.bufferSize)
}

// Run drives the table's flush timer, compaction timer, and vacuum
// timer until ctx is cancelled. Intended to run under
// taskrunner.Run.
func (t *Table) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(t.flushInterval)
	defer flushTicker.Stop()
	optimizeTicker := time.NewTicker(t.optimizeInterval)
	defer optimizeTicker.Stop()
	vacuumTicker := time.NewTicker(t.vacuumInterval)
	defer vacuumTicker.Stop()

	checkTicker := time.NewTicker(200 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushTicker.C:
			t.flushIfDue(ctx)
		case <-checkTicker.C:
			if t.bufferFillRatio() >= flushHighWaterMark {
				t.flushIfDue(ctx)
			}
		case <-optimizeTicker.C:
			if err := t.Optimize(ctx); err != nil {
				t.logger.Error("compaction failed, will retry next cycle", "table", t.Name, "error", err)
			}
		case <-vacuumTicker.C:
			if err := t.Vacuum(ctx); err != nil {
				t.logger.Error("vacuum failed, will retry next cycle", "table", t.Name, "error", err)
			}
		}
	}
}

// flushIfDue performs one flush cycle, tracking consecutive failures
// for the quarantine policy.
func (t *Table) flushIfDue(ctx context.Context) {
	if err := t.Flush(ctx); err != nil {
		t.mu.Lock()
		t.flushFailures++
		failures := t.flushFailures
		t.mu.Unlock()

		t.logger.Error("history flush failed", "table", t.Name, "attempt", failures, "error", err)

		if failures >= t.quarantineAfter {
			t.mu.Lock()
			t.quarantined = true
			t.mu.Unlock()
			t.logger.Error("table quarantined after repeated flush failures", "table", t.Name, "failures", failures)
		}
		return
	}
	t.mu.Lock()
	t.flushFailures = 0
	t.mu.Unlock()
}

// Flush commits the current buffer as a new data file and log
// version. An empty buffer is a no-op.
func (t *Table) Flush(ctx context.Context) error {
	select {
	case t.pauseSem <- struct{}{}:
		defer func() { <-t.pauseSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()

	t.mu.Lock()
	rows := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	t.mu.Lock()
	t.state = stateFlushing
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.state = stateIdle
		t.mu.Unlock()
	}()

	fileName := fmt.Sprintf("part-%s.parquet", uuid.NewString())
	dataPath := filepath.Join(t.dir, fileName)

	size, err := writeDataFile(dataPath, rows)
	if err != nil {
		t.mu.Lock()
		t.buffer = append(rows, t.buffer...) // put rows back so the next tick retries
		t.mu.Unlock()
		return fmt.Errorf("flush table %s: %w", t.Name, err)
	}

	actions := []Action{{Add: &AddAction{Path: fileName, Size: size}}}
	if _, isFirst := t.firstVersion(); isFirst {
		actions = append([]Action{{Metadata: &MetadataAction{SchemaJSON: HistoryRowSchemaJSON}}}, actions...)
	}

	var version int64
	for _, action := range actions {
		v, err := appendVersion(t.dir, action)
		if err != nil {
			return fmt.Errorf("flush table %s: commit log: %w", t.Name, err)
		}
		version = v
	}

	if err := t.publishTableURI(ctx); err != nil {
		t.logger.Warn("table uri publish failed", "table", t.Name, "error", err)
	}
	_ = version
	return nil
}

// firstVersion reports whether this table has not yet committed any
// log version, in which case the next Flush must also write a
// Metadata action recording the schema.
func (t *Table) firstVersion() (int64, bool) {
	versions, err := readLog(t.dir)
	if err != nil || len(versions) == 0 {
		return 0, true
	}
	return versions[len(versions)-1].Number, false
}

// publishTableURI publishes the table's current location.
func (t *Table) publishTableURI(ctx context.Context) error {
	key := fmt.Sprintf("tangram:history:table_uri:%s", t.Name)
	return t.bus.Set(ctx, key, t.dir, 0)
}

// Describe returns this table's current URI, version, and schema.
func (t *Table) Describe() (TableInfo, error) {
	versions, err := readLog(t.dir)
	if err != nil {
		return TableInfo{}, err
	}
	_, schemaJSON, version := currentState(versions)
	return TableInfo{Name: t.Name, URI: t.dir, Version: version, SchemaJSON: schemaJSON}, nil
}

// TableInfo mirrors codec.TableInfo with the richer in-process Table
// reference dropped; callers render it for CLI output or ship it in a
// ControlResponse.
type TableInfo = codec.TableInfo

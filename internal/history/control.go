package history

import (
	"context"
	"log/slog"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
)

// ControlChannel is the bus channel ControlCommand envelopes arrive
// on, and the channel historyctl probes to decide whether a live
// controller is listening.
const ControlChannel = "history:control"

// Registry is the set of tables a Controller dispatches commands
// against, keyed by table name.
type Registry struct {
	tables map[string]*Table
}

// NewRegistry builds a Registry over tables.
func NewRegistry(tables ...*Table) *Registry {
	r := &Registry{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		r.tables[t.Name] = t
	}
	return r
}

// All returns every registered table.
func (r *Registry) All() []*Table {
	out := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		out = append(out, t)
	}
	return out
}

// Lookup returns the table named name, or nil if none is registered.
func (r *Registry) Lookup(name string) *Table {
	return r.tables[name]
}

// Controller serves the "history:control" protocol: ListTables and DeleteRows commands arrive as
// envelopes on "history:control" and are answered per-sender on
// "history:control:response:<sender_id>".
type Controller struct {
	bus      bus.Bus
	registry *Registry
	logger   *slog.Logger
}

// NewController returns a Controller dispatching against registry.
func NewController(b bus.Bus, registry *Registry, logger *slog.Logger) *Controller {
	return &Controller{bus: b, registry: registry, logger: logger}
}

// Run subscribes to "history:control" and dispatches commands until
// ctx is cancelled. Intended to run under taskrunner.Run.
func (c *Controller) Run(ctx context.Context) error {
	messages, err := c.bus.Subscribe(ctx, ControlChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg.Payload)
		}
	}
}

func (c *Controller) handle(ctx context.Context, raw []byte) {
	cmd, err := codec.DecodeControlCommand(raw)
	if err != nil {
		c.logger.Warn("malformed control command dropped", "error", err)
		return
	}

	var resp codec.ControlResponse
	switch cmd.Type {
	case codec.CommandListTables:
		resp = c.listTables()
	case codec.CommandDeleteRows:
		resp = c.deleteRows(cmd)
	default:
		resp = codec.ControlResponse{Type: codec.ResponseCommandFailed, Error: "unknown command type: " + string(cmd.Type)}
	}

	c.respond(ctx, cmd.SenderID, resp)
}

func (c *Controller) listTables() codec.ControlResponse {
	var infos []codec.TableInfo
	for _, t := range c.registry.All() {
		info, err := t.Describe()
		if err != nil {
			c.logger.Error("describe table failed", "table", t.Name, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return codec.ControlResponse{Type: codec.ResponseTableList, Tables: infos}
}

func (c *Controller) deleteRows(cmd codec.ControlCommand) codec.ControlResponse {
	t := c.registry.Lookup(cmd.Table)
	if t == nil {
		return codec.ControlResponse{Type: codec.ResponseCommandFailed, Error: "unknown table: " + cmd.Table}
	}

	if cmd.DryRun {
		n, rows, err := t.previewDeleteRows(cmd.Predicate)
		if err != nil {
			return codec.ControlResponse{Type: codec.ResponseCommandFailed, Error: err.Error()}
		}
		return codec.ControlResponse{Type: codec.ResponseDeleteOutput, AffectedRows: n, PreviewJSON: rows}
	}

	n, err := t.DeleteRows(cmd.Predicate)
	if err != nil {
		return codec.ControlResponse{Type: codec.ResponseCommandFailed, Error: err.Error()}
	}
	return codec.ControlResponse{Type: codec.ResponseDeleteOutput, AffectedRows: n}
}

func (c *Controller) respond(ctx context.Context, senderID string, resp codec.ControlResponse) {
	raw, err := codec.EncodeControlResponse(resp)
	if err != nil {
		c.logger.Error("encode control response failed", "error", err)
		return
	}
	if err := c.bus.Publish(ctx, codec.ResponseChannel(senderID), raw); err != nil {
		c.logger.Error("publish control response failed", "sender", senderID, "error", err)
	}
}

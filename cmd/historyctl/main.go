// Command historyctl is the operator CLI for the history engine's
// control protocol: listing tables and deleting rows by predicate,
// either against a running tangram process over the bus or directly
// against the table directories on disk.
//
// Grounded on packages/tangram_history/src/tangram_history/cli.py's
// online/offline branching (probe subscriber count on
// "history:control", fall back to direct file access) and the
// teacher's flag-based cmd/thane/main.go for the overall process
// shape, rebuilt here on cobra since the rest of the pack (e.g.
// prysmaticlabs-prysm, cuemby-warren) favours cobra for multi-command
// CLIs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/codec"
	"github.com/open-aviation/tangram/internal/history"
)

// Exit codes: 0 success, 1 configuration/parse error, 2 the controller
// is unreachable and there is no usable offline table directory to
// fall back to, 3 the operation itself (online or offline) failed.
const (
	exitOK                 = 0
	exitConfigOrParseError = 1
	exitOfflineNotApplicable = 2
	exitOperationFailed    = 3
)

// quietLogger discards everything; historyctl reports its own errors
// to stderr directly rather than through the structured logger the
// service process uses.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	redisURL     string
	basePath     string
	forceOffline bool
)

func main() {
	root := &cobra.Command{
		Use:   "historyctl",
		Short: "Inspect and maintain tangram history tables",
	}
	root.PersistentFlags().StringVar(&redisURL, "redis-url", envOr("TANGRAM_REDIS_URL", "redis://localhost:6379/0"), "bus connection string")
	root.PersistentFlags().StringVar(&basePath, "base-path", envOr("TANGRAM_HISTORY_BASE_PATH", "./data/history"), "history tables root directory, used offline")
	root.PersistentFlags().BoolVar(&forceOffline, "force-offline", false, "skip the online probe and read table directories directly")

	root.AddCommand(newLsCmd())
	root.AddCommand(newRmCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigOrParseError)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// offlineUnusable reports whether basePath cannot serve as an offline
// fallback at all, as opposed to serving as one and the operation
// itself failing (no predicate match, a corrupt table, ...).
func offlineUnusable(basePath string) bool {
	info, err := os.Stat(basePath)
	return err != nil || !info.IsDir()
}

func newLsCmd() *cobra.Command {
	var showSchema bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(showSchema)
		},
	}
	cmd.Flags().BoolVar(&showSchema, "show-schema", false, "print each table's schema tree")
	return cmd
}

func runLs(showSchema bool) error {
	ctx := context.Background()

	if !forceOffline {
		tables, err := lsOnline(ctx)
		if err == nil {
			printTables(tables, showSchema)
			return nil
		}
		fmt.Fprintf(os.Stderr, "online probe failed, falling back to offline mode: %v\n", err)
		if offlineUnusable(basePath) {
			fmt.Fprintf(os.Stderr, "base path %q is not a usable offline table directory\n", basePath)
			os.Exit(exitOfflineNotApplicable)
		}
	}

	tables, err := history.ListTablesOffline(basePath)
	if err != nil {
		os.Exit(exitOperationFailed)
		return err
	}
	printTables(tables, showSchema)
	return nil
}

func lsOnline(ctx context.Context) ([]codec.TableInfo, error) {
	b, err := bus.NewRedis(redisURL, quietLogger())
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()

	n, err := b.PubSubNumSub(ctx, history.ControlChannel)
	if err != nil {
		return nil, fmt.Errorf("probe subscribers: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("no history controller subscribed to %q", history.ControlChannel)
	}

	resp, err := sendCommand(ctx, b, codec.ControlCommand{Type: codec.CommandListTables})
	if err != nil {
		return nil, err
	}
	if resp.Type == codec.ResponseCommandFailed {
		return nil, fmt.Errorf("controller reported failure: %s", resp.Error)
	}
	return resp.Tables, nil
}

func printTables(tables []codec.TableInfo, showSchema bool) {
	if len(tables) == 0 {
		fmt.Println("no tables found")
		return
	}
	for _, t := range tables {
		fmt.Printf("%-20s version=%-6d uri=%s\n", t.Name, t.Version, t.URI)
		if showSchema && t.SchemaJSON != "" {
			fmt.Println(history.FormatSchemaTree(t.SchemaJSON))
		}
	}
}

func newRmCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "rm <table> <predicate-sql>",
		Short: "Delete rows from a table matching a SQL WHERE-clause predicate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(args[0], args[1], dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report matching rows without deleting them")
	return cmd
}

func runRm(table, predicate string, dryRun bool) error {
	ctx := context.Background()

	if !forceOffline {
		affected, preview, err := rmOnline(ctx, table, predicate, dryRun)
		if err == nil {
			reportRm(affected, preview, dryRun)
			return nil
		}
		fmt.Fprintf(os.Stderr, "online control command failed, falling back to offline mode: %v\n", err)
		if offlineUnusable(basePath) {
			fmt.Fprintf(os.Stderr, "base path %q is not a usable offline table directory\n", basePath)
			os.Exit(exitOfflineNotApplicable)
		}
	}

	if !dryRun && !confirmDelete(table, predicate) {
		fmt.Println("aborted")
		return nil
	}

	affected, err := history.DeleteRowsOffline(basePath+"/"+table, predicate)
	if err != nil {
		os.Exit(exitOperationFailed)
		return err
	}
	reportRm(affected, nil, dryRun)
	return nil
}

func rmOnline(ctx context.Context, table, predicate string, dryRun bool) (int, []json.RawMessage, error) {
	b, err := bus.NewRedis(redisURL, quietLogger())
	if err != nil {
		return 0, nil, fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()

	n, err := b.PubSubNumSub(ctx, history.ControlChannel)
	if err != nil {
		return 0, nil, fmt.Errorf("probe subscribers: %w", err)
	}
	if n == 0 {
		return 0, nil, fmt.Errorf("no history controller subscribed to %q", history.ControlChannel)
	}

	if !dryRun && !confirmDelete(table, predicate) {
		fmt.Println("aborted")
		os.Exit(exitOK)
	}

	resp, err := sendCommand(ctx, b, codec.ControlCommand{
		Type:      codec.CommandDeleteRows,
		Table:     table,
		Predicate: predicate,
		DryRun:    dryRun,
	})
	if err != nil {
		return 0, nil, err
	}
	if resp.Type == codec.ResponseCommandFailed {
		os.Exit(exitOperationFailed)
		return 0, nil, fmt.Errorf("controller reported failure: %s", resp.Error)
	}
	return resp.AffectedRows, resp.PreviewJSON, nil
}

func confirmDelete(table, predicate string) bool {
	fmt.Printf("delete rows from %q where %s ? [y/N] ", table, predicate)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

func reportRm(affected int, preview []json.RawMessage, dryRun bool) {
	if dryRun {
		fmt.Printf("%d rows would be deleted\n", affected)
		for _, row := range preview {
			fmt.Println(string(row))
		}
		return
	}
	fmt.Printf("%d rows deleted\n", affected)
}

// sendCommand publishes cmd on the control channel with a random
// sender ID, subscribes to its response channel first to avoid a
// race against the controller's reply, and waits up to 10s.
func sendCommand(ctx context.Context, b bus.Bus, cmd codec.ControlCommand) (codec.ControlResponse, error) {
	cmd.SenderID = strconv.FormatInt(rand.Int63(), 36)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	replies, err := b.Subscribe(ctx, codec.ResponseChannel(cmd.SenderID))
	if err != nil {
		return codec.ControlResponse{}, fmt.Errorf("subscribe for response: %w", err)
	}

	raw, err := codec.EncodeControlCommand(cmd)
	if err != nil {
		return codec.ControlResponse{}, fmt.Errorf("encode command: %w", err)
	}
	if err := b.Publish(ctx, history.ControlChannel, raw); err != nil {
		return codec.ControlResponse{}, fmt.Errorf("publish command: %w", err)
	}

	select {
	case msg, ok := <-replies:
		if !ok {
			return codec.ControlResponse{}, fmt.Errorf("response subscription closed before reply")
		}
		resp, err := codec.DecodeControlResponse(msg.Payload)
		if err != nil {
			return codec.ControlResponse{}, fmt.Errorf("decode response: %w", err)
		}
		return resp, nil
	case <-ctx.Done():
		return codec.ControlResponse{}, fmt.Errorf("timed out waiting for controller response")
	}
}

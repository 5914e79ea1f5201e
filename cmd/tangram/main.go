// Package main is the entry point for the tangram tracking service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-aviation/tangram/internal/admission"
	"github.com/open-aviation/tangram/internal/buildinfo"
	"github.com/open-aviation/tangram/internal/bus"
	"github.com/open-aviation/tangram/internal/channel"
	"github.com/open-aviation/tangram/internal/config"
	"github.com/open-aviation/tangram/internal/geo"
	"github.com/open-aviation/tangram/internal/history"
	"github.com/open-aviation/tangram/internal/hub"
	"github.com/open-aviation/tangram/internal/lsp"
	"github.com/open-aviation/tangram/internal/metrics"
	"github.com/open-aviation/tangram/internal/ratelimit"
	"github.com/open-aviation/tangram/internal/state"
	"github.com/open-aviation/tangram/internal/taskrunner"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.Info() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("tangram - realtime aircraft/vessel situational-awareness backend")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the channel multiplexer, pipeline, and history engine")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting tangram", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.Core.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.Core.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "redis_url", cfg.Core.RedisURL, "channel_port", cfg.Channel.Port, "server_port", cfg.Server.Port)

	redisBus, err := bus.NewRedis(cfg.Core.RedisURL, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "url", cfg.Core.RedisURL, "error", err)
		os.Exit(1)
	}
	defer redisBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore := state.New(redisBus, state.DefaultExpiration)
	geoIndex := geo.New(redisBus)
	issuer := admission.New(cfg.Channel.JWTSecret, cfg.Channel.JWTExpiration(), cfg.Channel.IDLength)
	channelHub := hub.New()

	tables := buildTables(cfg, redisBus, logger)
	registry := history.NewRegistry(tables...)
	controller := history.NewController(redisBus, registry, logger)

	sink := firstSink(tables)
	pipeline := lsp.New(redisBus, stateStore, geoIndex, sink, lsp.DefaultWriteInterval, logger)
	rateLimiter := ratelimit.New(redisBus, ratelimit.DefaultInterval)
	multiplexer := channel.New(redisBus, channelHub, issuer, cfg.Channel.HeartbeatWindow(), logger)

	go taskrunner.Run(ctx, logger, "live-state-pipeline", pipeline.Run)
	go taskrunner.Run(ctx, logger, "rate-limiter", rateLimiter.Run)
	go taskrunner.Run(ctx, logger, "history-control", controller.Run)
	go taskrunner.Run(ctx, logger, "channel-bus-relay", multiplexer.Run)
	go taskrunner.Run(ctx, logger, "state-sweeper", func(ctx context.Context) error {
		return stateStore.Sweep(ctx, state.DefaultSweepInterval, state.DefaultExpiration)
	})
	for _, t := range tables {
		go taskrunner.Run(ctx, logger, "history-table-"+t.Name, t.Run)
	}

	channelServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Channel.Host, cfg.Channel.Port),
		Handler: multiplexer,
	}
	go func() {
		logger.Info("channel multiplexer listening", "addr", channelServer.Addr)
		if err := channelServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("channel multiplexer failed", "error", err)
		}
	}()

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.Handle("/healthz", metrics.HealthzHandler(map[string]metrics.Checker{
		"bus": func(ctx context.Context) error {
			_, err := redisBus.PubSubNumSub(ctx, "history:control")
			return err
		},
	}))
	adminServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler: adminMux,
	}
	go func() {
		logger.Info("admin server listening", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = channelServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)

	logger.Info("tangram stopped")
}

// buildTables constructs one history.Table per configured plugin
// table under [plugins.history].
func buildTables(cfg *config.Config, b bus.Bus, logger *slog.Logger) []*history.Table {
	basePath := "./data/history"
	names := []string{"jet1090"}

	if historyPlugin, ok := cfg.Plugins["history"]; ok {
		var decoded struct {
			BasePath string   `toml:"base_path"`
			Tables   []string `toml:"tables"`
		}
		if err := historyPlugin.Decode(&decoded); err == nil {
			if decoded.BasePath != "" {
				basePath = decoded.BasePath
			}
			if len(decoded.Tables) > 0 {
				names = decoded.Tables
			}
		}
	}

	tables := make([]*history.Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, history.NewTable(basePath, name, b, logger))
	}
	return tables
}

// firstSink returns the sink LSP pushes history rows into — the first
// configured table, since a single jet1090 feed corresponds to one
// table family by default. Deployments with more than one family wire
// their own dispatch in a fork of runServe.
func firstSink(tables []*history.Table) lsp.Sink {
	if len(tables) == 0 {
		return nil
	}
	return tables[0]
}

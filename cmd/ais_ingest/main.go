// Command ais_ingest ingests a live AIS feed into the vessel store.
//
// Usage:
//
//	ais_ingest stream [options]   run the ingestion pipeline until interrupted
//	ais_ingest enrich [options]   re-classify stored vessels with placeholder type or flag
//	ais_ingest export [options]   write a stored vessel track as KML
//	ais_ingest analyze [options]  report how a frame capture decodes
//
// Every option has an environment default: AISSTREAM_API_KEY, AIS_STORE,
// SQLITE_PATH, POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD,
// POSTGRES_DATABASE, CLICKHOUSE_HOST, CLICKHOUSE_PORT, CLICKHOUSE_DATABASE,
// CLICKHOUSE_USER, CLICKHOUSE_PASSWORD, REDIS_ADDR, REDIS_PASSWORD and
// NATS_URL. Run a subcommand with --help for the full list.
//
// Exit status is 2 for usage and configuration errors, which are reported
// before any connection is attempted, and 1 for runtime failures.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"ais_ingest/internal/api"
	"ais_ingest/internal/config"
	"ais_ingest/internal/decoder"
	"ais_ingest/internal/export"
	"ais_ingest/internal/ingest"
	"ais_ingest/internal/metrics"
	"ais_ingest/internal/storage"
	"ais_ingest/internal/stream"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "ais_ingest - commands:")
	fmt.Fprintln(w, "  stream  - subscribe to the live feed and persist vessel state")
	fmt.Fprintln(w, "  enrich  - classify stored vessels whose type or flag is unknown")
	fmt.Fprintln(w, "  export  - write a vessel's stored track as KML")
	fmt.Fprintln(w, "  analyze - decode a JSONL frame capture and report coverage")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ais_ingest stream --preset india [--split-boxes] [--store postgres]")
	fmt.Fprintln(w, "  ais_ingest enrich [--limit 100]")
	fmt.Fprintln(w, "  ais_ingest export --mmsi 366123456 [--since 24h] [--output track.kml]")
	fmt.Fprintln(w, "  ais_ingest analyze --input capture.jsonl [--format json]")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Presets: %s\n", strings.Join(config.PresetNames(nil), ", "))
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitUsage
	}
	switch cmd := strings.ToLower(args[0]); cmd {
	case "stream":
		return runStream(args[1:], stderr)
	case "enrich":
		return runEnrich(args[1:], stdout, stderr)
	case "export":
		return runExport(args[1:], stdout, stderr)
	case "analyze":
		return runAnalyze(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		usage(stderr)
		return exitUsage
	}
}

// logFlags are shared by every subcommand.
type logFlags struct {
	level  string
	format string
}

func (l *logFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&l.level, "log-level", config.EnvOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.StringVar(&l.format, "log-format", config.EnvOr("LOG_FORMAT", "text"), "log format: text or json")
}

func (l *logFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.level)); err != nil {
		return nil, &config.ConfigError{Field: "log-level", Reason: err.Error()}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, &config.ConfigError{Field: "log-format", Reason: fmt.Sprintf("unknown format %q", l.format)}
	}
}

func addStorageFlags(fs *pflag.FlagSet, cfg *storage.Config) {
	fs.StringVar((*string)(&cfg.Backend), "store", config.EnvOr("AIS_STORE", string(cfg.Backend)), "primary store: sqlite or postgres")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", config.EnvOr("SQLITE_PATH", cfg.SQLitePath), "SQLite database file")

	fs.StringVar(&cfg.Postgres.Host, "pg-host", config.EnvOr("POSTGRES_HOST", cfg.Postgres.Host), "PostgreSQL host")
	fs.IntVar(&cfg.Postgres.Port, "pg-port", config.EnvOrInt("POSTGRES_PORT", cfg.Postgres.Port), "PostgreSQL port")
	fs.StringVar(&cfg.Postgres.User, "pg-user", config.EnvOr("POSTGRES_USER", cfg.Postgres.User), "PostgreSQL user")
	fs.StringVar(&cfg.Postgres.Password, "pg-password", config.EnvOr("POSTGRES_PASSWORD", cfg.Postgres.Password), "PostgreSQL password")
	fs.StringVar(&cfg.Postgres.Database, "pg-database", config.EnvOr("POSTGRES_DATABASE", cfg.Postgres.Database), "PostgreSQL database")

	fs.StringVar(&cfg.ClickHouse.Host, "clickhouse-host", config.EnvOr("CLICKHOUSE_HOST", ""), "ClickHouse host for the position history mirror (disabled when empty)")
	fs.IntVar(&cfg.ClickHouse.Port, "clickhouse-port", config.EnvOrInt("CLICKHOUSE_PORT", cfg.ClickHouse.Port), "ClickHouse native port")
	fs.StringVar(&cfg.ClickHouse.Database, "clickhouse-database", config.EnvOr("CLICKHOUSE_DATABASE", cfg.ClickHouse.Database), "ClickHouse database")
	fs.StringVar(&cfg.ClickHouse.User, "clickhouse-user", config.EnvOr("CLICKHOUSE_USER", cfg.ClickHouse.User), "ClickHouse user")
	fs.StringVar(&cfg.ClickHouse.Password, "clickhouse-password", config.EnvOr("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")

	fs.StringVar(&cfg.Redis.Addr, "redis-addr", config.EnvOr("REDIS_ADDR", ""), "Redis address for the latest-position cache (disabled when empty)")
	fs.StringVar(&cfg.Redis.Password, "redis-password", config.EnvOr("REDIS_PASSWORD", ""), "Redis password")
	fs.DurationVar(&cfg.Redis.TTL, "redis-ttl", cfg.Redis.TTL, "expiry of cached latest positions")
}

func runStream(args []string, stderr io.Writer) int {
	cfg := config.Default()
	var (
		logs       logFlags
		configPath string
		metricsKey []string
	)

	fs := pflag.NewFlagSet("stream", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logs.add(fs)
	fs.StringVar(&configPath, "config", config.EnvOr("AIS_CONFIG", ""), "YAML file with extra presets and tuning")

	fs.StringVar(&cfg.Source, "source", cfg.Source, "frame source: websocket, nats or file")
	fs.StringVar(&cfg.APIKey, "api-key", config.EnvOr("AISSTREAM_API_KEY", ""), "feed API key")
	fs.StringVar(&cfg.URL, "url", config.EnvOr("AISSTREAM_URL", cfg.URL), "feed websocket endpoint")
	fs.StringVar(&cfg.Preset, "preset", cfg.Preset, "coverage preset: "+strings.Join(config.PresetNames(nil), ", "))
	fs.BoolVar(&cfg.SplitBoxes, "split-boxes", false, "run one connection per bounding box of the preset")
	fs.StringSliceVar(&cfg.MessageTypes, "message-types", cfg.MessageTypes, "message kinds to subscribe to")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait between reconnect attempts")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "keep-alive ping interval")
	fs.DurationVar(&cfg.PongTimeout, "pong-timeout", cfg.PongTimeout, "keep-alive reply timeout")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "websocket handshake timeout")

	fs.StringVar(&cfg.NATSURL, "nats-url", config.EnvOr("NATS_URL", cfg.NATSURL), "NATS server for --source nats")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject carrying raw frames")
	fs.StringVar(&cfg.InputPath, "input", "", "JSONL frame capture for --source file (- for stdin)")

	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "persistence workers")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "queued writes per worker")
	fs.StringVar(&cfg.Policy, "overflow-policy", cfg.Policy, "full queue policy: block or drop_oldest")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-write timeout (0 disables)")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "time allowed to drain queued writes on exit")
	fs.StringVar(&cfg.DataSource, "data-source", cfg.DataSource, "data source tag stored with every update")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", config.EnvOr("METRICS_ADDR", cfg.MetricsAddr), "ops server address for /health and /metrics (empty disables)")
	fs.StringSliceVar(&metricsKey, "metrics-api-keys", nil, "API keys required for /metrics")
	addStorageFlags(fs, &cfg.Storage)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	logger, err := logs.logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	slog.SetDefault(logger)

	if configPath != "" {
		f, err := config.LoadFile(configPath)
		if err != nil {
			logger.Error("cannot load config file", "path", configPath, "error", err)
			return exitUsage
		}
		cfg.Apply(f, fs.Changed)
	}
	if err := cfg.Validate(); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Error("invalid configuration", "field", cfgErr.Field, "error", cfgErr.Reason)
		} else {
			logger.Error("invalid configuration", "error", err)
		}
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("cannot open store", "error", err)
		return exitRuntime
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	sources, err := ingest.Sources(cfg, stream.WithLogger(logger), stream.WithMetrics(m))
	if err != nil {
		logger.Error("cannot build sources", "error", err)
		return exitUsage
	}

	dec := decoder.New(decoder.WithLogger(logger))
	for _, kind := range dec.Unhandled(cfg.MessageTypes) {
		logger.Warn("subscribed kind has no decoder, its frames will be skipped", "kind", kind)
	}

	sup := ingest.New(ingest.PipelineConfig(cfg), store, sources,
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithRegisterer(reg),
		ingest.WithDecoder(dec),
	)

	if cfg.MetricsAddr != "" {
		srv := api.NewServer(api.Config{Addr: cfg.MetricsAddr, APIKeys: metricsKey}, sup.Stats, reg, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Warn("ops server stopped", "error", err)
			}
		}()
	}

	logger.Info("starting ingestion",
		"source", cfg.Source,
		"preset", cfg.Preset,
		"split_boxes", cfg.SplitBoxes,
		"store", cfg.Storage.Backend,
	)
	if err := sup.Run(ctx); err != nil {
		logger.Error("ingestion failed", "error", err)
		return exitRuntime
	}
	return exitOK
}

func runEnrich(args []string, stdout, stderr io.Writer) int {
	storeCfg := storage.DefaultConfig()
	var (
		logs  logFlags
		limit int
	)

	fs := pflag.NewFlagSet("enrich", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logs.add(fs)
	fs.IntVar(&limit, "limit", storage.DefaultEnrichLimit, "maximum vessels to examine")
	addStorageFlags(fs, &storeCfg)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	logger, err := logs.logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if limit <= 0 {
		logger.Error("invalid configuration", "field", "limit", "error", "must be positive")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Mirrors only see upserts, so enrichment talks to the primary alone.
	storeCfg.ClickHouse.Host = ""
	storeCfg.Redis.Addr = ""
	store, err := storage.Open(ctx, storeCfg, logger)
	if err != nil {
		logger.Error("cannot open store", "error", err)
		return exitRuntime
	}
	defer store.Close()

	rep, err := ingest.Enrich(ctx, store, limit, logger)
	if err != nil {
		logger.Error("enrichment failed", "error", err)
		return exitRuntime
	}
	fmt.Fprintf(stdout, "scanned %d, updated %d, unchanged %d\n", rep.Scanned, rep.Updated, rep.Unchanged)
	return exitOK
}

func runExport(args []string, stdout, stderr io.Writer) int {
	storeCfg := storage.DefaultConfig()
	var (
		logs   logFlags
		mmsi   int64
		since  time.Duration
		limit  int
		output string
	)

	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logs.add(fs)
	fs.Int64Var(&mmsi, "mmsi", 0, "vessel to export (required)")
	fs.DurationVar(&since, "since", 24*time.Hour, "export positions newer than this (0 for all)")
	fs.IntVar(&limit, "limit", storage.DefaultRouteLimit, "maximum positions, newest kept")
	fs.StringVarP(&output, "output", "o", "", "output KML file (default: stdout)")
	addStorageFlags(fs, &storeCfg)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	logger, err := logs.logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if mmsi <= 0 {
		logger.Error("invalid configuration", "field", "mmsi", "error", "is required")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary := storeCfg
	primary.ClickHouse.Host = ""
	primary.Redis.Addr = ""
	store, err := storage.Open(ctx, primary, logger)
	if err != nil {
		logger.Error("cannot open store", "error", err)
		return exitRuntime
	}
	defer store.Close()

	v, err := store.GetVessel(ctx, mmsi)
	if err != nil {
		logger.Error("cannot load vessel", "mmsi", mmsi, "error", err)
		return exitRuntime
	}
	if v == nil {
		logger.Error("vessel not found", "mmsi", mmsi)
		return exitRuntime
	}

	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}
	route, err := store.ListRoute(ctx, mmsi, from, limit)
	if err != nil {
		logger.Error("cannot load route", "mmsi", mmsi, "error", err)
		return exitRuntime
	}
	if len(route) == 0 && storeCfg.ClickHouse.Host != "" {
		route, err = storage.HistoryRoute(ctx, storeCfg.ClickHouse, mmsi, from, limit)
		if err != nil {
			logger.Error("cannot load route from clickhouse", "mmsi", mmsi, "error", err)
			return exitRuntime
		}
		logger.Debug("route read from clickhouse history", "mmsi", mmsi, "positions", len(route))
	}

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			logger.Error("cannot create output", "path", output, "error", err)
			return exitRuntime
		}
		defer f.Close()
		w = f
	}
	if err := export.Write(w, export.Route(v, route, time.Now())); err != nil {
		logger.Error("cannot write kml", "error", err)
		return exitRuntime
	}
	logger.Info("route exported", "mmsi", mmsi, "positions", len(route))
	return exitOK
}

func runAnalyze(args []string, stdout, stderr io.Writer) int {
	var (
		logs   logFlags
		input  string
		format string
	)

	fs := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logs.add(fs)
	fs.StringVarP(&input, "input", "i", "-", "JSONL frame capture (- for stdin)")
	fs.StringVar(&format, "format", "text", "output format: text or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if logs.level == "info" && !fs.Changed("log-level") {
		// Every skipped frame is logged at warn; keep the report readable.
		logs.level = "error"
	}
	logger, err := logs.logger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if format != "text" && format != "json" {
		logger.Error("invalid configuration", "field", "format", "error", "must be text or json")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := stream.NewFileSource(input, stream.WithLogger(logger))
	rep, err := ingest.Analyze(ctx, src, decoder.New(decoder.WithLogger(logger)))
	if err != nil {
		logger.Error("analysis failed", "error", err)
		return exitRuntime
	}

	if format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return exitOK
	}

	fmt.Fprintf(stdout, "Frames:        %d\n", rep.Frames)
	fmt.Fprintf(stdout, "Decoded:       %d (%.1f%%)\n", rep.Decoded, rep.DecodeRate)
	fmt.Fprintf(stdout, "Unique MMSIs:  %d\n", rep.UniqueMMSIs)
	for _, reason := range slices.Sorted(maps.Keys(rep.Skipped)) {
		fmt.Fprintf(stdout, "Skipped %-14s %d\n", reason+":", rep.Skipped[reason])
	}
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "%-32s %8s %8s %7s\n", "Kind", "Frames", "Decoded", "Share")
	for _, k := range rep.Kinds {
		fmt.Fprintf(stdout, "%-32s %8d %8d %6.1f%%\n", k.Kind, k.Count, k.Decoded, k.Pct)
	}
	return exitOK
}

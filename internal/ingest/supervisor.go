// Package ingest wires the feed sources, the decoder, the classifier and
// the vessel store into one running pipeline.
//
// Decoding and classification run inline on each source's read loop. The
// store write is handed to a worker pool sharded by MMSI, so one vessel's
// updates are applied in arrival order while a slow store only ever stalls
// the feed by the configured overflow policy.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"ais_ingest/internal/decoder"
	"ais_ingest/internal/metrics"
	"ais_ingest/internal/storage"
	"ais_ingest/internal/stream"
	"ais_ingest/internal/vessel"
	"ais_ingest/internal/worker"
)

// Config tunes the persistence side of the pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	Policy        worker.OverflowPolicy
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration
	DataSource    string
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     1024,
		Policy:        worker.PolicyBlock,
		WriteTimeout:  5 * time.Second,
		ShutdownGrace: 15 * time.Second,
		DataSource:    "aisstream",
	}
}

// Supervisor runs the ingestion pipeline.
type Supervisor struct {
	cfg     Config
	store   storage.Store
	sources []stream.Source
	decoder *decoder.Decoder
	pool    *worker.Pool[vessel.Update]

	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry prometheus.Registerer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics sets the pipeline collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithRegisterer registers the persistence pool's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Supervisor) { s.registry = reg }
}

// WithDecoder replaces the default frame decoder.
func WithDecoder(d *decoder.Decoder) Option {
	return func(s *Supervisor) { s.decoder = d }
}

// New builds a supervisor. The store is not closed by the supervisor.
func New(cfg Config, store storage.Store, sources []stream.Source, opts ...Option) *Supervisor {
	def := DefaultConfig()
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.DataSource == "" {
		cfg.DataSource = def.DataSource
	}

	s := &Supervisor{
		cfg:     cfg,
		store:   store,
		sources: sources,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.decoder == nil {
		s.decoder = decoder.New(decoder.WithLogger(s.logger))
	}

	poolOpts := []worker.Option[vessel.Update]{
		worker.WithPolicy[vessel.Update](cfg.Policy),
		worker.WithTimeout[vessel.Update](cfg.WriteTimeout),
		worker.WithLogger[vessel.Update](s.logger),
	}
	if s.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[vessel.Update](s.registry, "ais_ingest_persist"))
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, s.persist, poolOpts...)
	return s
}

// Run starts the pool and every source, and blocks until ctx is cancelled
// or a source fails to start. It then stops the sources, drains queued
// writes for at most the shutdown grace period and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		return errors.New("ingest: no sources configured")
	}
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	s.logger.Info("ingestion started",
		"sources", len(s.sources),
		"workers", s.pool.Stats().Workers,
		"policy", s.cfg.Policy,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		g.Go(func() error {
			if err := src.Run(gctx, s.HandleFrame); err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	s.logger.Info("sources stopped, draining writes",
		"queued", s.pool.Stats().QueueDepth,
		"grace", s.cfg.ShutdownGrace,
	)
	if err := s.pool.Stop(s.cfg.ShutdownGrace); err != nil {
		s.logger.Warn("drain incomplete", "error", err)
	}

	stats := s.pool.Stats()
	s.logger.Info("ingestion stopped",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)
	return runErr
}

// HandleFrame decodes, classifies and queues one raw frame. Frames that do
// not decode are counted and skipped.
func (s *Supervisor) HandleFrame(ctx context.Context, frame []byte) {
	res, err := s.decoder.Decode(frame)
	if err != nil {
		s.metrics.Skipped(skipReason(err))
		if errors.Is(err, decoder.ErrMalformed) || errors.Is(err, decoder.ErrFeedError) {
			s.metrics.Error(metrics.ErrDecode)
		}
		return
	}
	s.metrics.Event(res.Type())

	u, ok := ToUpdate(res, s.cfg.DataSource)
	if !ok {
		return
	}

	if err := s.pool.Submit(ctx, u.MMSI, u); err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("write not queued during shutdown", "mmsi", u.MMSI)
			return
		}
		s.metrics.Error(metrics.ErrPersistence)
		s.logger.Warn("write not queued", "mmsi", u.MMSI, "kind", res.Type(), "error", err)
	}
}

func (s *Supervisor) persist(ctx context.Context, u vessel.Update) error {
	res, err := s.store.Upsert(ctx, u)
	if err != nil {
		s.metrics.Error(metrics.ErrPersistence)
		s.logger.Error("vessel upsert failed", "mmsi", u.MMSI, "error", err)
		return err
	}

	if res.Created {
		s.metrics.VesselCreated()
		s.logger.Info("new vessel",
			"mmsi", res.Vessel.MMSI,
			"name", res.Vessel.Name,
			"type", res.Vessel.VesselType,
			"flag", res.Vessel.Flag,
		)
	}
	if res.Position != nil {
		s.metrics.PositionRecorded()
	}
	return nil
}

// Stats reports the persistence pool state.
func (s *Supervisor) Stats() worker.PoolStats {
	return s.pool.Stats()
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, decoder.ErrFeedError):
		return "feed_error"
	case errors.Is(err, decoder.ErrMalformed):
		return "malformed"
	case errors.Is(err, decoder.ErrUnrecognized):
		return "unrecognized"
	default:
		return "other"
	}
}

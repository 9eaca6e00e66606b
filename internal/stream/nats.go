package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"ais_ingest/internal/metrics"
)

// DefaultSubject is the subject raw frames are relayed on.
const DefaultSubject = "ais.frames"

// NATSConfig configures a NATSSource.
type NATSConfig struct {
	Name          string
	URL           string
	Subject       string
	ReconnectWait time.Duration
	BufferSize    int
}

// NATSSource consumes raw feed frames relayed on a NATS subject. Each
// message body is one frame exactly as the websocket feed sends it.
type NATSSource struct {
	cfg     NATSConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewNATSSource returns a source for cfg. The connector options are
// accepted for the logger and metrics they carry.
func NewNATSSource(cfg NATSConfig, opts ...Option) *NATSSource {
	if cfg.Name == "" {
		cfg.Name = "nats"
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	c := &Connector{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return &NATSSource{
		cfg:     cfg,
		logger:  c.logger.With("feed", cfg.Name),
		metrics: c.metrics,
	}
}

func (s *NATSSource) Name() string { return s.cfg.Name }

// Run subscribes to the subject and hands each message to handle in the
// order the server delivered it.
func (s *NATSSource) Run(ctx context.Context, handle Handler) error {
	if s.cfg.Subject == "" {
		return errors.New("stream: NATS subject is required")
	}

	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("ais_ingest"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(s.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.metrics.Error(metrics.ErrConnection)
			s.metrics.SessionEnded(s.cfg.Name)
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.metrics.SessionStarted(s.cfg.Name)
			s.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	msgs := make(chan *nats.Msg, s.cfg.BufferSize)
	sub, err := conn.ChanSubscribe(s.cfg.Subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}

	if conn.IsConnected() {
		s.metrics.SessionStarted(s.cfg.Name)
	}
	s.logger.Info("nats subscription started", "subject", s.cfg.Subject)

	for {
		select {
		case <-ctx.Done():
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Debug("nats unsubscribe failed", "error", err)
			}
			if conn.IsConnected() {
				s.metrics.SessionEnded(s.cfg.Name)
			}
			s.logger.Info("nats subscription closed", "subject", s.cfg.Subject)
			return nil
		case msg := <-msgs:
			s.metrics.FrameReceived(s.cfg.Name)
			handle(ctx, msg.Data)
		}
	}
}

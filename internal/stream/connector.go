package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/metrics"
)

// DefaultURL is the aisstream endpoint.
const DefaultURL = "wss://stream.aisstream.io/v0/stream"

// Config configures a websocket Connector.
type Config struct {
	Name             string
	URL              string
	APIKey           string
	BoundingBoxes    []ais.BoundingBox
	MessageTypes     []string
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the connection settings used by the stream command.
func DefaultConfig() Config {
	return Config{
		Name:             "aisstream",
		URL:              DefaultURL,
		MessageTypes:     ais.DefaultMessageKinds,
		ReconnectDelay:   10 * time.Second,
		PingInterval:     20 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 45 * time.Second,
	}
}

// Connector maintains a websocket subscription to the feed.
type Connector struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithMetrics sets the collectors updated by the connector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

// NewConnector returns a connector for cfg. Zero durations take defaults.
func NewConnector(cfg Config, opts ...Option) *Connector {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	c := &Connector{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("feed", cfg.Name)
	return c
}

func (c *Connector) Name() string { return c.cfg.Name }

// SubscribeFrame returns the frame sent after every handshake.
func (c *Connector) SubscribeFrame() ais.SubscribeFrame {
	return ais.SubscribeFrame{
		APIKey:             c.cfg.APIKey,
		BoundingBoxes:      c.cfg.BoundingBoxes,
		FilterMessageTypes: c.cfg.MessageTypes,
	}
}

// Connect dials the feed and sends the subscribe frame. Cancelling ctx at
// any point closes the socket.
func (c *Connector) Connect(ctx context.Context) (*Session, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	s := newSession(ctx, conn, c.cfg.PingInterval, c.cfg.PongTimeout)

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if err := conn.WriteJSON(c.SubscribeFrame()); err != nil {
		s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return s, nil
}

// Run connects, streams frames to handle and reconnects after a fixed
// delay whenever the session ends, until ctx is cancelled.
func (c *Connector) Run(ctx context.Context, handle Handler) error {
	if c.cfg.APIKey == "" {
		return errors.New("stream: API key is required")
	}

	for {
		sess, err := c.Connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			c.metrics.Error(metrics.ErrConnection)
			c.logger.Warn("feed connection failed",
				"error", err,
				"retry_in", c.cfg.ReconnectDelay,
			)
		} else {
			c.runSession(ctx, sess, handle)
			if ctx.Err() != nil {
				return nil
			}
		}

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Connector) runSession(ctx context.Context, sess *Session, handle Handler) {
	log := c.logger.With("session", sess.ID)
	log.Info("feed session started", "boxes", len(c.cfg.BoundingBoxes))
	c.metrics.SessionStarted(c.cfg.Name)
	defer c.metrics.SessionEnded(c.cfg.Name)

	var frames int
	for frame := range sess.Frames() {
		frames++
		c.metrics.FrameReceived(c.cfg.Name)
		handle(ctx, frame)
	}

	if ctx.Err() != nil {
		log.Info("feed session closed", "frames", frames)
		return
	}
	c.metrics.Error(metrics.ErrConnection)
	log.Warn("feed session ended",
		"frames", frames,
		"error", sess.Err(),
		"retry_in", c.cfg.ReconnectDelay,
	)
}

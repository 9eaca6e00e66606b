// Package config holds the runtime configuration of the ingestion service,
// its coverage-area presets and the startup validation rules.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/storage"
	"ais_ingest/internal/worker"
)

// Frame sources.
const (
	SourceWebsocket = "websocket"
	SourceNATS      = "nats"
	SourceFile      = "file"
)

// ConfigError reports an unusable setting. It is only ever returned at
// startup, before any connection is attempted.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Config is the full configuration of the stream command.
type Config struct {
	Source string

	// Websocket feed.
	URL              string
	APIKey           string
	Preset           string
	SplitBoxes       bool
	MessageTypes     []string
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HandshakeTimeout time.Duration

	// NATS relay.
	NATSURL     string
	NATSSubject string

	// Capture replay.
	InputPath string

	// Persistence pool.
	Workers       int
	QueueSize     int
	Policy        string
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration
	DataSource    string

	Storage     storage.Config
	MetricsAddr string

	// ExtraPresets come from the YAML file.
	ExtraPresets map[string][]ais.BoundingBox
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Source:           SourceWebsocket,
		URL:              "wss://stream.aisstream.io/v0/stream",
		Preset:           DefaultPreset,
		MessageTypes:     append([]string(nil), ais.DefaultMessageKinds...),
		ReconnectDelay:   10 * time.Second,
		PingInterval:     20 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 45 * time.Second,
		NATSURL:          "nats://127.0.0.1:4222",
		NATSSubject:      "ais.frames",
		Workers:          4,
		QueueSize:        1024,
		Policy:           string(worker.PolicyBlock),
		WriteTimeout:     5 * time.Second,
		ShutdownGrace:    15 * time.Second,
		DataSource:       "aisstream",
		Storage:          storage.DefaultConfig(),
		MetricsAddr:      ":9090",
	}
}

// BoundingBoxes resolves the configured preset.
func (c *Config) BoundingBoxes() ([]ais.BoundingBox, error) {
	return Boxes(c.Preset, c.ExtraPresets)
}

// Validate checks every setting and returns the first problem as a
// *ConfigError.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceWebsocket:
		if err := validateAPIKey(c.APIKey); err != nil {
			return err
		}
		if c.URL == "" {
			return &ConfigError{Field: "url", Reason: "must not be empty"}
		}
	case SourceNATS:
		if c.NATSSubject == "" {
			return &ConfigError{Field: "nats-subject", Reason: "must not be empty"}
		}
	case SourceFile:
		if c.InputPath == "" {
			return &ConfigError{Field: "input", Reason: "is required for the file source"}
		}
	default:
		return &ConfigError{Field: "source", Reason: fmt.Sprintf("unknown source %q", c.Source)}
	}

	for name, boxes := range c.ExtraPresets {
		if len(boxes) == 0 {
			return &ConfigError{Field: "presets." + name, Reason: "has no bounding boxes"}
		}
		for i, box := range boxes {
			if err := validateBox(box); err != nil {
				return &ConfigError{Field: fmt.Sprintf("presets.%s[%d]", name, i), Reason: err.Error()}
			}
		}
	}
	boxes, err := c.BoundingBoxes()
	if err != nil {
		return &ConfigError{Field: "preset", Reason: err.Error()}
	}
	for i, box := range boxes {
		if err := validateBox(box); err != nil {
			return &ConfigError{Field: fmt.Sprintf("preset %s[%d]", c.Preset, i), Reason: err.Error()}
		}
	}

	if len(c.MessageTypes) == 0 {
		return &ConfigError{Field: "message-types", Reason: "must name at least one kind"}
	}
	if c.Workers <= 0 {
		return &ConfigError{Field: "workers", Reason: "must be positive"}
	}
	if c.QueueSize <= 0 {
		return &ConfigError{Field: "queue-size", Reason: "must be positive"}
	}
	if _, err := worker.ParsePolicy(c.Policy); err != nil {
		return &ConfigError{Field: "overflow-policy", Reason: err.Error()}
	}
	if c.WriteTimeout < 0 {
		return &ConfigError{Field: "write-timeout", Reason: "must not be negative"}
	}
	if c.ShutdownGrace <= 0 {
		return &ConfigError{Field: "shutdown-grace", Reason: "must be positive"}
	}
	switch c.Storage.Backend {
	case storage.BackendSQLite, storage.BackendPostgres:
	default:
		return &ConfigError{Field: "store", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}
	return nil
}

func validateAPIKey(key string) error {
	if key == "" {
		return &ConfigError{Field: "api-key", Reason: "is required (set AISSTREAM_API_KEY)"}
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return &ConfigError{Field: "api-key", Reason: "contains whitespace or control characters"}
		}
	}
	return nil
}

func validateBox(box ais.BoundingBox) error {
	for _, corner := range box {
		lat, lon := corner[0], corner[1]
		if lat < -90 || lat > 90 {
			return fmt.Errorf("latitude %v out of range", lat)
		}
		if lon < -180 || lon > 180 {
			return fmt.Errorf("longitude %v out of range", lon)
		}
	}
	return nil
}

// File is the YAML configuration file. Zero values leave the current
// setting alone.
type File struct {
	Presets        map[string][]ais.BoundingBox `yaml:"presets,omitempty"`
	Preset         string                       `yaml:"preset,omitempty"`
	MessageTypes   []string                     `yaml:"message_types,omitempty"`
	ReconnectDelay time.Duration                `yaml:"reconnect_delay,omitempty"`
	PingInterval   time.Duration                `yaml:"ping_interval,omitempty"`
	PongTimeout    time.Duration                `yaml:"pong_timeout,omitempty"`
	Workers        int                          `yaml:"workers,omitempty"`
	QueueSize      int                          `yaml:"queue_size,omitempty"`
	OverflowPolicy string                       `yaml:"overflow_policy,omitempty"`
	WriteTimeout   time.Duration                `yaml:"write_timeout,omitempty"`
	ShutdownGrace  time.Duration                `yaml:"shutdown_grace,omitempty"`
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML configuration. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Field: "config", Reason: err.Error()}
	}
	return &f, nil
}

// Apply copies the file's settings into c. A setting whose flag was given
// explicitly on the command line, as reported by explicit, is left alone.
// explicit may be nil.
func (c *Config) Apply(f *File, explicit func(flag string) bool) {
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	set := func(flag string, nonZero bool) bool { return nonZero && !explicit(flag) }

	if len(f.Presets) > 0 {
		if c.ExtraPresets == nil {
			c.ExtraPresets = make(map[string][]ais.BoundingBox, len(f.Presets))
		}
		for name, boxes := range f.Presets {
			c.ExtraPresets[name] = boxes
		}
	}
	if set("preset", f.Preset != "") {
		c.Preset = f.Preset
	}
	if set("message-types", len(f.MessageTypes) > 0) {
		c.MessageTypes = f.MessageTypes
	}
	if set("reconnect-delay", f.ReconnectDelay > 0) {
		c.ReconnectDelay = f.ReconnectDelay
	}
	if set("ping-interval", f.PingInterval > 0) {
		c.PingInterval = f.PingInterval
	}
	if set("pong-timeout", f.PongTimeout > 0) {
		c.PongTimeout = f.PongTimeout
	}
	if set("workers", f.Workers != 0) {
		c.Workers = f.Workers
	}
	if set("queue-size", f.QueueSize != 0) {
		c.QueueSize = f.QueueSize
	}
	if set("overflow-policy", f.OverflowPolicy != "") {
		c.Policy = f.OverflowPolicy
	}
	if set("write-timeout", f.WriteTimeout != 0) {
		c.WriteTimeout = f.WriteTimeout
	}
	if set("shutdown-grace", f.ShutdownGrace != 0) {
		c.ShutdownGrace = f.ShutdownGrace
	}
}

// EnvOr returns the environment variable key, or def when it is unset or
// empty.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvOrInt is EnvOr for integers. Unparseable values fall back to def.
func EnvOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

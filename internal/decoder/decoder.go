// Package decoder turns raw feed frames into typed vessel events.
//
// Each frame decodes to exactly one of a *PositionUpdate, a *StaticInfo, or
// nothing. Frames that decode to nothing come back with an error wrapping
// ErrUnrecognized, ErrMalformed or ErrFeedError so callers can count them;
// none of them is fatal to the frame sequence.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/lookup"
	"ais_ingest/internal/registry"
)

// Result types.
const (
	TypePosition = "position"
	TypeStatic   = "static"
)

var (
	// ErrUnrecognized marks frames of an unhandled kind or lacking a
	// required field (MMSI, coordinates).
	ErrUnrecognized = errors.New("unrecognized frame")

	// ErrMalformed marks frames that are not valid JSON or whose fields
	// have unexpected types.
	ErrMalformed = errors.New("malformed frame")

	// ErrFeedError marks error frames sent by the server.
	ErrFeedError = errors.New("feed error")
)

// PositionUpdate is decoded from position report kinds. At least one of
// Latitude and Longitude is set; both are set when the report carries a
// usable fix. Everything else is optional.
type PositionUpdate struct {
	Kind      string
	MMSI      int64
	Name      *string
	ShipType  *int
	Latitude  *float64
	Longitude *float64
	Speed     *float64
	Course    *float64
	Heading   *int
	NavStatus *int
	Timestamp time.Time // Zero when the frame carries no usable time.
}

func (p *PositionUpdate) Type() string { return TypePosition }
func (p *PositionUpdate) Key() int64   { return p.MMSI }

// Status returns the textual navigation status, or "" when no code was sent.
func (p *PositionUpdate) Status() string {
	if p.NavStatus == nil {
		return ""
	}
	return lookup.NavStatus(*p.NavStatus)
}

// StaticInfo is decoded from static and identity report kinds.
type StaticInfo struct {
	Kind      string
	MMSI      int64
	Name      *string
	IMO       *string
	CallSign  *string
	ShipType  *int
	FlagHint  string
	Timestamp time.Time
}

func (s *StaticInfo) Type() string { return TypeStatic }
func (s *StaticInfo) Key() int64   { return s.MMSI }

// Decoder decodes frames through a registry of kind decoders.
type Decoder struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithRegistry overrides the registry used for dispatch.
func WithRegistry(r *registry.Registry) Option {
	return func(d *Decoder) { d.reg = r }
}

// WithLogger sets the logger used to report skipped frames.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// New returns a Decoder using the default registry.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		reg:    registry.Default(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes one frame. A nil result always comes with a non-nil error
// and the reason has already been logged.
func (d *Decoder) Decode(frame []byte) (res registry.Result, err error) {
	var kind string
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
		if err != nil {
			d.logSkip(kind, frame, err)
		}
	}()

	env, err := ais.ParseEnvelope(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrFeedError, env.Error)
	}
	kind = env.MessageType
	if kind == "" {
		return nil, fmt.Errorf("%w: missing MessageType", ErrMalformed)
	}

	res, err = d.reg.Dispatch(env)
	if errors.Is(err, registry.ErrNoDecoder) {
		return nil, fmt.Errorf("%w: kind %q", ErrUnrecognized, kind)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: kind %q produced no event", ErrUnrecognized, kind)
	}
	return res, nil
}

// Unhandled returns the kinds that no registered decoder handles. Frames of
// these kinds are always skipped as unrecognized.
func (d *Decoder) Unhandled(kinds []string) []string {
	var out []string
	for _, k := range kinds {
		if !d.reg.Handles(k) {
			out = append(out, k)
		}
	}
	return out
}

func (d *Decoder) logSkip(kind string, frame []byte, err error) {
	attrs := []any{"kind", kind, "error", err, "frame", Excerpt(frame)}
	switch {
	case errors.Is(err, ErrFeedError):
		d.logger.Error("feed rejected subscription", attrs...)
	case errors.Is(err, ErrMalformed):
		d.logger.Warn("skipping malformed frame", attrs...)
	default:
		d.logger.Debug("skipping frame", attrs...)
	}
}

const excerptLen = 256

// Excerpt returns at most the first 256 bytes of a frame for logging.
func Excerpt(frame []byte) string {
	if len(frame) <= excerptLen {
		return string(frame)
	}
	return string(frame[:excerptLen]) + "..."
}

func init() {
	registry.Register(positionDecoder{})
	registry.Register(staticDecoder{})
}

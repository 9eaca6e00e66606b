// Package stream connects to the live vessel feed and delivers its raw
// frames, in arrival order, to a handler.
//
// A Source never gives up on its own: connection failures are logged and
// retried until the context is cancelled.
package stream

import "context"

// Handler receives one raw frame. It runs on the reading goroutine, so the
// next frame is not read until it returns.
type Handler func(ctx context.Context, frame []byte)

// Source is a restartable producer of raw feed frames.
type Source interface {
	// Name labels the source in logs and metrics.
	Name() string

	// Run delivers frames to handle until ctx is cancelled. It returns nil
	// on cancellation and an error only for unusable configuration.
	Run(ctx context.Context, handle Handler) error
}

// Package worker provides a sharded worker pool for persistence writes.
//
// Work is routed to one of a fixed number of workers by key, and each worker
// has its own bounded queue, so items sharing a key are processed one at a
// time in submission order. When a queue is full the pool either blocks the
// submitter or drops the oldest queued item, depending on its policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OverflowPolicy selects what Submit does when the target queue is full.
type OverflowPolicy string

const (
	// PolicyBlock makes Submit wait for room (backpressure, no loss).
	PolicyBlock OverflowPolicy = "block"
	// PolicyDropOldest discards the oldest queued item of the shard.
	PolicyDropOldest OverflowPolicy = "drop_oldest"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case PolicyBlock, PolicyDropOldest:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

type job[T any] struct {
	key  int64
	item T
}

// Pool processes items of type T on a fixed set of sharded workers.
type Pool[T any] struct {
	// Configuration
	workers      int
	queueSize    int
	policy       OverflowPolicy
	writeTimeout time.Duration
	processor    func(context.Context, T) error
	logger       *slog.Logger

	// Runtime state
	shards  []chan job[T]
	metrics *Metrics
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// Lifecycle management. Submit holds the read lock while sending so
	// Stop never closes a queue under a blocked sender.
	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	timedOut  int64
	dropped   int64
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	timedOut       prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithPolicy sets the overflow policy. The default is PolicyBlock.
func WithPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(p *Pool[T]) { p.policy = policy }
}

// WithTimeout bounds every processor call. Zero disables the bound.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(p *Pool[T]) { p.writeTimeout = d }
}

// WithLogger sets the logger used to report dropped items.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) { p.logger = l }
}

// WithMetrics registers the pool's collectors with reg under prefix.
func WithMetrics[T any](reg prometheus.Registerer, prefix string) Option[T] {
	return func(p *Pool[T]) { p.metrics = newMetrics(reg, prefix) }
}

// NewPool creates a pool with the given number of workers, each with a
// queue of queueSize items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		policy:    PolicyBlock,
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(pool)
	}

	pool.shards = make([]chan job[T], workers)
	for i := range pool.shards {
		pool.shards[i] = make(chan job[T], queueSize)
	}
	return pool
}

func newMetrics(reg prometheus.Registerer, prefix string) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items currently queued across all workers",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		timedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_timed_out_total",
			Help: "Total work items abandoned after the per-item timeout",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to a full queue",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.submitted, m.processed, m.failed, m.timedOut, m.dropped, m.processingTime)
	}
	return m
}

// Start starts the workers. Work in flight is not cancelled when ctx is;
// only Stop ends the workers, after the queues drain.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.worker(runCtx, i, ch)
	}

	p.started = true
	return nil
}

// Submit queues item on the worker owning key. Under PolicyBlock it waits
// for room until ctx is done; under PolicyDropOldest it never waits.
func (p *Pool[T]) Submit(ctx context.Context, key int64, item T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	ch := p.shards[p.shard(key)]
	j := job[T]{key: key, item: item}

	switch p.policy {
	case PolicyDropOldest:
		for {
			select {
			case ch <- j:
				p.recordSubmit()
				return nil
			default:
			}
			select {
			case old := <-ch:
				p.recordDrop(old.key)
			default:
			}
		}
	default:
		select {
		case ch <- j:
			p.recordSubmit()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pool[T]) shard(key int64) int {
	k := uint64(key)
	return int(k % uint64(len(p.shards)))
}

func (p *Pool[T]) recordSubmit() {
	atomic.AddInt64(&p.submitted, 1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Inc()
	}
}

func (p *Pool[T]) recordDrop(key int64) {
	atomic.AddInt64(&p.dropped, 1)
	if p.metrics != nil {
		p.metrics.dropped.Inc()
		p.metrics.queueDepth.Dec()
	}
	p.logger.Warn("queue full, dropped oldest write", "key", key, "shard", p.shard(key))
}

// Stop closes the queues and waits up to grace for queued work to drain.
// If the grace period runs out, in-flight work is cancelled and
// ErrStopTimeout is returned.
func (p *Pool[T]) Stop(grace time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		<-done
		return fmt.Errorf("%w after %s", ErrStopTimeout, grace)
	}
}

// worker processes one shard in order until its queue is closed.
func (p *Pool[T]) worker(ctx context.Context, _ int, ch <-chan job[T]) {
	defer p.wg.Done()

	for j := range ch {
		if p.metrics != nil {
			p.metrics.queueDepth.Dec()
		}
		p.process(ctx, j.item)
	}
}

func (p *Pool[T]) process(ctx context.Context, item T) {
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.processor(ctx, item)
	duration := time.Since(start)

	atomic.AddInt64(&p.processed, 1)
	status := "success"
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			atomic.AddInt64(&p.timedOut, 1)
			status = "timeout"
		}
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		if err != nil {
			p.metrics.failed.Inc()
		}
		if status == "timeout" {
			p.metrics.timedOut.Inc()
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	depth := 0
	for _, ch := range p.shards {
		depth += len(ch)
	}
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: depth,
		Policy:     p.policy,
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		TimedOut:   atomic.LoadInt64(&p.timedOut),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int            `json:"workers"`
	QueueSize  int            `json:"queue_size"`
	QueueDepth int            `json:"queue_depth"`
	Policy     OverflowPolicy `json:"policy"`
	Submitted  int64          `json:"submitted"`
	Processed  int64          `json:"processed"`
	Failed     int64          `json:"failed"`
	TimedOut   int64          `json:"timed_out"`
	Dropped    int64          `json:"dropped"`
}

// Package notify delivers run lifecycle events to an HTTP callback.
//
// Delivery is asynchronous so a slow endpoint never delays a capture step:
// events are queued in a bounded buffer and posted by a single worker, in
// order, with retry. Delivery failures are logged and counted, never returned
// to the run.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"regshots/pkg/backoff"
	"regshots/pkg/circuitbreaker"
	"regshots/pkg/cloudevent"
)

// ErrBufferFull is returned when the buffer is full and the event is dropped.
var ErrBufferFull = errors.New("notify buffer full, event dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier is closed")

// Config controls delivery.
type Config struct {
	URL          string
	SigningKey   string
	Timeout      time.Duration  // per-request timeout (default: 10s)
	Retries      int            // attempts per event (default: 3)
	Backoff      backoff.Config // between attempts
	BufferSize   int            // pending events (default: 64)
	FailureLimit int            // consecutive failed events before pausing delivery (default: 3)
	Cooldown     time.Duration  // pause before one more event is tried (default: 1m)
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	return c
}

// MetricsRecorder is an optional interface for recording delivery failures.
type MetricsRecorder interface {
	RecordEventFailed(ctx context.Context, eventType string)
}

// Stats holds delivery counters.
type Stats struct {
	Queued    int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Notifier queues and delivers events. A Notifier with an empty URL accepts
// and discards everything.
type Notifier struct {
	cfg     Config
	sender  *cloudevent.Sender
	logger  *slog.Logger
	metrics MetricsRecorder

	mu     sync.RWMutex
	closed bool
	queue  chan *cloudevent.CloudEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	breaker *circuitbreaker.Breaker

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a notifier and starts its worker when a URL is configured.
func New(cfg Config, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	n := &Notifier{
		cfg:     cfg,
		sender:  cloudevent.NewSender(cfg.Timeout),
		logger:  slog.With("component", "notify", "destination", extractHost(cfg.URL)),
		metrics: metrics,
		queue:   make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		breaker: circuitbreaker.New(circuitbreaker.Config{Threshold: cfg.FailureLimit, Cooldown: cfg.Cooldown}),
	}

	if n.Enabled() {
		go n.worker()
	} else {
		close(n.done)
	}
	return n
}

// Enabled reports whether events are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n.cfg.URL != ""
}

// Notify queues an event for delivery. Non-blocking.
func (n *Notifier) Notify(event *cloudevent.CloudEvent) error {
	if !n.Enabled() {
		return nil
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	select {
	case n.queue <- event:
		n.queued.Add(1)
		return nil
	default:
		n.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx expires first, in-flight delivery is abandoned and ctx.Err() returned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	defer n.cancel()
	select {
	case <-n.done:
		if n.Enabled() {
			n.logger.Debug("Notifier drained",
				"delivered", n.delivered.Load(),
				"failed", n.failed.Load(),
				"dropped", n.dropped.Load(),
			)
		}
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier drain timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// Stats returns delivery counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Queued:    n.queued.Load(),
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

func (n *Notifier) worker() {
	defer close(n.done)
	for event := range n.queue {
		n.deliver(event)
	}
}

func (n *Notifier) deliver(event *cloudevent.CloudEvent) {
	if !n.breaker.Allow() {
		n.drop(event, "endpoint failing")
		return
	}

	opts := cloudevent.SendOptions{SigningKey: n.cfg.SigningKey}
	err := backoff.Retry(n.ctx, n.cfg.Retries, &n.cfg.Backoff,
		func(err error) bool { return !cloudevent.IsClientError(err) },
		func(ctx context.Context) error {
			return n.sender.Send(ctx, n.cfg.URL, event, opts)
		})
	if err != nil {
		n.breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordEventFailed(context.Background(), event.Type)
		}
		n.logger.Warn("Delivery failed", "type", event.Type, "error", err)
		return
	}

	n.breaker.RecordSuccess()
	n.delivered.Add(1)
}

func (n *Notifier) drop(event *cloudevent.CloudEvent, reason string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordEventFailed(context.Background(), event.Type)
	}
	n.logger.Warn("Event dropped", "type", event.Type, "reason", reason)
}

// extractHost keeps credentials and paths out of log lines.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Package egress is the minimal consumer side of the queue: out of scope
// as a wire protocol (§1 Non-goals), but specified here as a caller of C6
// since something has to drain it. It paces batches with a rate limiter
// and retries delivery failures with exponential backoff rather than
// hot-looping against a slow or unavailable server.
package egress

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"agentcore/internal/mtqueue"
)

// Sink delivers a drained batch of messages somewhere (HTTP, IPC, a test
// recorder). The real wire protocol is explicitly out of scope (§1); this
// is the seam a concrete transport plugs into.
type Sink interface {
	Send(ctx context.Context, batch []mtqueue.Message) error
}

// NoopSink logs what would have been sent and succeeds unconditionally —
// the default when no real transport is configured.
type NoopSink struct {
	Logger *slog.Logger
}

func (s *NoopSink) Send(_ context.Context, batch []mtqueue.Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("egress: drained batch (no-op sink)", "count", len(batch))
	return nil
}

// Drainer periodically pops a batch from one kind of mtqueue.Queue and
// hands it to a Sink, retrying failed sends with backoff. Grounded on
// malbeclabs-lake's use of golang.org/x/time/rate for ingest pacing and
// AKJUS-bsc-erigon's use of cenkalti/backoff/v4 for RPC retry.
type Drainer struct {
	queue     *mtqueue.Queue
	kind      mtqueue.Kind
	sink      Sink
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewDrainer builds a Drainer that drains kind from queue at roughly one
// batch per batchInterval, handing each batch of up to batchSize messages
// to sink.
func NewDrainer(queue *mtqueue.Queue, kind mtqueue.Kind, sink Sink, batchSize int, batchInterval time.Duration, logger *slog.Logger) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = &NoopSink{Logger: logger}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	every := rate.Every(batchInterval)
	return &Drainer{
		queue:     queue,
		kind:      kind,
		sink:      sink,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(every, 1),
		logger:    logger,
	}
}

// Run drains until ctx is cancelled. Each iteration waits for the rate
// limiter, pops up to batchSize messages, and sends them with backoff
// retry; messages are only popped after a successful send so a delivery
// failure does not lose them (at-least-once, §3 I6).
func (d *Drainer) Run(ctx context.Context) error {
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		msgs, err := d.queue.GetNextN(ctx, d.kind, d.batchSize, nil, nil)
		if err != nil {
			d.logger.Error("egress: failed to read batch", "kind", d.kind, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		if err := d.sendWithRetry(ctx, msgs); err != nil {
			d.logger.Error("egress: batch delivery exhausted retries", "kind", d.kind, "count", len(msgs), "error", err)
			continue
		}

		if _, err := d.queue.PopN(ctx, d.kind, len(msgs), nil, nil); err != nil {
			d.logger.Error("egress: failed to pop delivered batch", "kind", d.kind, "error", err)
		}
	}
}

func (d *Drainer) sendWithRetry(ctx context.Context, batch []mtqueue.Message) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return d.sink.Send(ctx, batch)
	}, policy)
}

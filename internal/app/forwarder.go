package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/metrics"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

// Forwarder defaults.
const (
	DefaultRateCheckInterval = 30 * time.Second
	DefaultFlushTimeout      = 5 * time.Second
)

// Queue is the staging queue as seen by the forwarder.
type Queue interface {
	batch.Source
	EnqueueContext(ctx context.Context, msg []byte) error
	RemoveFront() bool
	OldestAge() time.Duration
}

// SendEventEmitter is called on send success or failure.
type SendEventEmitter interface {
	OnSendSuccess(messageCount, bytesSent int, duration time.Duration)
	OnSendError(err error, messageCount int, retryable bool)
}

// ForwarderConfig contains configuration for the forwarding loop.
type ForwarderConfig struct {
	// Tick is how often the batch schedule is evaluated. Zero uses the
	// policy's MinInterval.
	Tick time.Duration

	// RateCheckInterval is how often incoming and outgoing rates are
	// compared. Zero uses DefaultRateCheckInterval.
	RateCheckInterval time.Duration

	// FlushTimeout bounds the final flush after the context is canceled.
	FlushTimeout time.Duration

	// Metadata for send operations
	Source     string
	Hostname   string
	OSArch     string
	AuthKey    string
	ServiceURL string
}

// ForwarderOption configures optional collaborators of a Forwarder.
type ForwarderOption func(*Forwarder)

// WithResourceGate defers batches while gate reports the host busy.
func WithResourceGate(gate ports.ResourceGate) ForwarderOption {
	return func(f *Forwarder) { f.gate = gate }
}

// WithMetrics records forwarder activity in m.
func WithMetrics(m *metrics.Metrics) ForwarderOption {
	return func(f *Forwarder) { f.metrics = m }
}

// WithSendEvents reports every send attempt to emitter.
func WithSendEvents(emitter SendEventEmitter) ForwarderOption {
	return func(f *Forwarder) { f.emitter = emitter }
}

// Forwarder moves messages from an event source through the staging queue
// to a batch sender.
//
// Messages are only removed from the queue after the sender accepted the
// batch holding them. A failed send leaves them queued and they are
// batched again on a later tick.
type Forwarder struct {
	config   ForwarderConfig
	queue    Queue
	source   ports.EventSource
	sender   ports.BatchSender
	batcher  *batch.Batcher
	schedule *batch.Schedule
	buffers  *batch.ScratchPool
	rates    *metrics.RateMonitor
	gate     ports.ResourceGate
	metrics  *metrics.Metrics
	emitter  SendEventEmitter
	logger   log.Logger
}

// NewForwarder creates a forwarder. source may be nil when messages are
// only enqueued through Enqueue.
func NewForwarder(
	config ForwarderConfig,
	queue Queue,
	source ports.EventSource,
	sender ports.BatchSender,
	batcher *batch.Batcher,
	logger log.Logger,
	opts ...ForwarderOption,
) *Forwarder {
	policy := batcher.Policy()
	if config.Tick <= 0 {
		config.Tick = policy.MinInterval
	}
	if config.Tick <= 0 {
		config.Tick = batch.DefaultMinInterval
	}
	if config.RateCheckInterval <= 0 {
		config.RateCheckInterval = DefaultRateCheckInterval
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultFlushTimeout
	}
	logger = log.OrNoop(logger)

	f := &Forwarder{
		config:   config,
		queue:    queue,
		source:   source,
		sender:   sender,
		batcher:  batcher,
		schedule: batch.NewSchedule(policy),
		buffers:  batch.NewScratchPool(policy.MaxBatchBytes, logger),
		rates:    metrics.NewRateMonitor(metrics.DefaultRateRatio, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run executes the forwarding loop.
// It runs the event source and the batch loop side by side until the
// context is canceled or either fails. When the source finishes on its
// own, Run flushes the queue and returns nil.
func (f *Forwarder) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sourceDone := make(chan struct{})

	if f.source != nil {
		g.Go(func() error {
			defer close(sourceDone)
			err := f.source.Run(gctx, func(msg []byte) error {
				return f.Enqueue(gctx, msg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				f.logger.Error("event source failed", log.Component("forwarder"), log.Err(err))
				return fmt.Errorf("event source: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		var done <-chan struct{}
		if f.source != nil {
			done = sourceDone
		}
		return f.batchLoop(gctx, done)
	})

	return g.Wait()
}

// Enqueue stages one message, blocking while the queue is full.
func (f *Forwarder) Enqueue(ctx context.Context, msg []byte) error {
	err := f.queue.EnqueueContext(ctx, msg)
	switch {
	case err == nil:
		f.metrics.MessageEnqueued()
		f.rates.Incoming.Record(1)
	case errors.Is(err, domain.ErrEmptyMessage):
		f.metrics.MessageRejected("empty")
	case errors.Is(err, domain.ErrMessageTooLarge):
		f.metrics.MessageRejected("too_large")
	case errors.Is(err, domain.ErrEnqueueRejected):
		f.metrics.MessageRejected("hook")
	case errors.Is(err, domain.ErrPoolExhausted):
		f.metrics.MessageRejected("pool_exhausted")
	}
	return err
}

func (f *Forwarder) batchLoop(ctx context.Context, sourceDone <-chan struct{}) error {
	ticker := time.NewTicker(f.config.Tick)
	defer ticker.Stop()
	rateTicker := time.NewTicker(f.config.RateCheckInterval)
	defer rateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.config.FlushTimeout)
			if err := f.Flush(flushCtx); err != nil {
				f.logger.Warn("final flush incomplete",
					log.Component("forwarder"),
					log.Int("queued", f.queue.Len()),
					log.Err(err),
				)
			}
			cancel()
			return ctx.Err()

		case <-sourceDone:
			if err := f.Flush(ctx); err != nil {
				return fmt.Errorf("flush after source finished: %w", err)
			}
			return nil

		case <-rateTicker.C:
			f.rates.Check()

		case <-ticker.C:
			if f.shouldSend() {
				f.sendOnce(ctx)
			}
		}
	}
}

// shouldSend reports whether a batch is due, holding back batches that
// are only due by size while the resource gate is closed.
func (f *Forwarder) shouldSend() bool {
	queued := f.queue.Len()
	oldest := f.queue.OldestAge()
	if !f.schedule.ShouldSend(queued, oldest) {
		return false
	}
	if f.gate != nil && !f.gate.OK() && oldest < f.batcher.Policy().MaxBatchAge {
		f.logger.Debug("resource gate closed, deferring batch",
			log.Component("forwarder"),
			log.Int("queued", queued),
		)
		return false
	}
	return true
}

// Flush sends batches until the queue is empty or a send fails.
func (f *Forwarder) Flush(ctx context.Context) error {
	for f.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := f.sendOnce(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
	return nil
}

// sendOnce assembles and sends one batch. progressed reports whether any
// message left the queue; err is the send error, if any.
func (f *Forwarder) sendOnce(ctx context.Context) (progressed bool, err error) {
	buf, err := f.buffers.Acquire()
	if err != nil {
		return false, err
	}
	defer f.buffers.Release(buf)

	policy := f.batcher.Policy()
	res := f.batcher.Batch(f.queue, buf.Bytes)
	f.schedule.Reset()
	f.metrics.BatchAssembled(res.Status.String())

	switch res.Status {
	case batch.StatusSuccess:
	case batch.StatusMessageTooLarge:
		f.drop(res.Consumed, "message exceeds the maximum message size")
		return res.Consumed > 0, nil
	case batch.StatusBufferTooSmall:
		if res.Consumed > 0 {
			f.drop(res.Consumed, "message exceeds the maximum message size")
			return true, nil
		}
		// The head message alone does not fit a full-size batch buffer.
		f.drop(1, "message does not fit an empty batch")
		return true, nil
	default:
		return false, nil
	}

	b := &domain.Batch{
		ID:          uuid.NewString(),
		Format:      policy.Name,
		ContentType: policy.ContentType,
		Payload:     buf.Bytes[:res.Bytes],
		Messages:    res.Messages,
		Consumed:    res.Consumed,
		CreatedAt:   time.Now(),
	}
	metadata := ports.SendMetadata{
		Source:     f.config.Source,
		Hostname:   f.config.Hostname,
		OSArch:     f.config.OSArch,
		AuthKey:    f.config.AuthKey,
		ServiceURL: f.config.ServiceURL,
	}

	start := time.Now()
	err = f.sender.Send(ctx, b, metadata)
	duration := time.Since(start)

	if err != nil {
		retry := retryable(err)
		f.logger.Warn("send failed, batch stays queued",
			log.Component("forwarder"),
			log.String("batch_id", b.ID),
			log.Int("messages", b.Messages),
			log.Int("bytes", b.Size()),
			log.Bool("retryable", retry),
			log.Err(err),
		)
		f.metrics.SendFailed(duration)
		if f.emitter != nil {
			f.emitter.OnSendError(err, b.Messages, retry)
		}
		return false, err
	}

	f.retire(b.Consumed)
	f.metrics.BatchSent(b.Messages, b.Size(), duration)
	f.rates.Outgoing.Record(b.Messages)
	if skipped := b.Consumed - b.Messages; skipped > 0 {
		f.metrics.MessagesDropped(skipped)
	}

	f.logger.Info("sent batch",
		log.Component("forwarder"),
		log.String("batch_id", b.ID),
		log.Int("messages", b.Messages),
		log.Int("skipped", res.Skipped),
		log.Int("bytes", b.Size()),
		log.Duration("duration", duration),
	)
	if f.emitter != nil {
		f.emitter.OnSendSuccess(b.Messages, b.Size(), duration)
	}
	return true, nil
}

// retire removes the n oldest messages. The forwarder is the queue's only
// consumer, so n never exceeds the queue length.
func (f *Forwarder) retire(n int) int {
	removed := 0
	for ; removed < n; removed++ {
		if !f.queue.RemoveFront() {
			f.logger.Error("queue shorter than the batch it produced",
				log.Component("forwarder"),
				log.Int("want", n),
				log.Int("removed", removed),
			)
			break
		}
	}
	return removed
}

func (f *Forwarder) drop(n int, reason string) {
	removed := f.retire(n)
	f.metrics.MessagesDropped(removed)
	f.logger.Error("dropping unsendable messages",
		log.Component("forwarder"),
		log.Int("count", removed),
		log.String("reason", reason),
	)
}

// retryable reports whether err is worth trying again with the same batch.
// Errors that do not say otherwise are assumed transient.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// Package queue implements the bounded message queue that stages log
// messages between the event source and the batch sender.
//
// A message is split across fixed-size byte buffers loaned from a
// pool.ChunkedPool, and a descriptor naming those buffers is stored in a
// ring.RingBuffer. The queue's own mutex is always taken before the ring's
// or the pool's, and neither of those ever calls back into the queue.
//
// Producers are throttled by polling while the ring is full, so Enqueue
// can block for as long as consumers fall behind. Consumers block on a
// counting signal that carries one token per queued message.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/pool"
	"github.com/bft-labs/logship/internal/ring"
	"github.com/bft-labs/logship/pkg/log"
)

// Default sizing.
const (
	DefaultCapacity             = 10000
	DefaultBufferSize           = 2048
	DefaultMaxBuffersPerMessage = 32
	DefaultPoolChunkSize        = 256
	DefaultPoolSlack            = pool.Slack(80)
	DefaultPollInterval         = 10 * time.Millisecond
)

// Config sizes a MessageQueue.
type Config struct {
	// Capacity is the maximum number of queued messages.
	Capacity int

	// BufferSize is the size of one pooled buffer in bytes.
	BufferSize int

	// MaxBuffersPerMessage bounds the number of buffers one message may
	// span, and so the largest accepted message.
	MaxBuffersPerMessage int

	// PoolChunkSize is the number of buffers allocated per pool chunk.
	PoolChunkSize int

	// PoolSlack controls how eagerly empty trailing pool chunks are freed.
	PoolSlack pool.Slack

	// PoolMaxChunks caps the pool. Zero means unbounded.
	PoolMaxChunks int

	// PollInterval is how often a blocked producer rechecks for space.
	PollInterval time.Duration

	// Logger receives advisory diagnostics. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns a Config with the default sizing.
func DefaultConfig() Config {
	return Config{
		Capacity:             DefaultCapacity,
		BufferSize:           DefaultBufferSize,
		MaxBuffersPerMessage: DefaultMaxBuffersPerMessage,
		PoolChunkSize:        DefaultPoolChunkSize,
		PoolSlack:            DefaultPoolSlack,
		PollInterval:         DefaultPollInterval,
	}
}

// MaxMessageSize returns the largest message the queue accepts.
func (c Config) MaxMessageSize() int {
	return c.BufferSize * c.MaxBuffersPerMessage
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: queue capacity must be positive", domain.ErrInvalidConfig)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size must be positive", domain.ErrInvalidConfig)
	case c.MaxBuffersPerMessage <= 0:
		return fmt.Errorf("%w: max buffers per message must be positive", domain.ErrInvalidConfig)
	case c.PoolChunkSize <= 0:
		return fmt.Errorf("%w: pool chunk size must be positive", domain.ErrInvalidConfig)
	case !c.PoolSlack.Valid():
		return fmt.Errorf("%w: pool slack %d out of range", domain.ErrInvalidConfig, c.PoolSlack)
	case c.PoolMaxChunks < 0:
		return fmt.Errorf("%w: pool max chunks must not be negative", domain.ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// EnqueueHook is consulted before every enqueue with the current queue
// length and the message size. Returning false rejects the message. The
// hook is called without the queue lock held, so it may call back into
// the queue; the length it sees can be stale by the time the message is
// stored.
type EnqueueHook func(length, size int) bool

// Stats is a snapshot of queue and pool occupancy.
type Stats struct {
	Length       int
	Capacity     int
	BuffersInUse int
	PoolChunks   int
	Enqueued     uint64
	Dequeued     uint64
	Rejected     uint64
}

type descriptor struct {
	seq        uint64
	length     int
	enqueuedAt time.Time
	bufs       []pool.Handle
}

// MessageQueue is a bounded FIFO of variable-length messages.
type MessageQueue struct {
	mu     sync.Mutex
	cfg    Config
	ring   *ring.RingBuffer[descriptor]
	bufs   *pool.ChunkedPool[[]byte]
	logger log.Logger
	hook   EnqueueHook
	seq    uint64
	now    func() time.Time

	items     chan struct{}
	closed    chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	rejected atomic.Uint64
}

// New creates a MessageQueue. It returns an error wrapping
// domain.ErrInvalidConfig if cfg is invalid.
func New(cfg Config) (*MessageQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bufSize := cfg.BufferSize
	opts := []pool.Option[[]byte]{
		pool.WithChunkFactory(func(n int) [][]byte {
			mem := make([]byte, n*bufSize)
			out := make([][]byte, n)
			for i := range out {
				out[i] = mem[i*bufSize : (i+1)*bufSize : (i+1)*bufSize]
			}
			return out
		}),
	}
	if cfg.PoolMaxChunks > 0 {
		opts = append(opts, pool.WithMaxChunks[[]byte](cfg.PoolMaxChunks))
	}

	return &MessageQueue{
		cfg:    cfg,
		ring:   ring.New[descriptor](cfg.Capacity),
		bufs:   pool.New[[]byte](cfg.PoolChunkSize, cfg.PoolSlack, opts...),
		logger: log.OrNoop(cfg.Logger),
		now:    time.Now,
		items:  make(chan struct{}, cfg.Capacity),
		closed: make(chan struct{}),
	}, nil
}

// SetEnqueueHook installs fn as the pre-enqueue hook. Nil removes it.
func (q *MessageQueue) SetEnqueueHook(fn EnqueueHook) {
	q.mu.Lock()
	q.hook = fn
	q.mu.Unlock()
}

// Enqueue stores a copy of msg. It blocks while the queue is full, with no
// upper bound on the wait.
func (q *MessageQueue) Enqueue(msg []byte) error {
	return q.EnqueueContext(context.Background(), msg)
}

// EnqueueContext stores a copy of msg, blocking while the queue is full
// until space frees up, ctx is done or the queue is closed.
//
// Either every buffer of the message is stored or none is: a pool
// failure part way through releases the buffers already taken.
func (q *MessageQueue) EnqueueContext(ctx context.Context, msg []byte) error {
	const op = "queue.enqueue"

	if len(msg) == 0 {
		q.rejected.Add(1)
		q.logger.Debug("rejecting empty message", log.Component("queue"))
		return domain.NewOpError(op, domain.ErrEmptyMessage, "")
	}
	need := (len(msg) + q.cfg.BufferSize - 1) / q.cfg.BufferSize
	if need > q.cfg.MaxBuffersPerMessage {
		q.rejected.Add(1)
		q.logger.Warn("rejecting oversized message",
			log.Component("queue"),
			log.Int("bytes", len(msg)),
			log.Int("buffers", need),
			log.Int("max_buffers", q.cfg.MaxBuffersPerMessage),
		)
		return domain.NewOpError(op, domain.ErrMessageTooLarge,
			fmt.Sprintf("%d bytes needs %d buffers, limit %d", len(msg), need, q.cfg.MaxBuffersPerMessage))
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		stored, err := q.tryEnqueue(op, msg, need)
		if stored || err != nil {
			return err
		}

		if timer == nil {
			q.logger.Debug("queue full, producer waiting",
				log.Component("queue"),
				log.Int("capacity", q.cfg.Capacity),
			)
			timer = time.NewTimer(q.cfg.PollInterval)
		} else {
			timer.Reset(q.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return domain.NewOpError(op, domain.ErrClosed, "")
		case <-timer.C:
		}
	}
}

// tryEnqueue stores msg if the ring has room. It reports false with a nil
// error when the ring is full.
func (q *MessageQueue) tryEnqueue(op string, msg []byte, need int) (bool, error) {
	q.mu.Lock()
	if q.closing.Load() {
		q.mu.Unlock()
		return false, domain.NewOpError(op, domain.ErrClosed, "")
	}
	if q.ring.IsFull() {
		q.mu.Unlock()
		return false, nil
	}
	hook, length := q.hook, q.ring.Len()
	q.mu.Unlock()

	// The hook runs unlocked so it may read the queue itself.
	if hook != nil && !hook(length, len(msg)) {
		q.rejected.Add(1)
		return false, domain.NewOpError(op, domain.ErrEnqueueRejected, "")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing.Load() {
		return false, domain.NewOpError(op, domain.ErrClosed, "")
	}
	if q.ring.IsFull() {
		return false, nil
	}

	bs := q.cfg.BufferSize
	handles := make([]pool.Handle, 0, need)
	for off := 0; off < len(msg); off += bs {
		h, buf, err := q.bufs.Acquire()
		if err != nil {
			q.releaseLocked(handles)
			q.rejected.Add(1)
			q.logger.Error("buffer acquisition failed, message dropped",
				log.Component("queue"),
				log.Int("bytes", len(msg)),
				log.Int("acquired", len(handles)),
				log.Err(err),
			)
			return false, domain.NewOpError(op, domain.ErrPoolExhausted, err.Error())
		}
		copy(*buf, msg[off:min(off+bs, len(msg))])
		handles = append(handles, h)
	}

	q.seq++
	d := descriptor{
		seq:        q.seq,
		length:     len(msg),
		enqueuedAt: q.now(),
		bufs:       handles,
	}
	if !q.ring.Enqueue(d) {
		q.releaseLocked(handles)
		return false, nil
	}
	q.enqueued.Add(1)

	select {
	case q.items <- struct{}{}:
	default:
		q.logger.Error("message signal overflow", log.Component("queue"))
	}
	return true, nil
}

// Dequeue blocks until a message is available and copies it into dst.
// It returns the message length, or -1 and an error.
func (q *MessageQueue) Dequeue(dst []byte) (int, error) {
	return q.DequeueContext(context.Background(), dst)
}

// DequeueContext is Dequeue with cancellation. If dst is shorter than the
// head message, it fails with domain.ErrBufferTooSmall and the message
// stays queued.
func (q *MessageQueue) DequeueContext(ctx context.Context, dst []byte) (int, error) {
	const op = "queue.dequeue"

	if err := q.acquireToken(ctx, op); err != nil {
		return -1, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing.Load() {
		return -1, domain.NewOpError(op, domain.ErrClosed, "")
	}
	d, ok := q.ring.Peek(0)
	if !ok {
		q.logger.Debug("dequeue found queue empty", log.Component("queue"))
		return -1, domain.NewOpError(op, domain.ErrQueueEmpty, "")
	}
	if d.length > len(dst) {
		q.returnToken()
		q.logger.Warn("dequeue buffer too small",
			log.Component("queue"),
			log.Int("length", d.length),
			log.Int("buffer", len(dst)),
		)
		return -1, domain.NewOpError(op, domain.ErrBufferTooSmall,
			fmt.Sprintf("message is %d bytes, buffer %d", d.length, len(dst)))
	}

	n := q.copyOutLocked(d, dst)
	q.ring.RemoveFront()
	q.releaseLocked(d.bufs)
	q.dequeued.Add(1)
	return n, nil
}

// Peek copies the message index positions behind the head into dst
// without removing it.
func (q *MessageQueue) Peek(dst []byte, index int) (int, error) {
	const op = "queue.peek"

	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.ring.Peek(index)
	if !ok {
		q.logger.Debug("peek index out of range",
			log.Component("queue"),
			log.Int("index", index),
			log.Int("length", q.ring.Len()),
		)
		return -1, domain.NewOpError(op, domain.ErrIndexOutOfRange, fmt.Sprintf("index %d", index))
	}
	if d.length > len(dst) {
		return -1, domain.NewOpError(op, domain.ErrBufferTooSmall,
			fmt.Sprintf("message is %d bytes, buffer %d", d.length, len(dst)))
	}
	return q.copyOutLocked(d, dst), nil
}

// RemoveFront blocks until a message is available and discards it.
func (q *MessageQueue) RemoveFront() bool {
	ok, _ := q.RemoveFrontContext(context.Background())
	return ok
}

// RemoveFrontContext is RemoveFront with cancellation.
func (q *MessageQueue) RemoveFrontContext(ctx context.Context) (bool, error) {
	const op = "queue.remove_front"

	if err := q.acquireToken(ctx, op); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing.Load() {
		return false, domain.NewOpError(op, domain.ErrClosed, "")
	}
	d, ok := q.ring.Dequeue()
	if !ok {
		q.logger.Debug("remove front found queue empty", log.Component("queue"))
		return false, domain.NewOpError(op, domain.ErrQueueEmpty, "")
	}
	q.releaseLocked(d.bufs)
	q.dequeued.Add(1)
	return true, nil
}

// WaitForMessages blocks until at least one message is queued or ctx is
// done. It does not consume the message.
func (q *MessageQueue) WaitForMessages(ctx context.Context) bool {
	if q.closing.Load() {
		return false
	}
	select {
	case <-q.items:
		q.returnToken()
		return true
	case <-q.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// OldestAge returns how long the head message has been queued, or zero
// when the queue is empty.
func (q *MessageQueue) OldestAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.ring.Peek(0)
	if !ok {
		return 0
	}
	return q.now().Sub(d.enqueuedAt)
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Len()
}

// IsEmpty reports whether no message is queued.
func (q *MessageQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.IsEmpty()
}

// IsFull reports whether a producer would have to wait.
func (q *MessageQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.IsFull()
}

// Cap returns the maximum number of queued messages.
func (q *MessageQueue) Cap() int {
	return q.cfg.Capacity
}

// MaxMessageSize returns the largest message Enqueue accepts.
func (q *MessageQueue) MaxMessageSize() int {
	return q.cfg.MaxMessageSize()
}

// Stats returns a snapshot of queue and pool occupancy.
func (q *MessageQueue) Stats() Stats {
	q.mu.Lock()
	length := q.ring.Len()
	q.mu.Unlock()

	ps := q.bufs.Stats()
	return Stats{
		Length:       length,
		Capacity:     q.cfg.Capacity,
		BuffersInUse: ps.InUse,
		PoolChunks:   ps.Chunks,
		Enqueued:     q.enqueued.Load(),
		Dequeued:     q.dequeued.Load(),
		Rejected:     q.rejected.Load(),
	}
}

// Close drops every queued message, releases its buffers and wakes all
// blocked callers. Later operations fail with domain.ErrClosed. It returns
// the number of messages dropped.
func (q *MessageQueue) Close() int {
	dropped := 0
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closing.Store(true)
		for {
			d, ok := q.ring.Dequeue()
			if !ok {
				break
			}
			q.releaseLocked(d.bufs)
			dropped++
		}
		for len(q.items) > 0 {
			<-q.items
		}
		close(q.closed)
		q.mu.Unlock()

		q.logger.Info("queue closed",
			log.Component("queue"),
			log.Int("dropped", dropped),
		)
	})
	return dropped
}

func (q *MessageQueue) acquireToken(ctx context.Context, op string) error {
	if q.closing.Load() {
		return domain.NewOpError(op, domain.ErrClosed, "")
	}
	select {
	case <-q.items:
		return nil
	case <-q.closed:
		return domain.NewOpError(op, domain.ErrClosed, "")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MessageQueue) returnToken() {
	select {
	case q.items <- struct{}{}:
	default:
	}
}

// copyOutLocked concatenates the buffers of d into dst.
func (q *MessageQueue) copyOutLocked(d descriptor, dst []byte) int {
	copied := 0
	for _, h := range d.bufs {
		buf, ok := q.bufs.Get(h)
		if !ok {
			q.logger.Error("descriptor references a released buffer",
				log.Component("queue"),
				log.Uint64("seq", d.seq),
				log.String("handle", h.String()),
			)
			break
		}
		copied += copy(dst[copied:d.length], *buf)
	}
	return copied
}

func (q *MessageQueue) releaseLocked(handles []pool.Handle) {
	for _, h := range handles {
		if !q.bufs.Release(h) {
			q.logger.Error("buffer release failed",
				log.Component("queue"),
				log.String("handle", h.String()),
			)
		}
	}
}

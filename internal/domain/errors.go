package domain

import "errors"

// Domain errors represent error conditions in the logship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("logship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("logship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("logship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("logship: invalid configuration")
)

// Staging errors are reported by the queue, the pool and the batcher.
var (
	// ErrEmptyMessage is returned when a zero-length message is enqueued.
	ErrEmptyMessage = errors.New("logship: empty message")

	// ErrMessageTooLarge is returned when a message needs more pooled
	// buffers than a single message may hold.
	ErrMessageTooLarge = errors.New("logship: message too large")

	// ErrBufferTooSmall is returned when the caller's buffer cannot hold
	// the message being read. The message stays queued.
	ErrBufferTooSmall = errors.New("logship: destination buffer too small")

	// ErrIndexOutOfRange is returned by Peek for an index past the queue tail.
	ErrIndexOutOfRange = errors.New("logship: index out of range")

	// ErrQueueEmpty is returned when a message was expected but none is queued.
	ErrQueueEmpty = errors.New("logship: queue empty")

	// ErrPoolExhausted is returned when the pool cannot grow by another chunk.
	ErrPoolExhausted = errors.New("logship: pool exhausted")

	// ErrEnqueueRejected is returned when an enqueue hook vetoes a message.
	ErrEnqueueRejected = errors.New("logship: enqueue rejected")

	// ErrClosed is returned by queue operations after Close.
	ErrClosed = errors.New("logship: queue closed")
)

// OpError is the tagged result carried by failed staging operations.
// Err is one of the sentinels above so callers can match with errors.Is.
type OpError struct {
	Op     string
	Err    error
	Detail string
}

// NewOpError builds an OpError for operation op.
func NewOpError(op string, err error, detail string) *OpError {
	return &OpError{Op: op, Err: err, Detail: detail}
}

func (e *OpError) Error() string {
	if e.Detail == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error() + " (" + e.Detail + ")"
}

func (e *OpError) Unwrap() error {
	return e.Err
}

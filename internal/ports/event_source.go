package ports

import "context"

// EmitFunc hands one message to the staging queue. It may block while the
// queue is full.
type EmitFunc func(msg []byte) error

// EventSource produces log messages.
type EventSource interface {
	// Run reads messages until ctx is done or the source is exhausted,
	// calling emit once per message. A non-nil error from emit other than
	// a rejection of that single message stops the source.
	Run(ctx context.Context, emit EmitFunc) error
}

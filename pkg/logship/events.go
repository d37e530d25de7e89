package logship

import (
	"time"

	"github.com/bft-labs/logship/internal/app"
)

// State is the lifecycle state of a Logship instance.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	return app.State(s).String()
}

// StateChangeEvent reports a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// SendSuccessEvent reports a batch accepted by the service.
type SendSuccessEvent struct {
	MessageCount int
	BytesSent    int
	Duration     time.Duration
}

// SendErrorEvent reports a failed batch send. The batch stays queued.
type SendErrorEvent struct {
	Error        error
	MessageCount int
	Retryable    bool
}

// EventHandler receives notifications about Logship operations.
// Methods are called synchronously from the forwarding goroutine and
// should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnSendSuccess(event SendSuccessEvent)
	OnSendError(event SendErrorEvent)
}

// BaseEventHandler implements EventHandler with no-op methods. Embed it to
// handle only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnSendSuccess(SendSuccessEvent) {}
func (BaseEventHandler) OnSendError(SendErrorEvent)     {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: State(previous),
		Current:  State(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnSendSuccess(messageCount, bytesSent int, duration time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendSuccess(SendSuccessEvent{
		MessageCount: messageCount,
		BytesSent:    bytesSent,
		Duration:     duration,
	})
}

func (e *eventEmitterWrapper) OnSendError(err error, messageCount int, retryable bool) {
	if e.handler == nil {
		return
	}
	e.handler.OnSendError(SendErrorEvent{
		Error:        err,
		MessageCount: messageCount,
		Retryable:    retryable,
	})
}

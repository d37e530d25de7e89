package logship_test

import (
	"context"
	"fmt"

	"github.com/bft-labs/logship/pkg/logship"
)

// ExampleNew demonstrates how to embed logship in your application.
func ExampleNew() {
	cfg := logship.Config{
		Path:       "/var/log/app.log",
		Format:     "json",
		AuthKey:    "your-api-key",
		ServiceURL: "https://ingest.example.com",
	}

	l, err := logship.New(cfg)
	if err != nil {
		fmt.Printf("failed to create logship: %v\n", err)
		return
	}

	fmt.Println(l.Status())
	// Output: Stopped
}

// ExampleLogship_Enqueue stages messages without following a file.
func ExampleLogship_Enqueue() {
	l, err := logship.New(logship.Config{QueueCapacity: 16})
	if err != nil {
		fmt.Printf("failed to create logship: %v\n", err)
		return
	}

	ctx := context.Background()
	_ = l.Enqueue(ctx, []byte(`{"level":"info","msg":"hello"}`))
	_ = l.Enqueue(ctx, []byte(`{"level":"info","msg":"world"}`))

	stats := l.Stats()
	fmt.Printf("queued %d of %d\n", stats.QueueLength, stats.QueueCapacity)
	// Output: queued 2 of 16
}

// ExampleLogship_Status demonstrates controlling the lifecycle.
func ExampleLogship_Status() {
	l, _ := logship.New(logship.Config{})

	fmt.Printf("Initial state is Stopped: %v\n", l.Status() == logship.StateStopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = l.Start(ctx)

	status := l.Status()
	fmt.Printf("After Start is Starting/Running: %v\n",
		status == logship.StateStarting || status == logship.StateRunning)

	_ = l.Stop()
	fmt.Printf("After Stop: %s\n", l.Status())

	// Output:
	// Initial state is Stopped: true
	// After Start is Starting/Running: true
	// After Stop: Stopped
}

// Example_withEventHandler demonstrates how to receive logship events.
func Example_withEventHandler() {
	l, err := logship.New(logship.Config{}, logship.WithEventHandler(&printingHandler{}))
	if err != nil {
		fmt.Printf("failed to create logship: %v\n", err)
		return
	}
	_ = l
}

// printingHandler reports only send results.
type printingHandler struct {
	logship.BaseEventHandler
}

func (h *printingHandler) OnSendSuccess(event logship.SendSuccessEvent) {
	fmt.Printf("Sent %d messages (%d bytes) in %v\n",
		event.MessageCount, event.BytesSent, event.Duration)
}

func (h *printingHandler) OnSendError(event logship.SendErrorEvent) {
	fmt.Printf("Send error: %v (messages: %d, retryable: %v)\n",
		event.Error, event.MessageCount, event.Retryable)
}

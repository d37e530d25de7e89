package domain

import "time"

// Batch is one framed payload ready to be sent downstream.
// Payload aliases a pooled buffer and is only valid until the batch is
// released by the forwarder.
type Batch struct {
	// ID uniquely identifies the batch across retries.
	ID string

	// Format names the framing policy that produced Payload.
	Format string

	// ContentType is the MIME type of Payload.
	ContentType string

	// Payload is the framed batch, excluding any NUL terminator.
	Payload []byte

	// Messages is the number of messages framed into Payload.
	Messages int

	// Consumed is the number of leading queue entries to retire once the
	// batch is accepted.
	Consumed int

	// CreatedAt is when the batch was assembled.
	CreatedAt time.Time
}

// Size returns the payload length in bytes.
func (b *Batch) Size() int {
	return len(b.Payload)
}

// Empty returns true if the batch holds no messages.
func (b *Batch) Empty() bool {
	return b.Messages == 0
}

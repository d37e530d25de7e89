// Package batch assembles queued messages into framed batches.
//
// The Batcher only peeks: it never removes messages from the queue. The
// caller retires Result.Consumed messages once the batch has been
// accepted downstream.
package batch

import (
	"errors"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/pkg/log"
)

// Source is the read-only view of a queue the Batcher needs.
type Source interface {
	Len() int
	Peek(dst []byte, index int) (int, error)
}

// Status is the outcome of one Batch call.
type Status int

const (
	StatusSuccess Status = iota
	StatusBufferTooSmall
	StatusNoMessages
	StatusInvalidBuffer
	StatusMessageTooLarge
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBufferTooSmall:
		return "buffer-too-small"
	case StatusNoMessages:
		return "no-messages"
	case StatusInvalidBuffer:
		return "invalid-buffer"
	case StatusMessageTooLarge:
		return "message-too-large"
	default:
		return "unknown"
	}
}

// Result describes one Batch call.
type Result struct {
	Status Status

	// Messages is the number of messages framed into the batch.
	Messages int

	// Bytes is the length of the framed batch, excluding the NUL terminator.
	Bytes int

	// Consumed is the number of leading queue entries the batch covers:
	// the included messages plus the oversized ones skipped between them.
	Consumed int

	// Skipped is the number of oversized messages passed over.
	Skipped int
}

// Batcher frames queued messages according to a Policy.
type Batcher struct {
	policy  Policy
	scratch Scratch
	logger  log.Logger
}

// NewBatcher creates a Batcher. scratch provides the staging buffer a
// message is peeked into before it is copied into the batch.
func NewBatcher(policy Policy, scratch Scratch, logger log.Logger) *Batcher {
	return &Batcher{
		policy:  policy,
		scratch: scratch,
		logger:  log.OrNoop(logger),
	}
}

// Policy returns the batcher's policy.
func (b *Batcher) Policy() Policy {
	return b.policy
}

// Batch frames up to MaxMessages of the oldest queued messages into dst.
//
// The batch is the header, the messages separated by the separator, the
// trailer, and a NUL byte when dst has room for it. Room for the trailer
// is reserved before each message is added; the first message that does
// not fit ends the batch. Messages longer than MaxMessageSize are skipped.
func (b *Batcher) Batch(q Source, dst []byte) Result {
	if q == nil || len(dst) == 0 {
		b.logger.Warn("batch called with invalid buffer",
			log.Component("batch"),
			log.Int("buffer", len(dst)),
			log.Bool("source", q != nil),
		)
		return Result{Status: StatusInvalidBuffer}
	}

	capacity := len(dst)
	if b.policy.MaxBatchBytes > 0 && b.policy.MaxBatchBytes < capacity {
		capacity = b.policy.MaxBatchBytes
	}

	p := b.policy
	if len(p.Header) > capacity {
		b.logger.Warn("batch header exceeds buffer",
			log.Component("batch"),
			log.Int("header", len(p.Header)),
			log.Int("capacity", capacity),
		)
		return Result{Status: StatusBufferTooSmall}
	}

	queued := q.Len()
	if queued == 0 {
		return Result{Status: StatusNoMessages}
	}
	limit := min(queued, p.MaxMessages)

	sb, err := b.scratch.Acquire()
	if err != nil {
		return Result{Status: StatusInvalidBuffer}
	}
	defer b.scratch.Release(sb)

	var (
		res      Result
		full     bool
		cursor   = copy(dst, p.Header)
		examined int
	)

	for i := 0; i < limit; i++ {
		n, err := q.Peek(sb.Bytes, i)
		if err != nil {
			if !errors.Is(err, domain.ErrBufferTooSmall) {
				// The queue shrank under us; batch what we have.
				b.logger.Debug("peek ended batch early",
					log.Component("batch"),
					log.Int("index", i),
					log.Err(err),
				)
				break
			}
			n = len(sb.Bytes) + 1
		}
		if n > p.MaxMessageSize || n > len(sb.Bytes) {
			b.logger.Warn("skipping oversized message",
				log.Component("batch"),
				log.Int("index", i),
				log.Int("max_message_size", p.MaxMessageSize),
			)
			res.Skipped++
			examined = i + 1
			continue
		}

		need := n + len(p.Trailer)
		if res.Messages > 0 {
			need += len(p.Separator)
		}
		if cursor+need > capacity {
			full = true
			b.logger.Debug("batch buffer full",
				log.Component("batch"),
				log.Int("bytes", cursor),
				log.Int("capacity", capacity),
				log.Int("messages", res.Messages),
			)
			break
		}

		if res.Messages > 0 {
			cursor += copy(dst[cursor:], p.Separator)
		}
		cursor += copy(dst[cursor:], sb.Bytes[:n])
		res.Messages++
		examined = i + 1
	}
	res.Consumed = examined

	if res.Messages == 0 {
		switch {
		case full:
			b.logger.Warn("first message does not fit the batch buffer",
				log.Component("batch"),
				log.Int("capacity", capacity),
			)
			res.Status = StatusBufferTooSmall
		case res.Skipped > 0:
			res.Status = StatusMessageTooLarge
		default:
			res.Status = StatusNoMessages
		}
		if capacity > 0 {
			dst[0] = 0
		}
		return res
	}

	cursor += copy(dst[cursor:], p.Trailer)
	if cursor < len(dst) {
		dst[cursor] = 0
	}
	res.Bytes = cursor
	res.Status = StatusSuccess
	return res
}

package batch

import (
	"fmt"
	"time"

	"github.com/bft-labs/logship/internal/domain"
)

// Default limits shared by the built-in policies.
const (
	DefaultMaxMessageSize = 65536
	DefaultMaxBatchBytes  = 65536
	DefaultMaxMessages    = 1000
	DefaultMinInterval    = 100 * time.Millisecond
	DefaultMaxBatchAge    = time.Second
)

// Policy describes how queued messages are framed into one batch and the
// limits a batch must respect. Named framings are distinct Policy values.
type Policy struct {
	// Name identifies the framing in logs and request headers.
	Name string

	// MaxMessageSize is the largest single message that may be batched.
	// Larger messages are skipped.
	MaxMessageSize int

	// MaxBatchBytes caps the framed batch, trailer included.
	MaxBatchBytes int

	// MaxMessages caps the number of messages in one batch.
	MaxMessages int

	// MinInterval is the minimum time between batch attempts.
	MinInterval time.Duration

	// MaxBatchAge forces a batch once the oldest queued message is this old.
	MaxBatchAge time.Duration

	Header    []byte
	Separator []byte
	Trailer   []byte

	// ContentType is sent with the batch by HTTP senders.
	ContentType string
}

// JSONPolicy frames messages as the events array of one JSON object:
//
//	{ "events": [ <msg>, <msg> ] }
//
// Each message must already be encoded JSON; it is not validated.
func JSONPolicy() Policy {
	return Policy{
		Name:           "json",
		MaxMessageSize: DefaultMaxMessageSize,
		MaxBatchBytes:  DefaultMaxBatchBytes,
		MaxMessages:    DefaultMaxMessages,
		MinInterval:    DefaultMinInterval,
		MaxBatchAge:    DefaultMaxBatchAge,
		Header:         []byte(`{ "events": [ `),
		Separator:      []byte(`, `),
		Trailer:        []byte(` ] }`),
		ContentType:    "application/json",
	}
}

// LinePolicy frames messages one per line with no header or trailer.
func LinePolicy() Policy {
	return Policy{
		Name:           "lines",
		MaxMessageSize: DefaultMaxMessageSize,
		MaxBatchBytes:  DefaultMaxBatchBytes,
		MaxMessages:    DefaultMaxMessages,
		MinInterval:    DefaultMinInterval,
		MaxBatchAge:    DefaultMaxBatchAge,
		Separator:      []byte("\n"),
		ContentType:    "text/plain; charset=utf-8",
	}
}

// PolicyByName returns the built-in policy called name.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "json":
		return JSONPolicy(), nil
	case "lines":
		return LinePolicy(), nil
	}
	return Policy{}, fmt.Errorf("%w: unknown batch format %q", domain.ErrInvalidConfig, name)
}

// Validate checks the policy limits.
func (p Policy) Validate() error {
	switch {
	case p.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size must be positive", domain.ErrInvalidConfig)
	case p.MaxBatchBytes <= 0:
		return fmt.Errorf("%w: max batch bytes must be positive", domain.ErrInvalidConfig)
	case p.MaxMessages <= 0:
		return fmt.Errorf("%w: max messages must be positive", domain.ErrInvalidConfig)
	case p.MinInterval < 0:
		return fmt.Errorf("%w: min interval must not be negative", domain.ErrInvalidConfig)
	case p.MaxBatchAge < 0:
		return fmt.Errorf("%w: max batch age must not be negative", domain.ErrInvalidConfig)
	case len(p.Header)+len(p.Trailer) >= p.MaxBatchBytes:
		return fmt.Errorf("%w: framing leaves no room for messages", domain.ErrInvalidConfig)
	}
	return nil
}

// Overhead returns the framing bytes of a batch holding n messages.
func (p Policy) Overhead(n int) int {
	if n <= 0 {
		return 0
	}
	return len(p.Header) + (n-1)*len(p.Separator) + len(p.Trailer)
}

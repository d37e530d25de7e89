package logship

import (
	"fmt"
	"time"

	"github.com/bft-labs/logship/internal/adapters/fs"
	"github.com/bft-labs/logship/internal/batch"
	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/queue"
)

// DefaultServiceURL is the ingestion endpoint used when ServiceURL is empty.
const DefaultServiceURL = "http://localhost:9880"

// Config holds the configuration of a Logship instance.
// Zero values are replaced by defaults in SetDefaults.
type Config struct {
	// Path is the log file to follow. When empty, messages only enter
	// the queue through Logship.Enqueue.
	Path string

	// Format selects how file lines become messages: "text", "json" or "raw".
	Format string

	// Hostname is sent with every batch. Default: the OS hostname.
	Hostname string

	ServiceURL string
	AuthKey    string

	// StateDir holds the file checkpoint. Default: ".logship" next to Path.
	StateDir string

	// Framing names the batch framing: "json" or "lines".
	Framing string

	MaxBatchBytes    int
	MaxBatchMessages int
	MaxMessageSize   int

	// SendInterval is the minimum time between batch attempts.
	SendInterval time.Duration

	// MaxBatchAge forces a send once the oldest queued message is this old,
	// even when the resource gate is closed.
	MaxBatchAge time.Duration

	QueueCapacity        int
	BufferSize           int
	MaxBuffersPerMessage int

	// PollInterval is how often the followed file is checked when no
	// file system event arrives.
	PollInterval time.Duration

	HTTPTimeout time.Duration
	Gzip        bool

	// Once stops after the current end of Path has been shipped.
	Once bool
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	if c.Format == "" {
		c.Format = fs.FormatText
	}
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	if c.Hostname == "" {
		c.Hostname = hostname()
	}
	if c.StateDir == "" && c.Path != "" {
		c.StateDir = defaultStateDir(c.Path)
	}
	if c.Framing == "" {
		c.Framing = "json"
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = batch.DefaultMaxBatchBytes
	}
	if c.MaxBatchMessages == 0 {
		c.MaxBatchMessages = batch.DefaultMaxMessages
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = batch.DefaultMaxMessageSize
	}
	if c.SendInterval == 0 {
		c.SendInterval = batch.DefaultMinInterval
	}
	if c.MaxBatchAge == 0 {
		c.MaxBatchAge = batch.DefaultMaxBatchAge
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = queue.DefaultCapacity
	}
	if c.BufferSize == 0 {
		c.BufferSize = queue.DefaultBufferSize
	}
	if c.MaxBuffersPerMessage == 0 {
		c.MaxBuffersPerMessage = queue.DefaultMaxBuffersPerMessage
	}
	if c.PollInterval == 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 15 * time.Second
	}
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.Path != "" && !fs.ValidFormat(c.Format) {
		return fmt.Errorf("%w: unknown format %q", domain.ErrInvalidConfig, c.Format)
	}
	if c.HTTPTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", domain.ErrInvalidConfig)
	}
	if _, err := c.policy(); err != nil {
		return err
	}
	if err := c.queueConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// policy returns the batch policy described by c.
func (c Config) policy() (batch.Policy, error) {
	p, err := batch.PolicyByName(c.Framing)
	if err != nil {
		return batch.Policy{}, err
	}
	p.MaxBatchBytes = c.MaxBatchBytes
	p.MaxMessages = c.MaxBatchMessages
	p.MaxMessageSize = c.MaxMessageSize
	p.MinInterval = c.SendInterval
	p.MaxBatchAge = c.MaxBatchAge
	if err := p.Validate(); err != nil {
		return batch.Policy{}, err
	}
	return p, nil
}

func (c Config) queueConfig() queue.Config {
	qc := queue.DefaultConfig()
	qc.Capacity = c.QueueCapacity
	qc.BufferSize = c.BufferSize
	qc.MaxBuffersPerMessage = c.MaxBuffersPerMessage
	return qc
}

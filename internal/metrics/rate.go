package metrics

import (
	"sync"
	"time"

	"github.com/bft-labs/logship/pkg/log"
)

// DefaultRateRatio is how far the incoming rate may outpace the outgoing
// rate before RateMonitor.Check logs.
const DefaultRateRatio = 1.2

// RateTracker counts events since its last reset.
type RateTracker struct {
	mu    sync.Mutex
	count uint64
	start time.Time
	now   func() time.Time
}

// NewRateTracker creates a tracker starting now.
func NewRateTracker() *RateTracker {
	t := &RateTracker{now: time.Now}
	t.start = t.now()
	return t
}

// Record adds n events.
func (t *RateTracker) Record(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.count += uint64(n)
	t.mu.Unlock()
}

// Rate returns events per second since the last reset.
func (t *RateTracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.now().Sub(t.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.count) / elapsed
}

// Reset zeroes the count and restarts the window.
func (t *RateTracker) Reset() {
	t.mu.Lock()
	t.count = 0
	t.start = t.now()
	t.mu.Unlock()
}

// RateMonitor compares the rate messages enter the queue with the rate
// they leave it.
type RateMonitor struct {
	Incoming *RateTracker
	Outgoing *RateTracker

	ratio  float64
	logger log.Logger
}

// NewRateMonitor creates a monitor that warns when incoming exceeds
// ratio times outgoing. A ratio <= 0 selects DefaultRateRatio.
func NewRateMonitor(ratio float64, logger log.Logger) *RateMonitor {
	if ratio <= 0 {
		ratio = DefaultRateRatio
	}
	return &RateMonitor{
		Incoming: NewRateTracker(),
		Outgoing: NewRateTracker(),
		ratio:    ratio,
		logger:   log.OrNoop(logger),
	}
}

// Check logs a warning and reports true if the backlog is growing faster
// than it drains. Both windows are reset afterwards.
func (m *RateMonitor) Check() bool {
	in, out := m.Incoming.Rate(), m.Outgoing.Rate()
	m.Incoming.Reset()
	m.Outgoing.Reset()

	if in == 0 || in <= out*m.ratio {
		return false
	}
	m.logger.Warn("incoming rate exceeds outgoing rate",
		log.Component("metrics"),
		log.Float64("incoming_per_sec", in),
		log.Float64("outgoing_per_sec", out),
		log.Float64("ratio", m.ratio),
	)
	return true
}

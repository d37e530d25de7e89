package batch

import "time"

// Schedule decides when the forwarder should attempt a batch.
type Schedule struct {
	policy   Policy
	lastSend time.Time
	now      func() time.Time
}

// NewSchedule creates a Schedule for policy, starting its interval now.
func NewSchedule(policy Policy) *Schedule {
	s := &Schedule{policy: policy, now: time.Now}
	s.lastSend = s.now()
	return s
}

// ShouldSend reports whether a batch is due for a queue holding queued
// messages, the oldest of which has waited oldest.
//
// A batch is due once MinInterval has passed since the last send and
// either a full batch is waiting or the oldest message has reached
// MaxBatchAge.
func (s *Schedule) ShouldSend(queued int, oldest time.Duration) bool {
	if queued == 0 {
		return false
	}
	if s.TimeSinceLastSend() < s.policy.MinInterval {
		return false
	}
	if queued >= s.policy.MaxMessages {
		return true
	}
	return oldest >= s.policy.MaxBatchAge
}

// Reset restarts the interval after a batch attempt.
func (s *Schedule) Reset() {
	s.lastSend = s.now()
}

// TimeSinceLastSend returns the duration since the last Reset.
func (s *Schedule) TimeSinceLastSend() time.Duration {
	return s.now().Sub(s.lastSend)
}

package logship

import "github.com/bft-labs/logship/internal/domain"

// Errors returned by Logship. Compare with errors.Is.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrEmptyMessage    = domain.ErrEmptyMessage
	ErrMessageTooLarge = domain.ErrMessageTooLarge
	ErrEnqueueRejected = domain.ErrEnqueueRejected
	ErrPoolExhausted   = domain.ErrPoolExhausted
)

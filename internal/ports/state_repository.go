package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// StateRepository persists the source checkpoint across restarts.
type StateRepository interface {
	// Load retrieves the last saved checkpoint.
	// Returns a zero checkpoint and nil error if none exists.
	Load(ctx context.Context) (domain.Checkpoint, error)

	// Save persists the checkpoint atomically.
	Save(ctx context.Context, cp domain.Checkpoint) error
}

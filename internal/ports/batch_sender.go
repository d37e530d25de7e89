package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// BatchSender transmits framed batches to the ingestion service.
type BatchSender interface {
	// Send delivers one batch. It makes a single attempt; a failed batch
	// stays queued and is offered again on a later tick.
	Send(ctx context.Context, batch *domain.Batch, metadata SendMetadata) error
}

// SendMetadata provides context for the send operation.
// This information is included in HTTP headers for server-side tracking.
type SendMetadata struct {
	// Source names the log source, usually the tailed file path.
	Source string

	// Hostname is the agent's hostname
	Hostname string

	// OSArch is the operating system and architecture (e.g., "linux/amd64")
	OSArch string

	// AuthKey is the API authentication key
	AuthKey string

	// ServiceURL is the base URL of the ingestion service
	ServiceURL string
}

// Package logship forwards a log file to an ingestion service in batches.
//
// Most programs embed the agent through pkg/logship, which exposes the full
// lifecycle. Run is a blocking shortcut for the common case:
//
//	cfg := logship.Config{
//	    Path:    "/var/log/app.log",
//	    AuthKey: "your-api-key",
//	}
//	if err := logship.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
package logship

import (
	"context"
	"errors"
	"time"

	agent "github.com/bft-labs/logship/pkg/logship"
)

// Config holds the configuration of the forwarding agent.
type Config = agent.Config

// Option configures the agent created by Run.
type Option = agent.Option

// statusPoll is how often Run checks whether the agent finished on its own.
const statusPoll = 50 * time.Millisecond

// Run starts an agent and blocks until ctx is done or, with cfg.Once, until
// the file has been shipped. Queued messages are flushed before it returns.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := a.Stop(); err != nil && !errors.Is(err, agent.ErrNotRunning) {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			switch a.Status() {
			case agent.StateStopped:
				return nil
			case agent.StateCrashed:
				return errors.New("logship: agent crashed")
			}
		}
	}
}

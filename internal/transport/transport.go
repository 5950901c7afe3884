package transport

import (
	"context"
	"fmt"

	"cinebox/internal/config"
)

// Request identifies one encode to hand to the remote worker.
type Request struct {
	JobID      string
	MovieID    string
	SourcePath string
}

// LineFunc receives each progress-bearing output line. Adapters call it from
// a single goroutine in arrival order; it is never invoked concurrently for
// one job.
type LineFunc func(line string)

// Transport delivers an encode request to the remote worker and blocks until
// the work finishes or fails. Cancellation is cooperative: ending the
// context abandons the stream, it does not kill the remote process.
type Transport interface {
	Run(ctx context.Context, req Request, onLine LineFunc) error
}

// New selects the configured transport implementation.
func New(cfg *config.Config) (Transport, error) {
	switch cfg.TransportMode {
	case config.TransportSSH:
		return NewSSHTransport(cfg), nil
	case config.TransportAgent:
		return NewAgentTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.TransportMode)
	}
}

package scheduler

import (
	"context"

	"github.com/me/rrsched/pkg/model"
)

// Scheduler runs the round-robin cycle.
type Scheduler interface {
	// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the loop down. Jobs admitted in the current slice are left as they are.
	Stop() error

	// Cycle runs a single admit/run/preempt iteration. Used for testing.
	Cycle(ctx context.Context) error
}

// Handle feeds job identities to a running loop, whether it lives in this
// process (*Loop) or in the loop process (*Remote).
type Handle interface {
	// Enqueue hands a suspended, READY job to the loop.
	Enqueue(pid int) error
	// Exited tells the loop that a job terminated and must not be signaled again.
	Exited(pid int) error
	// Stop ends the loop.
	Stop() error
	// Stats returns the loop counters. Final once Stop has returned.
	Stats() model.LoopStats
}

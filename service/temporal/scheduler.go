package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives periodic wealth
// refresh sweeps, and starts on-demand backfill crawls.
type Scheduler interface {
	// CreateRefreshSchedule creates the schedule that triggers
	// RefreshWealthWorkflow on the given interval.
	CreateRefreshSchedule(ctx context.Context, interval time.Duration) error

	// UpsertRefreshSchedule creates the refresh schedule, or updates its
	// interval if it already exists.
	UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error

	// DeleteRefreshSchedule deletes the refresh schedule, stopping the
	// periodic sweeps.
	DeleteRefreshSchedule(ctx context.Context) error

	// StartBackfill starts a BackfillWorkflow for the given program
	// address and returns its workflow ID.
	StartBackfill(ctx context.Context, address string) (string, error)
}

// refreshScheduleID is the fixed ID of the wealth refresh schedule. The
// indexer tracks a single program, so there is exactly one sweep schedule.
const refreshScheduleID = "refresh-wealth"

// backfillWorkflowID returns the workflow ID for a backfill of the given
// program address. Reusing the address keeps concurrent backfills of the
// same program from racing each other.
func backfillWorkflowID(address string) string {
	return "backfill-" + address
}

package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshWealthWorkflow re-samples the wealth snapshot of every tracked
// user. It is triggered by a Temporal schedule on the configured interval;
// the schedule's overlap policy skips a run when the previous sweep is
// still in flight.
func RefreshWealthWorkflow(ctx workflow.Context, input RefreshWealthInput) (*RefreshWealthResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshWealthWorkflow started", "requested_by", input.RequestedBy)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *RefreshWealthResult
	if err := workflow.ExecuteActivity(ctx, a.RefreshWealth, input).Get(ctx, &result); err != nil {
		logger.Error("wealth refresh activity failed", "error", err)
		return nil, fmt.Errorf("wealth refresh activity failed: %w", err)
	}

	logger.Info("RefreshWealthWorkflow completed", "refreshed", result.Refreshed)
	return result, nil
}

// BackfillWorkflow crawls a program's full signature history. It is started
// on demand rather than on a schedule; the dedup store makes re-runs cheap,
// so a retried crawl only pays for pages it has not persisted yet.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (*BackfillResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("BackfillWorkflow started", "address", input.Address)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result *BackfillResult
	if err := workflow.ExecuteActivity(ctx, a.CrawlProgram, input).Get(ctx, &result); err != nil {
		logger.Error("backfill activity failed", "address", input.Address, "error", err)
		return nil, fmt.Errorf("backfill activity failed: %w", err)
	}

	logger.Info("BackfillWorkflow completed",
		"address", input.Address,
		"transactions", result.Transactions,
		"completed", result.Completed,
	)
	return result, nil
}

package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateRefreshSchedule creates the Temporal schedule that triggers the
// wealth refresh workflow on the given interval. The overlap policy is
// SKIP: if a sweep is still running when the next interval fires, the new
// run is dropped rather than queued behind it.
func (c *Client) CreateRefreshSchedule(ctx context.Context, interval time.Duration) error {
	c.logger.Debug("creating wealth refresh schedule",
		"schedule_id", refreshScheduleID,
		"interval", interval,
	)

	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{
				Every: interval,
			},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        refreshScheduleID + "-run",
		Workflow:  "RefreshWealthWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{RefreshWealthInput{
			RequestedBy: "schedule",
		}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:      refreshScheduleID,
		Spec:    scheduleSpec,
		Action:  &workflowAction,
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"created_by": "memeroyale-indexer",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", refreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", refreshScheduleID, err)
	}

	c.logger.Info("wealth refresh schedule created",
		"schedule_id", refreshScheduleID,
		"interval", interval,
	)

	return nil
}

// UpsertRefreshSchedule creates the refresh schedule, or updates its
// interval if it already exists.
func (c *Client) UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, refreshScheduleID)
	desc, err := handle.Describe(ctx)
	if err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", refreshScheduleID,
			"error", err,
		)
		return c.CreateRefreshSchedule(ctx, interval)
	}

	c.logger.Debug("schedule exists, updating interval",
		"schedule_id", refreshScheduleID,
		"old_interval", desc.Schedule.Spec.Intervals[0].Every,
		"new_interval", interval,
	)

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", refreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", refreshScheduleID, err)
	}

	c.logger.Info("wealth refresh schedule updated",
		"schedule_id", refreshScheduleID,
		"interval", interval,
	)

	return nil
}

// DeleteRefreshSchedule deletes the wealth refresh schedule.
func (c *Client) DeleteRefreshSchedule(ctx context.Context) error {
	c.logger.Debug("deleting wealth refresh schedule", "schedule_id", refreshScheduleID)

	handle := c.client.ScheduleClient().GetHandle(ctx, refreshScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", refreshScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", refreshScheduleID, err)
	}

	c.logger.Info("wealth refresh schedule deleted", "schedule_id", refreshScheduleID)
	return nil
}

// StartBackfill starts a BackfillWorkflow for the given program address.
// The workflow ID is derived from the address, so a second start while a
// backfill of the same program is running is rejected by Temporal.
func (c *Client) StartBackfill(ctx context.Context, address string) (string, error) {
	workflowID := backfillWorkflowID(address)

	c.logger.Info("starting backfill workflow",
		"workflow_id", workflowID,
		"address", address,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}, BackfillWorkflow, BackfillInput{Address: address})
	if err != nil {
		c.logger.Error("failed to start backfill workflow",
			"workflow_id", workflowID,
			"error", err,
		)
		return "", fmt.Errorf("failed to start backfill workflow %q: %w", workflowID, err)
	}

	c.logger.Info("backfill workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

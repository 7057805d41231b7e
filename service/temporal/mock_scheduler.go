package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu          sync.Mutex
	interval    *time.Duration
	backfills   []string
	createErr   error
	deleteErr   error
	backfillErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// CreateRefreshSchedule records the schedule interval.
func (m *MockScheduler) CreateRefreshSchedule(ctx context.Context, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval != nil {
		return fmt.Errorf("schedule %q already exists", refreshScheduleID)
	}
	m.interval = &interval
	return nil
}

// UpsertRefreshSchedule creates or updates the schedule interval.
func (m *MockScheduler) UpsertRefreshSchedule(ctx context.Context, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = &interval
	return nil
}

// DeleteRefreshSchedule removes the recorded schedule.
func (m *MockScheduler) DeleteRefreshSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval == nil {
		return fmt.Errorf("schedule %q not found", refreshScheduleID)
	}
	m.interval = nil
	return nil
}

// StartBackfill records the backfill request and returns its workflow ID.
func (m *MockScheduler) StartBackfill(ctx context.Context, address string) (string, error) {
	if m.backfillErr != nil {
		return "", m.backfillErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfills = append(m.backfills, address)
	return backfillWorkflowID(address), nil
}

// SetCreateError makes CreateRefreshSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteRefreshSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// SetBackfillError makes StartBackfill return an error.
func (m *MockScheduler) SetBackfillError(err error) {
	m.backfillErr = err
}

// ScheduleInterval returns the recorded interval, if the schedule exists.
func (m *MockScheduler) ScheduleInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval == nil {
		return 0, false
	}
	return *m.interval, true
}

// Backfills returns the addresses passed to StartBackfill.
func (m *MockScheduler) Backfills() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.backfills))
	copy(out, m.backfills)
	return out
}

// Reset clears all recorded state and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = nil
	m.backfills = nil
	m.createErr = nil
	m.deleteErr = nil
	m.backfillErr = nil
}

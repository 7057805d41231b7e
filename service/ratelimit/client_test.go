package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SparseBlocksUntilWindowElapses(t *testing.T) {
	client := NewClient(NewSparse(2, 300*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		release, err := client.Acquire(ctx, 1)
		require.NoError(t, err)
		release()
	}

	// The third acquire must wait out the window.
	release, err := client.Acquire(ctx, 1)
	require.NoError(t, err)
	release()

	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond,
		"third acquire should have blocked for roughly the interval")
}

func TestClient_ConcurrencyBlocksUntilRelease(t *testing.T) {
	client := NewClient(NewConcurrency(1))
	ctx := context.Background()

	release, err := client.Acquire(ctx, 1)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := client.Acquire(ctx, 1)
		if err == nil {
			r2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after release")
	}
}

func TestClient_AcquireHonorsContext(t *testing.T) {
	client := NewClient(NewConcurrency(1))

	release, err := client.Acquire(context.Background(), 1)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ReleaseIsIdempotent(t *testing.T) {
	client := NewClient(NewConcurrency(1))
	ctx := context.Background()

	release, err := client.Acquire(ctx, 1)
	require.NoError(t, err)
	release()
	release() // second call must not double-free the slot

	r2, err := client.Acquire(ctx, 1)
	require.NoError(t, err)
	defer r2()

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = client.Acquire(shortCtx, 1)
	assert.Error(t, err, "slot should still be held after the double release")
}

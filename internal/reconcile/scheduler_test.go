// ABOUTME: Tests for the preview reconciliation scheduler
// ABOUTME: Covers schedule parsing, single runs, overlap skipping and stop

package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (c *countingReconciler) ReconcilePreviews(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 1, c.err
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler("not a schedule", &countingReconciler{}, nil)
	assert.Error(t, err)
}

func TestNewScheduler_DefaultSpec(t *testing.T) {
	s, err := NewScheduler("", &countingReconciler{}, nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

func TestRunOnce(t *testing.T) {
	r := &countingReconciler{}
	s, err := NewScheduler("@every 1h", r, nil)
	require.NoError(t, err)
	defer s.Stop()

	s.RunOnce()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRunOnce_ErrorIsLogged(t *testing.T) {
	r := &countingReconciler{err: errors.New("store down")}
	s, err := NewScheduler("@every 1h", r, nil)
	require.NoError(t, err)
	defer s.Stop()

	s.RunOnce()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestRunOnce_SkipsOverlap(t *testing.T) {
	r := &countingReconciler{block: make(chan struct{})}
	s, err := NewScheduler("@every 1h", r, nil)
	require.NoError(t, err)
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.RunOnce()
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.RunOnce()
	assert.Equal(t, int32(1), r.calls.Load(), "second run must be skipped while first is active")

	close(r.block)
	<-done
}

func TestScheduledRun(t *testing.T) {
	r := &countingReconciler{}
	s, err := NewScheduler("@every 1s", r, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

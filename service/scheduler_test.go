package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})

	go func() {
		Loop(ctx, time.Millisecond, func(context.Context) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after cancel")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestLoopNeverOverlaps(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var active, maxActive, runs atomic.Int32
	Loop(ctx, time.Millisecond, func(context.Context) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(5 * time.Millisecond) // longer than the period
		active.Add(-1)
		runs.Add(1)
	})

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Positive(t, runs.Load())
}

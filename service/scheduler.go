package service

import (
	"context"
	"time"
)

// Loop calls fn every period until ctx is done. The timer is re-armed only
// after fn returns, so runs never overlap and a slow run delays the next.
func Loop(ctx context.Context, period time.Duration, fn func(context.Context)) {
	t := time.NewTimer(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
			if ctx.Err() != nil {
				return
			}
			t.Reset(period)
		}
	}
}

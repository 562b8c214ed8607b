// Package pool recycles timers used for bounded waits.
//
// The module targets Go 1.23+ timer semantics: Stop and Reset discard a pending
// tick, so a recycled timer never delivers a value from its previous use.
package pool

import (
	"context"
	"sync"
	"time"
)

var timers = sync.Pool{}

// GetTimer returns a running timer that fires after d.
// Hand it back with PutTimer once nothing selects on it.
func GetTimer(d time.Duration) *time.Timer {
	if t, ok := timers.Get().(*time.Timer); ok {
		t.Reset(d)
		return t
	}

	return time.NewTimer(d)
}

// PutTimer stops t and recycles it. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	t.Stop()
	timers.Put(t)
}

// Sleep waits d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package devicesim

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/go-linebridge/internal/pool"
)

// Clock paces a Source.
type Clock interface {
	// Sleep pauses for d or until ctx is done. It returns ctx.Err() when interrupted.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock sleeps on pooled timers.
type RealClock struct{}

// Sleep implements Clock.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	return pool.Sleep(ctx, d)
}

// VirtualClock never blocks; it only accumulates the time it was asked to sleep.
type VirtualClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	sleeps  int
}

// NewVirtualClock creates a VirtualClock at zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// Sleep implements Clock.
func (c *VirtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if d > 0 {
		c.elapsed += d
	}
	c.sleeps++

	return nil
}

// Elapsed returns the total virtual time slept.
func (c *VirtualClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.elapsed
}

// Sleeps returns the number of Sleep calls.
func (c *VirtualClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sleeps
}

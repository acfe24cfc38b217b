package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickListener receives periodic maintenance ticks.
type TickListener interface {
	OnTick(now time.Time)
}

// Clock drives background maintenance (connector drift, index upkeep) on a
// fixed interval. Listeners run sequentially on the tick goroutine and are
// expected to return quickly.
type Clock struct {
	interval  time.Duration
	mu        sync.RWMutex
	listeners []TickListener
	cancel    context.CancelFunc
	logger    *zap.Logger
}

// New creates a clock with the given tick interval.
func New(interval time.Duration, logger *zap.Logger) *Clock {
	return &Clock{
		interval: interval,
		logger:   logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l TickListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start begins the tick loop in a background goroutine.
func (c *Clock) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop(ctx)
	c.logger.Info("maintenance clock started", zap.Duration("interval", c.interval))
}

// Stop halts the tick loop.
func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.logger.Info("maintenance clock stopped")
	}
}

func (c *Clock) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Clock) tick(now time.Time) {
	c.mu.RLock()
	listeners := make([]TickListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.OnTick(now)
	}
}

package coordinator

import (
	"context"
	"log/slog"
	"time"

	"navieta.dev/internal/logging"
)

// Start launches the route's refresh timer. It fires every UpdateInterval;
// a tick that arrives while a refresh is still running is skipped. Start is
// a no-op after the first call.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		if c.stopped.Load() {
			return
		}
		c.wg.Add(1)
		go c.run()
	})
}

// Stop halts the timer and waits for the loop to exit. A refresh in flight
// is allowed to finish but its result is discarded.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.shutdownChan)
	})
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.route.UpdateInterval)
	defer ticker.Stop()

	logging.LogOperation(c.logger, "route_updates_started",
		slog.Duration("update_interval", c.route.UpdateInterval),
		slog.Duration("future_update_interval", c.route.FutureUpdateInterval))

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.shutdownChan:
			logging.LogOperation(c.logger, "shutting_down_route_updates")
			return
		}
	}
}

func (c *Coordinator) tick() {
	if !c.refreshMu.TryLock() {
		c.logger.Warn("skipping scheduled refresh, previous cycle still running")
		return
	}
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, c.logger)

	c.refresh(ctx, c.clock.Now())
}

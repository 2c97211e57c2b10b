//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tunetable/internal/engine"
	applog "tunetable/internal/log"
	"tunetable/internal/route"
)

// handleControlSignals maps SIGHUP to a retry and SIGUSR1 to a route
// change, e.g. from an udev or ACPI hook.
func handleControlSignals(ctx context.Context, c *engine.Coordinator, w *route.Watcher) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := c.Retry(ctx); err != nil {
					applog.Warnf("retry: %v", err)
				}
			case syscall.SIGUSR1:
				if w == nil {
					applog.Warnf("route watching is disabled, ignoring %s", sig)
					continue
				}
				w.Notify(route.CategoryChanged, "")
			}
		}
	}
}

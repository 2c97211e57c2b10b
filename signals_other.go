//go:build !unix

package main

import (
	"context"

	"tunetable/internal/engine"
	"tunetable/internal/route"
)

func handleControlSignals(ctx context.Context, _ *engine.Coordinator, _ *route.Watcher) {
	<-ctx.Done()
}

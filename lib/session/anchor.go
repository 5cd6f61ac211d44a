package session

import (
	"context"
	"sync/atomic"
)

// anchor marks that a diagnostics process was requested for a key.
// It is created through the anchor map without side effects and started explicitly.
type anchor struct {
	key     Key
	started atomic.Bool
}

// start triggers the starter exactly once per anchor. A failed start clears the
// marker so a later call can try again.
func (a *anchor) start(ctx context.Context, starter Starter, port int) (bool, error) {
	if !a.started.CompareAndSwap(false, true) {
		return false, nil
	}
	if err := starter.Start(ctx, a.key, port); err != nil {
		a.started.Store(false)
		return false, err
	}
	return true, nil
}

package sync

import (
	"context"
	"log/slog"
	"sync"
)

// Drainer is the slice of the engine the monitor drives.
type Drainer interface {
	Drain(ctx context.Context) (DrainResult, error)
}

// Monitor turns the level-based reachability signal into drain triggers:
// exactly one drain per unreachable→reachable edge. Staying reachable, or
// repeated unreachable reports, trigger nothing.
type Monitor struct {
	drainer Drainer

	mu        sync.Mutex
	reachable bool
}

func NewMonitor(drainer Drainer, initiallyReachable bool) *Monitor {
	return &Monitor{drainer: drainer, reachable: initiallyReachable}
}

// OnChange feeds the monitor one reachability observation.
func (m *Monitor) OnChange(ctx context.Context, reachable bool) {
	m.mu.Lock()
	edge := reachable && !m.reachable
	m.reachable = reachable
	m.mu.Unlock()

	if !edge {
		return
	}

	slog.InfoContext(ctx, "Connectivity restored, draining queue")
	result, err := m.drainer.Drain(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Drain after reconnect failed", "error", err,
			"synced", result.Synced,
			"still_pending", result.StillPending)
		return
	}
	if result.Synced > 0 || result.Failed > 0 {
		slog.InfoContext(ctx, "Reconnect drain done",
			"synced", result.Synced,
			"failed", result.Failed,
			"still_pending", result.StillPending)
	}
}

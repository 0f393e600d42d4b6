package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger probes the server's liveness endpoint. Implemented by
// apiclient.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober is the connectivity oracle: it polls the server's liveness endpoint
// and notifies subscribers when reachability flips.
type Prober struct {
	pinger   Pinger
	interval time.Duration

	mu        sync.Mutex
	reachable bool
	listeners []func(ctx context.Context, reachable bool)
}

func NewProber(pinger Pinger, interval time.Duration) *Prober {
	return &Prober{pinger: pinger, interval: interval}
}

// Reachable returns the last observed reachability state.
func (p *Prober) Reachable(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable
}

// Subscribe registers a listener invoked on every state flip. Must be called
// before Run.
func (p *Prober) Subscribe(fn func(ctx context.Context, reachable bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Run polls until the context is cancelled. The first probe fires
// immediately so the initial state is known before the first tick.
func (p *Prober) Run(ctx context.Context) {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	reachable := p.pinger.Ping(ctx) == nil

	p.mu.Lock()
	changed := reachable != p.reachable
	p.reachable = reachable
	listeners := p.listeners
	p.mu.Unlock()

	if !changed {
		return
	}

	slog.InfoContext(ctx, "Reachability changed", "reachable", reachable)
	for _, fn := range listeners {
		fn(ctx, reachable)
	}
}

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Loop names used for lock keys and gate registration.
const (
	LoopRefresh = "refresh"
	LoopSync    = "sync"
)

// LifecycleGate tracks in-flight loop runs per tenant so install and
// uninstall signals can cancel them. Pending (not yet claimed) steps are
// cancelled at the store by TaskStore.CancelByTenant; the gate covers the
// in-process remainder.
type LifecycleGate struct {
	mu   sync.Mutex
	runs map[string]map[int64]context.CancelFunc
	seq  int64
}

func NewLifecycleGate() *LifecycleGate {
	return &LifecycleGate{runs: make(map[string]map[int64]context.CancelFunc)}
}

// Track derives a cancellable context for one loop run. The returned release
// func must be called when the run finishes.
func (g *LifecycleGate) Track(ctx context.Context, tenantID string, loop string) (context.Context, func(), error) {
	if g == nil {
		return ctx, func() {}, nil
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, nil, fmt.Errorf("core: tenant id is required for lifecycle tracking")
	}
	key := gateKey(tenantID, loop)

	runCtx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	g.seq++
	id := g.seq
	if g.runs[key] == nil {
		g.runs[key] = make(map[int64]context.CancelFunc)
	}
	g.runs[key][id] = cancel
	g.mu.Unlock()

	release := func() {
		g.mu.Lock()
		if cancels, ok := g.runs[key]; ok {
			delete(cancels, id)
			if len(cancels) == 0 {
				delete(g.runs, key)
			}
		}
		g.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

// CancelTenant cancels every in-flight run for the tenant across both loops.
// Returns the number of runs cancelled.
func (g *LifecycleGate) CancelTenant(tenantID string) int {
	if g == nil {
		return 0
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0
	}
	cancelled := 0
	g.mu.Lock()
	for _, loop := range []string{LoopRefresh, LoopSync} {
		key := gateKey(tenantID, loop)
		for id, cancel := range g.runs[key] {
			cancel()
			delete(g.runs[key], id)
			cancelled++
		}
		delete(g.runs, key)
	}
	g.mu.Unlock()
	return cancelled
}

func gateKey(tenantID string, loop string) string {
	return strings.TrimSpace(loop) + "::" + tenantID
}

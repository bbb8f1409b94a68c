package control

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Guard admits one operation or plan at a time across controllers.
type Guard struct {
	busy atomic.Bool

	mu     sync.Mutex
	owner  string
	plan   bool
	cancel context.CancelFunc
}

func NewGuard() *Guard {
	return &Guard{}
}

// acquire returns a context cancelled by Cancel and a release func.
func (g *Guard) acquire(ctx context.Context, owner string, plan bool) (context.Context, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy.CAS(false, true) {
		if g.plan {
			return nil, nil, ErrPlanActive
		}
		return nil, nil, ErrOperationActive
	}
	ctx, cancel := context.WithCancel(ctx)
	g.owner = owner
	g.plan = plan
	g.cancel = cancel

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.owner = ""
			g.plan = false
			g.cancel = nil
			cancel()
			g.busy.Store(false)
		})
	}, nil
}

// Cancel stops whatever holds the guard. It reports false when idle.
func (g *Guard) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel == nil {
		return false
	}
	g.cancel()
	return true
}

// Owner returns the running operation or plan name.
func (g *Guard) Owner() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, g.busy.Load()
}

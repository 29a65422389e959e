package orchestrator

import (
	"context"
	"sync"

	"github.com/BaSui01/careflow/types"
)

// BusyGuard admits one turn per conversation at a time.
type BusyGuard interface {
	// Acquire returns a release func, or an AGENT_BUSY error when a turn
	// for conversationID is already running.
	Acquire(ctx context.Context, conversationID string) (func(), error)
}

// MemoryBusyGuard is a process-local BusyGuard.
type MemoryBusyGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewMemoryBusyGuard() *MemoryBusyGuard {
	return &MemoryBusyGuard{active: make(map[string]struct{})}
}

func (g *MemoryBusyGuard) Acquire(ctx context.Context, conversationID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[conversationID]; busy {
		return nil, types.NewAgentBusyError(conversationID)
	}
	g.active[conversationID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, conversationID)
			g.mu.Unlock()
		})
	}, nil
}

// Active returns the number of conversations with a running turn.
func (g *MemoryBusyGuard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

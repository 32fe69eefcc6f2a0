package monitor

import (
	"context"
	"sync"
)

// productGate allows one check cycle per product at a time.
type productGate struct {
	mu    sync.Mutex
	slots map[ProductID]chan struct{}
}

func newProductGate() *productGate {
	return &productGate{slots: make(map[ProductID]chan struct{})}
}

func (g *productGate) slot(id ProductID) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[id] = s
	}
	return s
}

// lock waits for the product's slot or for ctx to end.
func (g *productGate) lock(ctx context.Context, id ProductID) error {
	select {
	case g.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryLock takes the slot only if it is free.
func (g *productGate) tryLock(id ProductID) bool {
	select {
	case g.slot(id) <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *productGate) unlock(id ProductID) {
	<-g.slot(id)
}

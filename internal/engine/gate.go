package engine

import (
	"context"
	"sync"
)

// Gate bounds how many engine invocations run at once. Slots model physical
// GPUs, so a stage must hold a lease for the full duration of its engine
// call and release it no matter how the call ends.
type Gate struct {
	slots chan struct{}
}

// NewGate builds a gate with n slots. Anything below one is clamped to one.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot frees or ctx ends.
func (g *Gate) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case g.slots <- struct{}{}:
		return &Lease{gate: g}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes a slot without blocking. Returns nil when none is free.
func (g *Gate) TryAcquire() *Lease {
	select {
	case g.slots <- struct{}{}:
		return &Lease{gate: g}
	default:
		return nil
	}
}

// InUse reports how many slots are currently held.
func (g *Gate) InUse() int {
	return len(g.slots)
}

// Lease is one held slot. Release is safe to call more than once and safe on
// a nil lease, so callers can defer it unconditionally.
type Lease struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot to the gate.
func (l *Lease) Release() {
	if l == nil || l.gate == nil {
		return
	}
	l.once.Do(func() {
		<-l.gate.slots
	})
}

// Package concurrency implements the scheduler's two-level admission
// control: a global counting semaphore plus a lazily-created per-host
// counting semaphore, acquired global-then-host and released
// host-then-global on every exit path. The per-host map uses
// github.com/puzpuzpuz/xsync/v4, the same concurrent map the
// github.com/resin-proxy/resin topology package uses for its node pool
// and subscription registry.
package concurrency

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// Guards is the global + per-host admission gate. Zero value is not
// usable; construct with NewGuards.
type Guards struct {
	global  chan struct{}
	perHost int
	hosts   *xsync.Map[string, chan struct{}]
}

// NewGuards creates a Guards with the given global capacity and per-host
// capacity. Per-host semaphores are created on first use and never
// destroyed for the process lifetime (bounded by distinct host count).
func NewGuards(globalCap, perHostCap int) *Guards {
	if globalCap <= 0 {
		globalCap = 64
	}
	if perHostCap <= 0 {
		perHostCap = 4
	}
	return &Guards{
		global:  make(chan struct{}, globalCap),
		perHost: perHostCap,
		hosts:   xsync.NewMap[string, chan struct{}](),
	}
}

func (g *Guards) hostSem(host string) chan struct{} {
	sem, _ := g.hosts.Load(host)
	if sem != nil {
		return sem
	}
	g.hosts.Compute(host, func(existing chan struct{}, loaded bool) (chan struct{}, xsync.ComputeOp) {
		if loaded {
			sem = existing
			return existing, xsync.CancelOp
		}
		sem = make(chan struct{}, g.perHost)
		return sem, xsync.UpdateOp
	})
	return sem
}

// Release is returned by Acquire and undoes exactly the slots that were
// successfully taken, in host-then-global order. Calls after the first do
// nothing.
type Release func()

// Acquire takes a global slot, then a per-host slot for host, blocking
// until both succeed or ctx is done. On a context cancellation after the
// global slot was taken but before the host slot was, the global slot is
// released before returning the error — no guard is ever leaked.
func (g *Guards) Acquire(ctx context.Context, host string) (Release, error) {
	select {
	case g.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sem := g.hostSem(host)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		<-g.global
		return nil, ctx.Err()
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-sem
		<-g.global
	}, nil
}

// GlobalInFlight reports the current global in-flight count, for
// operational status reporting (internal/statusapi).
func (g *Guards) GlobalInFlight() int {
	return len(g.global)
}

// GlobalCapacity reports the configured global capacity.
func (g *Guards) GlobalCapacity() int {
	return cap(g.global)
}

// HostInFlight reports the current in-flight count for a host. Returns 0
// for a host with no semaphore created yet.
func (g *Guards) HostInFlight(host string) int {
	sem, ok := g.hosts.Load(host)
	if !ok {
		return 0
	}
	return len(sem)
}

// HostCount reports the number of distinct hosts with a semaphore
// created so far.
func (g *Guards) HostCount() int {
	n := 0
	g.hosts.Range(func(string, chan struct{}) bool {
		n++
		return true
	})
	return n
}

package tracker

import (
	"context"
	"testing"

	"github.com/dzen-platform/nodetracker/cmn"
)

func TestGatesBoundConcurrency(t *testing.T) {
	g := newGates(1, 1, 1)
	ctx := context.Background()

	if err := g.acquireRegistration(ctx); err != nil {
		t.Fatalf("acquireRegistration: %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := g.acquireRegistration(cctx); err == nil {
		t.Fatalf("expected acquireRegistration to fail once the single slot is held and the context is cancelled")
	}
	g.releaseRegistration()
	if err := g.acquireRegistration(ctx); err != nil {
		t.Fatalf("acquireRegistration after release: %v", err)
	}
	g.releaseRegistration()
}

func TestRemovalQueueFIFOAndDedup(t *testing.T) {
	q := newRemovalQueue()
	q.push(cmn.NodeID(1))
	q.push(cmn.NodeID(2))
	q.push(cmn.NodeID(1)) // duplicate, should not requeue

	if got := q.len(); got != 2 {
		t.Fatalf("len() = %d, want 2", got)
	}

	id, ok := q.popFront()
	if !ok || id != cmn.NodeID(1) {
		t.Fatalf("popFront() = (%v, %v), want (1, true)", id, ok)
	}
	id, ok = q.popFront()
	if !ok || id != cmn.NodeID(2) {
		t.Fatalf("popFront() = (%v, %v), want (2, true)", id, ok)
	}
	if _, ok := q.popFront(); ok {
		t.Fatalf("expected popFront on an empty queue to report ok=false")
	}
}

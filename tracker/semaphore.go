package tracker

import (
	"container/list"
	"context"
	"sync"

	"github.com/dzen-platform/nodetracker/cmn"
	"golang.org/x/sync/semaphore"
)

// gates bounds how many Register/IncrementalHeartbeat calls the tracker
// processes concurrently, the same backpressure role aistore's
// fs/mpather jogger group gives golang.org/x/sync/errgroup plus a
// goroutine cap, generalized here to three independent weighted
// semaphores sized straight from config. The unregistration semaphore
// is sized too, but no tracker method acquires it.
type gates struct {
	registrations   *semaphore.Weighted
	unregistrations *semaphore.Weighted
	incrHeartbeats  *semaphore.Weighted
}

func newGates(maxRegistrations, maxUnregistrations, incrConcurrency int) *gates {
	return &gates{
		registrations:   semaphore.NewWeighted(int64(maxRegistrations)),
		unregistrations: semaphore.NewWeighted(int64(maxUnregistrations)),
		incrHeartbeats:  semaphore.NewWeighted(int64(incrConcurrency)),
	}
}

func (g *gates) acquireRegistration(ctx context.Context) error {
	return g.registrations.Acquire(ctx, 1)
}
func (g *gates) releaseRegistration() { g.registrations.Release(1) }

func (g *gates) acquireUnregistration(ctx context.Context) error {
	return g.unregistrations.Acquire(ctx, 1)
}
func (g *gates) releaseUnregistration() { g.unregistrations.Release(1) }

func (g *gates) acquireIncrHeartbeat(ctx context.Context) error {
	return g.incrHeartbeats.Acquire(ctx, 1)
}
func (g *gates) releaseIncrHeartbeat() { g.incrHeartbeats.Release(1) }

// removalQueue is the FIFO of node ids awaiting a remove mutation,
// enqueued by applyUnregister and drained on its own timer by
// DrainRemovalQueue rather than inline with the unregister, so a burst
// of lease expirations never blocks heartbeat traffic.
type removalQueue struct {
	mu    sync.Mutex
	order *list.List
	index map[cmn.NodeID]*list.Element
}

func newRemovalQueue() *removalQueue {
	return &removalQueue{order: list.New(), index: make(map[cmn.NodeID]*list.Element)}
}

func (q *removalQueue) push(id cmn.NodeID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[id]; ok {
		return
	}
	q.index[id] = q.order.PushBack(id)
}

// popFront removes and returns the oldest enqueued id, ok=false if empty.
func (q *removalQueue) popFront() (cmn.NodeID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.order.Front()
	if front == nil {
		return cmn.InvalidNodeID, false
	}
	id := front.Value.(cmn.NodeID)
	q.order.Remove(front)
	delete(q.index, id)
	return id, true
}

func (q *removalQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

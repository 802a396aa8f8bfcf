package tracker

import (
	"context"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/golang/glog"
)

// SweepExpiredLeases scans every node for an expired lease and submits an
// unregister mutation for each one found. Meant to be called on a ticker by the owning process;
// mirrors aistore's periodic housekeeping goroutines (e.g.
// ais/housekeep.go) in shape, generalized to this domain's one sweep.
func (t *Tracker) SweepExpiredLeases(ctx context.Context) {
	now := time.Now()
	for _, n := range t.registry.AllNodes() {
		if !n.LeaseExpired(now) {
			continue
		}
		if n.LocalState() != cluster.LifecycleRegistered && n.LocalState() != cluster.LifecycleOnline {
			continue
		}
		m := NewMutation(MutationUnregister, UnregisterPayload{NodeID: n.ID(), Reason: "lease expired"})
		if err := t.log.Submit(ctx, m); err != nil {
			glog.Errorf("tracker: failed to submit unregister for %s on lease expiry: %v", n, err)
		}
	}
}

// DrainRemovalQueue processes the FIFO of nodes enqueued by every
// committed unregister (lease expiry among them; a default-address
// kick-out is removed synchronously by forceUnregister instead) by
// submitting a removal mutation for each, at most maxBatch per call, on
// the interval config.Registration.RemovalQueueDrainInterval.
func (t *Tracker) DrainRemovalQueue(ctx context.Context, maxBatch int) {
	for i := 0; i < maxBatch; i++ {
		id, ok := t.removals.popFront()
		if !ok {
			return
		}
		m := NewMutation(MutationRemove, RemovePayload{NodeID: id})
		if err := t.log.Submit(ctx, m); err != nil {
			glog.Errorf("tracker: failed to submit removal for node %d: %v", id, err)
			t.removals.push(id)
			return
		}
	}
}

func (t *Tracker) applyUnregister(p UnregisterPayload) error {
	n, err := t.registry.GetNodeOrThrow(p.NodeID)
	if err != nil {
		return err
	}
	if err := transitionNode(n, cluster.LifecycleUnregistered, t.signals); err != nil {
		return err
	}
	t.registry.UnregisterLeaseTransaction(n)
	glog.Infof("tracker: %s unregistered: %s", n, p.Reason)
	t.removals.push(n.ID())
	return nil
}

func (t *Tracker) applyRemove(p RemovePayload) error {
	n, ok := t.registry.FindNode(p.NodeID)
	if !ok {
		return nil // already removed; idempotent
	}
	t.registry.UnregisterLeaseTransaction(n)
	t.registry.RemoveNode(p.NodeID)
	t.signals.FireRemoved(p.NodeID)
	return nil
}

package tracker

import (
	"context"
	"strconv"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/config"
	"github.com/golang/glog"
)

type (
	RegisterRequest struct {
		// NodeID, if valid, asks to re-register an existing node (e.g.
		// after an unregister); zero asks the tracker to allocate a fresh
		// one via the registry's id allocator.
		NodeID    cmn.NodeID
		Addresses map[string]string
		UserTags  []string
		NodeTags  []string
		Flavors   cluster.Flavor
		HostName  string
	}

	RegisterResponse struct {
		NodeID  cmn.NodeID
		LeaseID string
	}
)

// Register is gated by the registration semaphore; it allocates an id if
// needed and submits an opaque mutation record — the actual Node
// construction/update happens later, in applyRegister, once the record
// comes back committed.
func (t *Tracker) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if err := t.requireLeader(); err != nil {
		return nil, err
	}
	if err := t.gates.acquireRegistration(ctx); err != nil {
		return nil, err
	}
	defer t.gates.releaseRegistration()

	id := req.NodeID
	if id.Valid() {
		if n, ok := t.registry.FindNode(id); ok && n.Banned() {
			return nil, &cmn.ErrBanned{NodeID: strconv.Itoa(int(id))}
		}
	} else {
		var err error
		id, err = t.registry.GenerateNodeID()
		if err != nil {
			return nil, err
		}
	}

	leaseID := cmn.GenUUID()
	payload := RegisterPayload{
		NodeID:       id,
		Addresses:    req.Addresses,
		UserTags:     req.UserTags,
		NodeTags:     req.NodeTags,
		Flavors:      int(req.Flavors),
		HostName:     req.HostName,
		LeaseID:      leaseID,
		LeaseTimeout: config.GCO.Get().Registration.RegisteredNodeTimeout,
	}
	m := NewMutation(MutationRegister, payload)
	if err := t.log.Submit(ctx, m); err != nil {
		return nil, err
	}
	return &RegisterResponse{NodeID: id, LeaseID: leaseID}, nil
}

// applyRegister builds the node on its very first registration, or
// refreshes it on re-registration, then transitions it to Registered.
// If some other node is already registered at the address this
// registration would claim as its default, that other node is
// force-unregistered first — two nodes never share a default address.
func (t *Tracker) applyRegister(p RegisterPayload) error {
	n, existed := t.registry.FindNode(p.NodeID)
	if !existed {
		n = cluster.NewNode(p.NodeID, t.registry.AddressPriority())
	}

	t.registry.SetNodeFlavors(n, cluster.Flavor(p.Flavors))
	t.registry.SetNodeUserTags(n, p.UserTags)
	t.registry.SetNodeNodeTags(n, p.NodeTags)

	// Note who currently holds each reported address before
	// ReplaceNodeAddresses repoints the address index at n.
	holders := make(map[string]*cluster.Node, len(p.Addresses))
	for _, addr := range p.Addresses {
		if other, ok := t.registry.FindNodeByAddress(addr); ok && other.ID() != n.ID() {
			holders[addr] = other
		}
	}
	t.registry.ReplaceNodeAddresses(n, p.Addresses)

	if other, ok := holders[n.DefaultAddress()]; ok {
		glog.Warningf("tracker: %s claims default address %q already held by %s; kicking out the old holder",
			n, n.DefaultAddress(), other)
		if err := t.forceUnregister(other, "default address reassigned to node "+strconv.Itoa(int(n.ID()))); err != nil {
			return err
		}
		// RemoveNode dropped the shared address from the index; point it back at n.
		t.registry.ReplaceNodeAddresses(n, p.Addresses)
	}

	if !existed {
		t.registry.InsertNode(n)
	}

	if host, ok := t.registry.FindHostByName(p.HostName); ok {
		t.registry.BindNodeToHost(n, host)
	}

	n.ApplyHeartbeatsReset()
	n.ApplyLastSeen(time.Now())
	n.ApplyRegisterTime(time.Now())

	if err := transitionNode(n, cluster.LifecycleRegistered, t.signals); err != nil {
		return err
	}

	lease := &cluster.LeaseTransaction{ID: p.LeaseID, Timeout: p.LeaseTimeout}
	t.registry.RegisterLeaseTransaction(n, lease)
	cfg := config.GCO.Get()
	n.ApplyLeaseRenewal(time.Now(), cfg.Registration.RegisteredNodeTimeout, cfg.Registration.OnlineNodeTimeout)
	return nil
}

// forceUnregister moves n straight to Unregistered and removes it from
// the registry synchronously, bypassing the RPC path and the async
// removal queue — used internally when the tracker itself (not an
// external caller) decides a node must go before some other node can
// claim its place, e.g. a default-address collision.
func (t *Tracker) forceUnregister(n *cluster.Node, reason string) error {
	if n.LocalState() == cluster.LifecycleUnregistered {
		return nil
	}
	if err := transitionNode(n, cluster.LifecycleUnregistered, t.signals); err != nil {
		return err
	}
	glog.Infof("tracker: %s unregistered: %s", n, reason)
	t.registry.UnregisterLeaseTransaction(n)
	t.registry.RemoveNode(n.ID())
	t.signals.FireRemoved(n.ID())
	return nil
}

package tracker

import (
	"context"
	"testing"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/config"
)

// directLog applies every submitted mutation to the tracker immediately,
// the same role cmd/nodetrackerd's localLog plays for a standalone
// process, so tests can drive Register/Heartbeat end to end without a
// real consensus pipeline.
type directLog struct {
	t *Tracker
}

func (l *directLog) Submit(_ context.Context, m *Mutation) error {
	return l.t.Apply(m)
}

func newTestTracker(t *testing.T, leader bool) *Tracker {
	t.Helper()
	config.GCO.Put(config.Default())
	registry := cluster.NewRegistry(8, []string{"public"})
	signals := cluster.NewSignals()
	log := &directLog{}
	tr := New(registry, signals, log)
	log.t = tr
	tr.SetLeader(leader)
	return tr
}

func TestRegisterRequiresLeader(t *testing.T) {
	tr := newTestTracker(t, false)
	_, err := tr.Register(context.Background(), &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if _, ok := err.(*cmn.ErrNotLeader); !ok {
		t.Fatalf("expected ErrNotLeader from a non-leader cell, got %v", err)
	}
}

func TestRegisterTransitionsNodeToRegistered(t *testing.T) {
	tr := newTestTracker(t, true)
	resp, err := tr.Register(context.Background(), &RegisterRequest{
		Addresses: map[string]string{"public": "1.1.1.1:1"},
		Flavors:   cluster.FlavorData,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !resp.NodeID.Valid() {
		t.Fatalf("expected a valid generated node id")
	}
	n, ok := tr.registry.FindNode(resp.NodeID)
	if !ok {
		t.Fatalf("expected the registered node to be findable")
	}
	if n.LocalState() != cluster.LifecycleRegistered {
		t.Fatalf("LocalState() = %v, want LifecycleRegistered", n.LocalState())
	}
	if n.Lease() == nil || n.Lease().ID != resp.LeaseID {
		t.Fatalf("expected node's lease to match the returned lease id")
	}
}

func TestRegisterKicksOutAddressCollision(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	first, err := tr.Register(ctx, &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if err != nil {
		t.Fatalf("Register (first): %v", err)
	}
	second, err := tr.Register(ctx, &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if err != nil {
		t.Fatalf("Register (second): %v", err)
	}

	if _, ok := tr.registry.FindNode(first.NodeID); ok {
		t.Fatalf("expected the first node to be synchronously removed on address collision")
	}
	secondNode, _ := tr.registry.FindNode(second.NodeID)
	if secondNode.LocalState() != cluster.LifecycleRegistered {
		t.Fatalf("expected the second node to hold the address as Registered, got %v", secondNode.LocalState())
	}
}

func TestFullHeartbeatDrivesOnlineTransition(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	resp, err := tr.Register(ctx, &RegisterRequest{
		Addresses: map[string]string{"public": "1.1.1.1:1"},
		Flavors:   cluster.FlavorData,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	err = tr.FullHeartbeat(ctx, &FullHeartbeatRequest{
		NodeID: resp.NodeID,
		Kind:   cluster.HeartbeatData,
		Statistics: map[string]cluster.PerMediumStat{
			"disk0": {UsedSpace: 10, TotalSpace: 100},
		},
	})
	if err != nil {
		t.Fatalf("FullHeartbeat: %v", err)
	}

	n, _ := tr.registry.FindNode(resp.NodeID)
	if n.LocalState() != cluster.LifecycleOnline {
		t.Fatalf("LocalState() = %v, want LifecycleOnline after the required heartbeat kind is reported", n.LocalState())
	}
}

func TestIncrementalHeartbeatRequiresKnownNode(t *testing.T) {
	tr := newTestTracker(t, true)
	err := tr.IncrementalHeartbeat(context.Background(), &IncrementalHeartbeatRequest{
		NodeID: cmn.NodeID(999),
		Kind:   cluster.HeartbeatData,
	})
	if err == nil {
		t.Fatalf("expected an error for a heartbeat from an unknown node")
	}
}

func TestIncrementalHeartbeatRejectsNonOnlineNode(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	resp, err := tr.Register(ctx, &RegisterRequest{
		Addresses: map[string]string{"public": "1.1.1.1:1"},
		Flavors:   cluster.FlavorData,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	err = tr.IncrementalHeartbeat(ctx, &IncrementalHeartbeatRequest{
		NodeID: resp.NodeID,
		Kind:   cluster.HeartbeatData,
	})
	if _, ok := err.(*cmn.ErrInvalidState); !ok {
		t.Fatalf("expected ErrInvalidState for an incremental heartbeat from a Registered (not yet Online) node, got %v", err)
	}
}

func TestFullHeartbeatRejectsNodeAlreadyOnline(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	resp, err := tr.Register(ctx, &RegisterRequest{
		Addresses: map[string]string{"public": "1.1.1.1:1"},
		Flavors:   cluster.FlavorData,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := tr.FullHeartbeat(ctx, &FullHeartbeatRequest{
		NodeID: resp.NodeID,
		Kind:   cluster.HeartbeatData,
		Statistics: map[string]cluster.PerMediumStat{
			"disk0": {UsedSpace: 10, TotalSpace: 100},
		},
	}); err != nil {
		t.Fatalf("FullHeartbeat: %v", err)
	}

	err = tr.FullHeartbeat(ctx, &FullHeartbeatRequest{
		NodeID: resp.NodeID,
		Kind:   cluster.HeartbeatData,
		Statistics: map[string]cluster.PerMediumStat{
			"disk0": {UsedSpace: 20, TotalSpace: 100},
		},
	})
	if _, ok := err.(*cmn.ErrInvalidState); !ok {
		t.Fatalf("expected ErrInvalidState for a full heartbeat once the node is Online, got %v", err)
	}
}

func TestRegisterRejectsBannedNode(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	resp, err := tr.Register(ctx, &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := tr.RequestMaintenance(ctx, &MaintenanceRequestRequest{
		NodeID:         resp.NodeID,
		RequestID:      "req1",
		RequestingUser: "alice",
		Kind:           cluster.MaintenanceBan,
	}); err != nil {
		t.Fatalf("RequestMaintenance: %v", err)
	}

	_, err = tr.Register(ctx, &RegisterRequest{
		NodeID:    resp.NodeID,
		Addresses: map[string]string{"public": "1.1.1.1:1"},
	})
	if _, ok := err.(*cmn.ErrBanned); !ok {
		t.Fatalf("expected ErrBanned when re-registering a banned node, got %v", err)
	}
}

func TestMaintenanceRequestAndClear(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	resp, err := tr.Register(ctx, &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	err = tr.RequestMaintenance(ctx, &MaintenanceRequestRequest{
		NodeID:         resp.NodeID,
		RequestID:      "req1",
		RequestingUser: "alice",
		Kind:           cluster.MaintenanceBan,
	})
	if err != nil {
		t.Fatalf("RequestMaintenance: %v", err)
	}
	n, _ := tr.registry.FindNode(resp.NodeID)
	if !n.Banned() {
		t.Fatalf("expected node to be banned after RequestMaintenance")
	}

	if err := tr.ClearMaintenance(ctx, &MaintenanceClearRequest{NodeID: resp.NodeID, RequestID: "req1"}); err != nil {
		t.Fatalf("ClearMaintenance: %v", err)
	}
	if n.Banned() {
		t.Fatalf("expected node to no longer be banned after ClearMaintenance")
	}
}

func TestSweepExpiredLeasesUnregistersAndDrains(t *testing.T) {
	tr := newTestTracker(t, true)
	ctx := context.Background()

	cfg := config.GCO.BeginUpdate()
	cfg.Registration.RegisteredNodeTimeout = 0
	config.GCO.CommitUpdate(cfg)

	resp, err := tr.Register(ctx, &RegisterRequest{Addresses: map[string]string{"public": "1.1.1.1:1"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	tr.SweepExpiredLeases(ctx)

	n, _ := tr.registry.FindNode(resp.NodeID)
	if n.LocalState() != cluster.LifecycleUnregistered {
		t.Fatalf("LocalState() = %v, want LifecycleUnregistered after lease sweep", n.LocalState())
	}

	tr.DrainRemovalQueue(ctx, 10)
	if _, ok := tr.registry.FindNode(resp.NodeID); ok {
		t.Fatalf("expected node to be removed after draining the removal queue")
	}
}

func TestApplyRejectsMismatchedPayload(t *testing.T) {
	tr := newTestTracker(t, true)
	err := tr.Apply(&Mutation{Kind: MutationRegister, Payload: "not a RegisterPayload"})
	if err == nil {
		t.Fatalf("expected Apply to reject a mismatched payload type")
	}
}

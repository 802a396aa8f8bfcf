package cluster

import (
	"testing"
	"time"

	"github.com/dzen-platform/nodetracker/cmn"
)

func TestFlavorHas(t *testing.T) {
	f := FlavorData | FlavorTablet
	if !f.Has(FlavorData) {
		t.Errorf("expected FlavorData to be set")
	}
	if f.Has(FlavorExec) {
		t.Errorf("did not expect FlavorExec to be set")
	}
	if !f.Has(FlavorTablet) {
		t.Errorf("expected FlavorTablet to be set")
	}
}

func TestReadyForOnline(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.setFlavors(FlavorData | FlavorExec)

	if n.readyForOnline() {
		t.Fatalf("node should not be ready for online before any heartbeat")
	}
	n.recordHeartbeat(HeartbeatData)
	if n.readyForOnline() {
		t.Fatalf("node should not be ready until every required kind is reported")
	}
	n.recordHeartbeat(HeartbeatExec)
	if !n.readyForOnline() {
		t.Fatalf("node should be ready once every required heartbeat kind is reported")
	}

	n.resetHeartbeatsReported()
	if n.readyForOnline() {
		t.Fatalf("reset should clear readiness")
	}
}

func TestSetAddressesDerivesDefaultAndServiceHost(t *testing.T) {
	n := NewNode(cmn.NodeID(1), []string{"public", "internal"})
	n.setAddresses(map[string]string{
		"internal": "10.0.0.1:8080",
		"public":   "1.2.3.4:9090",
	})
	if got := n.DefaultAddress(); got != "1.2.3.4:9090" {
		t.Fatalf("expected public address to win priority, got %q", got)
	}
	if got := n.ServiceHostName(); got != "1.2.3.4" {
		t.Fatalf("expected service host name without port, got %q", got)
	}
}

func TestSetAddressesFallsBackToLowestNetworkName(t *testing.T) {
	n := NewNode(cmn.NodeID(1), []string{"public"})
	n.setAddresses(map[string]string{
		"storage": "10.0.0.9:1000",
		"backup":  "10.0.0.8:1000",
	})
	if got := n.DefaultAddress(); got != "10.0.0.8:1000" {
		t.Fatalf("expected deterministic fallback to lowest network name, got %q", got)
	}
}

func TestMaintenanceRequests(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	now := time.Now()
	n.AddMaintenanceRequest("req1", "alice", MaintenanceBan, "bad disk", now)
	if !n.Banned() {
		t.Fatalf("expected node to be banned")
	}
	n.AddMaintenanceRequest("req2", "alice", MaintenanceDecommission, "", now)
	if !n.Decommissioned() {
		t.Fatalf("expected node to be decommissioned")
	}
	n.RemoveMaintenanceRequest("req1")
	if n.Banned() {
		t.Fatalf("expected node to no longer be banned after removal")
	}
	if !n.Decommissioned() {
		t.Fatalf("removing one request should not affect another")
	}
}

func TestMergeStatisticsGracePeriod(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.SetResourceLimits(map[string]int64{"disk0": 1000})

	n.mergeStatistics(map[string]PerMediumStat{
		"disk0": {UsedSpace: 900, TotalSpace: 1000, SessionCount: 3},
	}, true)
	stats := n.PerMediumStats()
	st, ok := stats["disk0"]
	if !ok {
		t.Fatalf("expected disk0 entry")
	}
	if st.FillFactor != 0 {
		t.Errorf("expected fill factor 0 during grace period, got %v", st.FillFactor)
	}
	if st.IOWeight != 1 {
		t.Errorf("expected IO weight 1 during grace period, got %v", st.IOWeight)
	}
}

func TestMergeStatisticsComputesFillFactor(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.SetResourceLimits(map[string]int64{"disk0": 1000})

	n.mergeStatistics(map[string]PerMediumStat{
		"disk0": {UsedSpace: 900, TotalSpace: 1000},
	}, false)
	st := n.PerMediumStats()["disk0"]
	if st.FillFactor != 0.9 {
		t.Errorf("expected fill factor 0.9, got %v", st.FillFactor)
	}

	// overrides take precedence over limits
	n.SetResourceOverrides(map[string]int64{"disk0": 1800})
	n.mergeStatistics(map[string]PerMediumStat{
		"disk0": {UsedSpace: 900, TotalSpace: 1000},
	}, false)
	st = n.PerMediumStats()["disk0"]
	if st.FillFactor != 0.5 {
		t.Errorf("expected override-limit-derived fill factor 0.5, got %v", st.FillFactor)
	}
}

func TestMergeStatisticsFillFactorClamped(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.SetResourceLimits(map[string]int64{"disk0": 100})
	n.mergeStatistics(map[string]PerMediumStat{
		"disk0": {UsedSpace: 500, TotalSpace: 1000},
	}, false)
	st := n.PerMediumStats()["disk0"]
	if st.FillFactor != 1 {
		t.Errorf("expected fill factor clamped to 1, got %v", st.FillFactor)
	}
}

func TestHintedSessions(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.SetResourceLimits(map[string]int64{"disk0": 1000})
	n.mergeStatistics(map[string]PerMediumStat{
		"disk0": {UsedSpace: 10, TotalSpace: 1000, SessionCount: 5},
	}, false)
	n.AddSessionHint("user", "disk0", 2)
	n.AddSessionHint("replication", "disk0", 1)

	got := n.HintedSessions("disk0", 3)
	// reported(5) + hostCellCount(3) * hints(2+1+0)
	want := int64(5 + 3*3)
	if got != want {
		t.Errorf("HintedSessions() = %d, want %d", got, want)
	}
}

func TestChunkReplicaCount(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.setLocalState(LifecycleOnline)
	n.recordHeartbeat(HeartbeatData)

	n.AddApprovedReplica(ReplicaRef{ChunkID: "c1", MediumIndex: 0})
	n.AddApprovedReplica(ReplicaRef{ChunkID: "c2", MediumIndex: 0})
	n.AddApprovedReplica(ReplicaRef{ChunkID: "c3", MediumIndex: 1})

	if got := n.ChunkReplicaCount(); got != 3 {
		t.Errorf("ChunkReplicaCount() = %d, want 3", got)
	}

	n.MarkDestroyed(ReplicaRef{ChunkID: "c4", MediumIndex: 0})
	if got := n.DestroyedChunkReplicaCount(); got != 1 {
		t.Errorf("DestroyedChunkReplicaCount() = %d, want 1", got)
	}
}

func TestEffectiveTagsIncludesDerivedNames(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.setUserTags([]string{"gpu"})
	n.setNodeTags([]string{"ssd"})
	n.setAddresses(map[string]string{"default": "host-a:80"})

	tags := n.EffectiveTags()
	want := map[string]bool{"gpu": true, "ssd": true, "host-a": true}
	if len(tags) != len(want) {
		t.Fatalf("EffectiveTags() = %v, want keys %v", tags, want)
	}
	for _, tag := range tags {
		if !want[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

func TestRenewLeaseUsesStateAppropriateTimeout(t *testing.T) {
	n := NewNode(cmn.NodeID(1), nil)
	n.setLease(&LeaseTransaction{ID: "l1"})
	n.setLocalState(LifecycleRegistered)

	now := time.Now()
	n.renewLease(now, 30*time.Second, 5*time.Minute)
	if n.Lease().Timeout != 30*time.Second {
		t.Errorf("expected registered-state timeout, got %v", n.Lease().Timeout)
	}

	n.setLocalState(LifecycleOnline)
	n.renewLease(now, 30*time.Second, 5*time.Minute)
	if n.Lease().Timeout != 5*time.Minute {
		t.Errorf("expected online-state timeout, got %v", n.Lease().Timeout)
	}
	if !n.leaseExpired(now.Add(6 * time.Minute)) {
		t.Errorf("expected lease to be expired 6m after renewal with a 5m timeout")
	}
}

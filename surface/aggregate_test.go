package surface

import (
	"testing"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
)

func TestComputeAggregateCounts(t *testing.T) {
	reg := cluster.NewRegistry(8, nil)

	n1 := cluster.NewNode(cmn.NodeID(1), nil)
	n1.ApplyLocalState(cluster.LifecycleOnline)
	n1.SetResourceLimits(map[string]int64{"disk0": 1000})
	n1.ApplyStatistics(map[string]cluster.PerMediumStat{
		"disk0": {UsedSpace: 960, TotalSpace: 1000},
	}, false)
	reg.InsertNode(n1)

	n2 := cluster.NewNode(cmn.NodeID(2), nil)
	n2.AddMaintenanceRequest("req1", "alice", cluster.MaintenanceBan, "", time.Now())
	n2.ApplyAlerts([]string{"disk failing"})
	reg.InsertNode(n2)

	agg := ComputeAggregate(reg)
	if agg.TotalNodes != 2 {
		t.Errorf("TotalNodes = %d, want 2", agg.TotalNodes)
	}
	if agg.Online != 1 {
		t.Errorf("Online = %d, want 1", agg.Online)
	}
	if agg.Banned != 1 {
		t.Errorf("Banned = %d, want 1", agg.Banned)
	}
	if agg.WithAlerts != 1 {
		t.Errorf("WithAlerts = %d, want 1", agg.WithAlerts)
	}
	if agg.Full != 1 {
		t.Errorf("Full = %d, want 1 (fill factor 0.96 >= 0.95)", agg.Full)
	}
	ms, ok := agg.PerMedium["disk0"]
	if !ok {
		t.Fatalf("expected a disk0 entry in PerMedium")
	}
	if ms.Used != 960 || ms.Available != 40 {
		t.Errorf("PerMedium[disk0] = %+v, want Used=960 Available=40", ms)
	}
}

func TestComputeAggregateEmptyRegistry(t *testing.T) {
	reg := cluster.NewRegistry(8, nil)
	agg := ComputeAggregate(reg)
	if agg.TotalNodes != 0 {
		t.Errorf("TotalNodes = %d, want 0", agg.TotalNodes)
	}
	if len(agg.PerMedium) != 0 {
		t.Errorf("expected an empty PerMedium map, got %v", agg.PerMedium)
	}
}

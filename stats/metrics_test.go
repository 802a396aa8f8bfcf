package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
)

func TestCollectorRefreshReflectsRegistry(t *testing.T) {
	registry := cluster.NewRegistry(8, nil)
	reg := prometheus.NewRegistry()
	c := NewCollector(registry, reg)

	n := cluster.NewNode(cmn.NodeID(1), nil)
	n.ApplyLocalState(cluster.LifecycleOnline)
	registry.InsertNode(n)

	c.Refresh()

	if got := testutil.ToFloat64(c.totalNodes); got != 1 {
		t.Errorf("totalNodes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.online); got != 1 {
		t.Errorf("online = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.banned); got != 0 {
		t.Errorf("banned = %v, want 0", got)
	}
}

func TestWireRefreshesOnSignals(t *testing.T) {
	registry := cluster.NewRegistry(8, nil)
	signals := cluster.NewSignals()
	reg := prometheus.NewRegistry()
	c := NewCollector(registry, reg)
	c.Wire(signals)

	n := cluster.NewNode(cmn.NodeID(1), nil)
	registry.InsertNode(n)
	signals.FireRegistered(n)

	if got := testutil.ToFloat64(c.totalNodes); got != 1 {
		t.Errorf("totalNodes after FireRegistered = %v, want 1", got)
	}

	registry.RemoveNode(n.ID())
	signals.FireRemoved(n.ID())
	if got := testutil.ToFloat64(c.totalNodes); got != 0 {
		t.Errorf("totalNodes after FireRemoved = %v, want 0", got)
	}
}

package cluster

import (
	"testing"

	"github.com/dzen-platform/nodetracker/cmn"
)

func TestRackIndexAllocator(t *testing.T) {
	a := newRackIndexAllocator(3)

	idx1, err := a.Allocate()
	if err != nil || idx1 != 1 {
		t.Fatalf("Allocate() = (%d, %v), want (1, nil)", idx1, err)
	}
	idx2, err := a.Allocate()
	if err != nil || idx2 != 2 {
		t.Fatalf("Allocate() = (%d, %v), want (2, nil)", idx2, err)
	}
	idx3, err := a.Allocate()
	if err != nil || idx3 != 3 {
		t.Fatalf("Allocate() = (%d, %v), want (3, nil)", idx3, err)
	}
	if _, err := a.Allocate(); err == nil {
		t.Fatalf("expected ErrLimitReached once the pool is exhausted")
	}

	a.Free(idx2)
	idx4, err := a.Allocate()
	if err != nil || idx4 != idx2 {
		t.Fatalf("expected freed index %d to be reused, got (%d, %v)", idx2, idx4, err)
	}
}

func TestRackIndexAllocatorReserveAndReset(t *testing.T) {
	a := newRackIndexAllocator(4)
	a.Reserve(2)
	if idx, err := a.Allocate(); err != nil || idx == 2 {
		t.Fatalf("Allocate() should skip reserved index 2, got (%d, %v)", idx, err)
	}
	a.Reset()
	idx, err := a.Allocate()
	if err != nil || idx != 1 {
		t.Fatalf("after Reset Allocate() = (%d, %v), want (1, nil)", idx, err)
	}
}

func TestHostNodeBinding(t *testing.T) {
	rk := NewRack(1, "rack-a", 1)
	h := NewHost(1, "host-a", rk)
	n1 := NewNode(cmn.NodeID(1), nil)
	n2 := NewNode(cmn.NodeID(2), nil)

	h.addNode(n1)
	h.addNode(n2)
	if got := len(h.Nodes()); got != 2 {
		t.Fatalf("Nodes() len = %d, want 2", got)
	}

	h.removeNode(n1.ID())
	nodes := h.Nodes()
	if len(nodes) != 1 || nodes[0].ID() != n2.ID() {
		t.Fatalf("unexpected nodes after removeNode: %v", nodes)
	}
}

func TestRackDataCenterName(t *testing.T) {
	rk := NewRack(1, "rack-a", 1)
	if got := rk.DataCenterName(); got != "" {
		t.Fatalf("expected empty DC name for unbound rack, got %q", got)
	}
	dc := NewDataCenter(1, "dc-a")
	rk.setDC(dc)
	if got := rk.DataCenterName(); got != "dc-a" {
		t.Fatalf("DataCenterName() = %q, want dc-a", got)
	}
}

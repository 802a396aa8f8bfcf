// Package cluster holds the node tracker's core domain objects: the
// physical-topology containers (DataCenter, Rack, Host) and the Node
// object itself, modeled on aistore's cluster/map.go (Snode, Smap)
// but generalized to the richer lifecycle, lease, and chunk-bookkeeping
// state a node tracker needs.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"sync"

	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/debug"
)

type (
	// DataCenter (C1): a named container of Racks. Immutable once created
	// except by explicit rename.
	DataCenter struct {
		mu sync.RWMutex
		id uint64
		name string
		index int // dense index in [1, MaxDCIndex], 0 = unassigned
	}

	// Rack (C1): a named container of Hosts, with a dense index in
	// [1,63] (0 reserved for "no rack") and an optional DataCenter
	// back-pointer.
	Rack struct {
		mu sync.RWMutex
		id uint64
		name string
		index int // dense index, MinRackIndex..MaxRackIndex
		dc *DataCenter
	}

	// Host (C1): a named container of Nodes, with a mandatory Rack
	// back-pointer.
	Host struct {
		mu sync.RWMutex
		id uint64
		name string
		rack *Rack
		nodes map[cmn.NodeID]*Node
	}

	// rackIndexAllocator hands out dense indices in [1,63] for fast
	// bitset-valued rack filters elsewhere in the cluster. A 64-bit word tracks used bits; bit 0 is always
	// considered used (reserved for "no rack").
	rackIndexAllocator struct {
		mu sync.Mutex
		used uint64 // bit i set => index i in use; bit 0 always set
		max int // inclusive upper bound, default 63
	}
)

func newRackIndexAllocator(max int) *rackIndexAllocator {
	if max <= 0 || max > cmn.MaxRackIndex {
		max = cmn.MaxRackIndex
	}
	return &rackIndexAllocator{used: 1, max: max} // bit 0 reserved
}

// Allocate scans for the lowest clear bit in (0, max] and marks it used.
func (a *rackIndexAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := cmn.MinRackIndex; i <= a.max; i++ {
		if a.used&(1<<uint(i)) == 0 {
			a.used |= 1 << uint(i)
			return i, nil
		}
	}
	return cmn.NoRackIndex, &cmn.ErrLimitReached{What: "rack index", Limit: a.max}
}

func (a *rackIndexAllocator) Free(index int) {
	if index == cmn.NoRackIndex {
		return
	}
	a.mu.Lock()
	a.used &^= 1 << uint(index)
	a.mu.Unlock()
}

// Reserve marks an index used without scanning, for post-snapshot
// reconstruction.
func (a *rackIndexAllocator) Reserve(index int) {
	if index == cmn.NoRackIndex {
		return
	}
	a.mu.Lock()
	a.used |= 1 << uint(index)
	a.mu.Unlock()
}

func (a *rackIndexAllocator) Reset() {
	a.mu.Lock()
	a.used = 1
	a.mu.Unlock()
}

/////////////////
// DataCenter //
/////////////////

func NewDataCenter(id uint64, name string) *DataCenter {
	return &DataCenter{id: id, name: name}
}

func (dc *DataCenter) ID() uint64 { return dc.id }

func (dc *DataCenter) Name() string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.name
}

func (dc *DataCenter) Index() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.index
}

func (dc *DataCenter) setName(name string) { dc.mu.Lock(); dc.name = name; dc.mu.Unlock() }
func (dc *DataCenter) setIndex(i int) { dc.mu.Lock(); dc.index = i; dc.mu.Unlock() }

/////////
// Rack //
/////////

func NewRack(id uint64, name string, index int) *Rack {
	debug.Assert(index >= cmn.MinRackIndex && index <= cmn.MaxRackIndex, "rack index out of range")
	return &Rack{id: id, name: name, index: index}
}

func (r *Rack) ID() uint64 { return r.id }

func (r *Rack) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

func (r *Rack) Index() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}

func (r *Rack) DataCenter() *DataCenter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dc
}

func (r *Rack) DataCenterName() string {
	dc := r.DataCenter()
	if dc == nil {
		return ""
	}
	return dc.Name()
}

func (r *Rack) setName(name string) { r.mu.Lock(); r.name = name; r.mu.Unlock() }
func (r *Rack) setDC(dc *DataCenter) { r.mu.Lock(); r.dc = dc; r.mu.Unlock() }

/////////
// Host //
/////////

func NewHost(id uint64, name string, rack *Rack) *Host {
	debug.Assert(rack != nil, "host must be bound to a rack at construction")
	return &Host{id: id, name: name, rack: rack, nodes: make(map[cmn.NodeID]*Node, 4)}
}

func (h *Host) ID() uint64 { return h.id }

func (h *Host) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

func (h *Host) Rack() *Rack {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rack
}

func (h *Host) setName(name string) { h.mu.Lock(); h.name = name; h.mu.Unlock() }
func (h *Host) setRack(r *Rack) { h.mu.Lock(); h.rack = r; h.mu.Unlock() }

func (h *Host) addNode(n *Node) {
	h.mu.Lock()
	h.nodes[n.ID()] = n
	h.mu.Unlock()
}

func (h *Host) removeNode(id cmn.NodeID) {
	h.mu.Lock()
	delete(h.nodes, id)
	h.mu.Unlock()
}

func (h *Host) Nodes() []*Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		out = append(out, n)
	}
	return out
}

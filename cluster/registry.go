// Registry (C3): the authoritative in-memory indices over every Node,
// Rack, DataCenter, and Host, modeled on aistore's cluster/map.go
// Smap (which indexes Snodes by DaemonID) generalized to the node
// tracker's richer index set.
package cluster

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/debug"
	"github.com/tidwall/buntdb"
)

type Registry struct {
	mu sync.RWMutex

	byID map[cmn.NodeID]*Node
	byAddress map[string]*Node
	byHost map[string][]*Node // host name -> nodes (multi)
	byLease map[string]*Node // lease-transaction id -> node

	racks map[string]*Rack
	dataCenters map[string]*DataCenter
	hosts map[string]*Host

	rackIdx *rackIndexAllocator

	nextNodeID cmn.NodeID
	recentRemoved []cmn.NodeID // bounded ring buffer; see SPEC_FULL.md supplement
	recentCap int

	addrIdx *buntdb.DB // sorted-by-address index backing ListNodesByRack

	addressPriority []string

	nextEntityID uint64
}

const recentlyRemovedCapacity = 1024

func NewRegistry(maxRacks int, addressPriority []string) *Registry {
	db, err := buntdb.Open(":memory:")
	debug.AssertNoErr(err)
	debug.AssertNoErr(db.CreateIndex("by_address", "node:*", buntdb.IndexString))

	return &Registry{
		byID: make(map[cmn.NodeID]*Node),
		byAddress: make(map[string]*Node),
		byHost: make(map[string][]*Node),
		byLease: make(map[string]*Node),
		racks: make(map[string]*Rack),
		dataCenters: make(map[string]*DataCenter),
		hosts: make(map[string]*Host),
		rackIdx: newRackIndexAllocator(maxRacks),
		nextNodeID: cmn.MinNodeID,
		recentCap: recentlyRemovedCapacity,
		addrIdx: db,
		addressPriority: addressPriority,
	}
}

//////////////////////
// node-id allocator //
//////////////////////

func (r *Registry) isRecentlyRemoved(id cmn.NodeID) bool {
	for _, v := range r.recentRemoved {
		if v == id {
			return true
		}
	}
	return false
}

func (r *Registry) rememberRemoved(id cmn.NodeID) {
	r.recentRemoved = append(r.recentRemoved, id)
	if len(r.recentRemoved) > r.recentCap {
		r.recentRemoved = r.recentRemoved[len(r.recentRemoved)-r.recentCap:]
	}
}

// GenerateNodeID is monotonic, skips the sentinel, wraps by reset past
// MaxNodeID, and never returns an id currently in use. It also skips ids
// in the recently removed ring buffer, so a just-removed id isn't reused
// while a delayed RPC might still reference it.
func (r *Registry) GenerateNodeID() (cmn.NodeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.nextNodeID
	for {
		id := r.nextNodeID
		r.nextNodeID++
		if r.nextNodeID > cmn.MaxNodeID {
			r.nextNodeID = cmn.MinNodeID
		}
		if id == cmn.InvalidNodeID {
			continue
		}
		if _, inUse := r.byID[id]; inUse {
			if r.nextNodeID == start {
				return cmn.InvalidNodeID, &cmn.ErrLimitReached{What: "node id space", Limit: int(cmn.MaxNodeID)}
			}
			continue
		}
		if r.isRecentlyRemoved(id) {
			if r.nextNodeID == start {
				return cmn.InvalidNodeID, &cmn.ErrLimitReached{What: "node id space", Limit: int(cmn.MaxNodeID)}
			}
			continue
		}
		return id, nil
	}
}

func (r *Registry) nextEntityIDLocked() uint64 {
	r.nextEntityID++
	return r.nextEntityID
}

/////////////////////
// node indices //
/////////////////////

func (r *Registry) InsertNode(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[n.ID()] = n
	addr := n.DefaultAddress()
	r.byAddress[addr] = n
	if hn := n.HostName(); hn != "" {
		r.byHost[hn] = append(r.byHost[hn], n)
	}
	if l := n.Lease(); l != nil {
		r.byLease[l.ID] = n
	}
	_ = r.addrIdx.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(nodeIndexKey(n.ID()), addr, nil)
		return err
	})
}

func nodeIndexKey(id cmn.NodeID) string { return "node:" + strconv.Itoa(int(id)) }

func (r *Registry) RemoveNode(id cmn.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byAddress, n.DefaultAddress())
	if hn := n.HostName(); hn != "" {
		r.byHost[hn] = removeNodeFromSlice(r.byHost[hn], id)
		if len(r.byHost[hn]) == 0 {
			delete(r.byHost, hn)
		}
	}
	if l := n.Lease(); l != nil {
		delete(r.byLease, l.ID)
	}
	_ = r.addrIdx.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(nodeIndexKey(id))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	r.rememberRemoved(id)
}

func removeNodeFromSlice(nodes []*Node, id cmn.NodeID) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID() != id {
			out = append(out, n)
		}
	}
	return out
}

// RegisterLeaseTransaction / UnregisterLeaseTransaction keep the
// lease-transaction index in lock-step with the node's lease field.
func (r *Registry) RegisterLeaseTransaction(n *Node, lease *LeaseTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n.setLease(lease)
	r.byLease[lease.ID] = n
}

func (r *Registry) UnregisterLeaseTransaction(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := n.Lease(); l != nil {
		delete(r.byLease, l.ID)
	}
	n.setLease(nil)
}

// setNodeAddresses must be called by the registry's own setters whenever
// a node's default address changes; address map mutation is private to
// the registry.
func (r *Registry) setNodeAddresses(n *Node, addrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := n.DefaultAddress()
	n.setAddresses(addrs)
	newAddr := n.DefaultAddress()
	if old != "" {
		delete(r.byAddress, old)
	}
	r.byAddress[newAddr] = n
	_ = r.addrIdx.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(nodeIndexKey(n.ID()), newAddr, nil)
		return err
	})
}

func (r *Registry) setNodeHost(n *Node, h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := n.Host(); old != nil {
		old.removeNode(n.ID())
		r.byHost[old.Name()] = removeNodeFromSlice(r.byHost[old.Name()], n.ID())
		if len(r.byHost[old.Name()]) == 0 {
			delete(r.byHost, old.Name())
		}
	}
	n.setHost(h)
	if h != nil {
		h.addNode(n)
		r.byHost[h.Name()] = append(r.byHost[h.Name()], n)
	}
}

/////////////
// lookups //
/////////////

func (r *Registry) FindNode(id cmn.NodeID) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byID[id]
	return n, ok
}

func (r *Registry) GetNodeOrThrow(id cmn.NodeID) (*Node, error) {
	n, ok := r.FindNode(id)
	if !ok {
		return nil, &cmn.ErrNotFound{What: "node", Key: strconv.Itoa(int(id))}
	}
	return n, nil
}

func (r *Registry) FindNodeByAddress(addr string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byAddress[addr]
	return n, ok
}

func (r *Registry) FindNodeByHostName(hostName string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := r.byHost[hostName]
	if len(nodes) == 0 {
		return nil, false
	}
	return nodes[0], true
}

func (r *Registry) FindNodeByLease(leaseID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byLease[leaseID]
	return n, ok
}

func (r *Registry) AllNodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.byID))
	for _, n := range r.byID {
		out = append(out, n)
	}
	return out
}

// ListNodesByRack returns nodes bound (via their host) to rack, in
// deterministic sorted-by-address order. rack == nil
// means nodes with no rack. Backed by the buntdb address index so the
// sort is O(n log n) via the B-tree rather than a fresh sort.Slice per
// call when called frequently.
func (r *Registry) ListNodesByRack(rack *Rack) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Node
	var addrs []string
	_ = r.addrIdx.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("by_address", func(key, value string) bool {
			addrs = append(addrs, value)
			return true
		})
	})
	byAddr := make(map[string]*Node, len(addrs))
	for _, n := range r.byID {
		byAddr[n.DefaultAddress()] = n
	}
	for _, a := range addrs {
		n, ok := byAddr[a]
		if !ok {
			continue
		}
		h := n.Host()
		var nodeRack *Rack
		if h != nil {
			nodeRack = h.Rack()
		}
		if nodeRack == rack {
			out = append(out, n)
		}
	}
	return out
}

//////////////////////////////
// topology entity indices //
//////////////////////////////

func (r *Registry) CreateDataCenter(name string) (*DataCenter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dataCenters[name]; exists {
		return nil, &cmn.ErrAlreadyExists{What: "data center", Key: name}
	}
	dc := NewDataCenter(r.nextEntityIDLocked(), name)
	r.dataCenters[name] = dc
	return dc, nil
}

func (r *Registry) RenameDataCenter(dc *DataCenter, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dataCenters[newName]; exists {
		return &cmn.ErrAlreadyExists{What: "data center", Key: newName}
	}
	old := dc.Name()
	delete(r.dataCenters, old)
	dc.setName(newName)
	r.dataCenters[newName] = dc
	return nil
}

func (r *Registry) FindDataCenterByName(name string) (*DataCenter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dc, ok := r.dataCenters[name]
	return dc, ok
}

// DestroyDataCenter reassigns all member racks to "no DC" first.
func (r *Registry) DestroyDataCenter(dc *DataCenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rk := range r.racks {
		if rk.DataCenter() == dc {
			rk.setDC(nil)
		}
	}
	delete(r.dataCenters, dc.Name())
}

func (r *Registry) CreateRack(name string, dc *DataCenter) (*Rack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.racks[name]; exists {
		return nil, &cmn.ErrAlreadyExists{What: "rack", Key: name}
	}
	idx, err := r.rackIdx.Allocate()
	if err != nil {
		return nil, err
	}
	rk := NewRack(r.nextEntityIDLocked(), name, idx)
	rk.setDC(dc)
	r.racks[name] = rk
	return rk, nil
}

func (r *Registry) RenameRack(rk *Rack, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.racks[newName]; exists {
		return &cmn.ErrAlreadyExists{What: "rack", Key: newName}
	}
	old := rk.Name()
	delete(r.racks, old)
	rk.setName(newName)
	r.racks[newName] = rk
	return nil
}

func (r *Registry) FindRackByName(name string) (*Rack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rk, ok := r.racks[name]
	return rk, ok
}

// SetRackParent moves rk to a new DC. It returns the set of nodes whose
// derived tags need re-deriving, so the caller can fire
// node-config-updated notifications.
func (r *Registry) SetRackParent(rk *Rack, dc *DataCenter) []*Node {
	r.mu.Lock()
	var affected []*Node
	for _, h := range r.hosts {
		if h.Rack() != rk {
			continue
		}
		affected = append(affected, h.Nodes()...)
	}
	r.mu.Unlock()

	// unbind: temporarily detach tags' ancestor chain by re-deriving once
	// the parent changes (rebuildTags reads through the live rack/DC
	// pointers, so no explicit unbind step is needed beyond the pointer
	// swap itself staying atomic per-node).
	rk.setDC(dc)
	for _, n := range affected {
		n.rebuildTags()
	}
	return affected
}

// SetHostRack rebinds a host (and every node hosted on it) to a
// different rack, the node-level analogue of SetRackParent.
func (r *Registry) SetHostRack(h *Host, rk *Rack) []*Node {
	h.setRack(rk)
	affected := h.Nodes()
	for _, n := range affected {
		n.rebuildTags()
	}
	return affected
}

// DestroyRack reassigns member nodes to "no rack" first, then frees the
// dense index.
func (r *Registry) DestroyRack(rk *Rack) {
	r.mu.Lock()
	var hostsOfRack []*Host
	for _, h := range r.hosts {
		if h.Rack() == rk {
			hostsOfRack = append(hostsOfRack, h)
		}
	}
	r.mu.Unlock()
	for _, h := range hostsOfRack {
		h.setRack(nil)
		for _, n := range h.Nodes() {
			n.rebuildTags()
		}
	}
	r.mu.Lock()
	r.rackIdx.Free(rk.Index())
	delete(r.racks, rk.Name())
	r.mu.Unlock()
}

func (r *Registry) CreateHost(name string, rack *Rack) (*Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hosts[name]; exists {
		return nil, &cmn.ErrAlreadyExists{What: "host", Key: name}
	}
	h := NewHost(r.nextEntityIDLocked(), name, rack)
	r.hosts[name] = h
	return h, nil
}

func (r *Registry) FindHostByName(name string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[name]
	return h, ok
}

func (r *Registry) RenameHost(h *Host, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hosts[newName]; exists {
		return &cmn.ErrAlreadyExists{What: "host", Key: newName}
	}
	old := h.Name()
	delete(r.hosts, old)
	h.setName(newName)
	r.hosts[newName] = h
	return nil
}

// BindNodeToHost is the one path through which a node's host (and
// therefore derived rack/DC tags) changes; private mutators on Node stay
// unreachable from outside this package.
func (r *Registry) BindNodeToHost(n *Node, h *Host) {
	r.setNodeHost(n, h)
}

// ReplaceNodeAddresses is the one path through which a node's address map
// changes.
func (r *Registry) ReplaceNodeAddresses(n *Node, addrs map[string]string) {
	r.setNodeAddresses(n, addrs)
}

func (r *Registry) SetNodeUserTags(n *Node, tags []string) { n.setUserTags(tags) }
func (r *Registry) SetNodeNodeTags(n *Node, tags []string) { n.setNodeTags(tags) }
func (r *Registry) SetNodeFlavors(n *Node, f Flavor) { n.setFlavors(f) }

////////////////////////////////
// post-snapshot reconstruction //
////////////////////////////////

// Reconcile rebuilds address->node, host-name->node, and
// lease-transaction->node indices, re-allocates the rack-index bitmask
// from live racks, and recomputes every node's aggregated state.
func (r *Registry) Reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAddress = make(map[string]*Node, len(r.byID))
	r.byHost = make(map[string][]*Node, len(r.hosts))
	r.byLease = make(map[string]*Node, len(r.byID))
	r.rackIdx.Reset()

	for _, rk := range r.racks {
		r.rackIdx.Reserve(rk.Index())
	}
	for _, n := range r.byID {
		r.byAddress[n.DefaultAddress()] = n
		if hn := n.HostName(); hn != "" {
			r.byHost[hn] = append(r.byHost[hn], n)
		}
		if l := n.Lease(); l != nil {
			r.byLease[l.ID] = n
		}
		n.multicell.Recompute()
	}
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry[nodes=%d racks=%d dcs=%d hosts=%d]", len(r.byID), len(r.racks), len(r.dataCenters), len(r.hosts))
}

// AddressPriority returns the configured network-name priority list new
// nodes are constructed with.
func (r *Registry) AddressPriority() []string {
	return r.addressPriority
}

func (r *Registry) AllDataCenters() []*DataCenter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DataCenter, 0, len(r.dataCenters))
	for _, dc := range r.dataCenters {
		out = append(out, dc)
	}
	return out
}

func (r *Registry) AllRacks() []*Rack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Rack, 0, len(r.racks))
	for _, rk := range r.racks {
		out = append(out, rk)
	}
	return out
}

func (r *Registry) AllHosts() []*Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h)
	}
	return out
}

func (r *Registry) SortedNodeIDs() []cmn.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]cmn.NodeID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package cluster

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/debug"
)

type (
	// Flavor is a role a node plays; determines which heartbeat kinds are
	// required before the node is considered online.
	Flavor uint8

	// LifecycleState is the node's local (per-cell) FSM state.
	LifecycleState uint8

	HeartbeatKind uint8

	MaintenanceKind uint8

	// MaintenanceRequest is one entry in a node's maintenance-request map.
	MaintenanceRequest struct {
		ID string
		RequestingUser string
		Kind MaintenanceKind
		Comment string
		Timestamp time.Time
	}

	// PerMediumStat carries the per-medium figures recomputed from
	// reported statistics.
	PerMediumStat struct {
		FillFactor float64 // used/limit, clamped to [0,1]
		SessionCount int64
		IOWeight float64 // inverse-proportional to fill factor
		TotalSpace int64
		UsedSpace int64
	}

	Resources struct {
		Limits map[string]int64 // medium -> limit bytes
		Usage map[string]int64 // medium -> used bytes
		Overrides map[string]int64 // medium -> operator override, takes precedence over Limits
		PerMedium map[string]*PerMediumStat
	}

	// SessionHints are in-flight session intents added to reported counts
	// for load-factor estimation. Reset every
	// scheduling tick.
	SessionHints struct {
		User map[string]int64 // medium -> count
		Replication map[string]int64
		Repair map[string]int64
	}

	// CellarSlot mirrors what the node most recently reported for one
	// cellar (tablet cell hosting) slot.
	CellarSlot struct {
		CellID string
		PeerState string
		PeerID string
		PreloadPages int64
		PreloadBytes int64
	}

	// Node (C2): per-node authoritative record. All mutable fields are
	// populated by the first registration; setters that affect derived
	// state (address map, tags, host/rack) are unexported — only
	// Registry (C3) and the heartbeat FSM (tracker package, via the
	// exported Apply* methods) may call them. Resource limits and
	// overrides are the exception: SetResourceLimits and
	// SetResourceOverrides are exported and are called directly by
	// other packages (persist, surface), not through the registry.
	Node struct {
		mu sync.RWMutex

		id cmn.NodeID
		idDigest uint64

		addresses map[string]string // network name -> address
		defaultAddress string
		addressPriority []string // configured network-name priority list

		serviceHostName string

		userTags []string
		nodeTags []string
		effectiveTags map[string]struct{}

		flavors Flavor

		heartbeatsReported map[HeartbeatKind]struct{}

		localState LifecycleState

		resources Resources

		lease *LeaseTransaction

		maintenance map[string]*MaintenanceRequest

		sessionHints SessionHints

		cellars map[string][]*CellarSlot // cellar kind -> slots

		visitMarks map[string]uint64 // medium -> monotonic counter

		host *Host // back-pointer; nil if unbound

		registerTime time.Time
		lastSeenTime time.Time

		reportedCellTags []string

		multicell *multicellState

		replicaState *nodeReplicaState

		alerts []string
	}

	// LeaseTransaction is an optional opaque lease-transaction handle; the
	// node tracker only compares and stores it, never interprets its
	// contents.
	LeaseTransaction struct {
		ID string
		Timeout time.Duration
		expires time.Time
	}
)

const (
	FlavorData Flavor = 1 << iota
	FlavorExec
	FlavorTablet
	FlavorChaos
)

const (
	LifecycleOffline LifecycleState = iota
	LifecycleRegistered
	LifecycleOnline
	LifecycleUnregistered
	LifecycleMixed // only ever an aggregated state, never per-cell
	LifecycleUnknown
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleOffline:
		return "offline"
	case LifecycleRegistered:
		return "registered"
	case LifecycleOnline:
		return "online"
	case LifecycleUnregistered:
		return "unregistered"
	case LifecycleMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

const (
	HeartbeatRegistration HeartbeatKind = iota
	HeartbeatData
	HeartbeatExec
	HeartbeatTablet
)

const (
	MaintenanceBan MaintenanceKind = iota
	MaintenanceDecommission
	MaintenanceDisableSchedulerJobs
	MaintenanceDisableWriteSessions
	MaintenanceDisableTabletCells
)

// requiredHeartbeatKinds returns which heartbeat kinds a node's flavors
// imply must be received before it can transition to online.
func (f Flavor) requiredHeartbeatKinds() []HeartbeatKind {
	var out []HeartbeatKind
	if f&FlavorData != 0 {
		out = append(out, HeartbeatData)
	}
	if f&FlavorExec != 0 {
		out = append(out, HeartbeatExec)
	}
	if f&FlavorTablet != 0 {
		out = append(out, HeartbeatTablet)
	}
	return out
}

func (f Flavor) Has(flag Flavor) bool { return f&flag != 0 }

// NewNode constructs a Node from only its object-id. Every other field is populated by the first
// registration, through the Registry setters and Apply* methods that the
// tracker's register handler calls.
func NewNode(id cmn.NodeID, addressPriority []string) *Node {
	n := &Node{
		id: id,
		addresses: make(map[string]string, 4),
		addressPriority: addressPriority,
		effectiveTags: make(map[string]struct{}),
		heartbeatsReported: make(map[HeartbeatKind]struct{}),
		maintenance: make(map[string]*MaintenanceRequest),
		cellars: make(map[string][]*CellarSlot),
		visitMarks: make(map[string]uint64),
		resources: Resources{
			Limits: make(map[string]int64),
			Usage: make(map[string]int64),
			Overrides: make(map[string]int64),
			PerMedium: make(map[string]*PerMediumStat),
		},
		sessionHints: SessionHints{
			User: make(map[string]int64),
			Replication: make(map[string]int64),
			Repair: make(map[string]int64),
		},
		multicell: newMulticellState(),
		replicaState: newNodeReplicaState(),
		localState: LifecycleOffline,
	}
	return n
}

func (n *Node) ID() cmn.NodeID { return n.id }

func (n *Node) IDDigest() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.idDigest
}

func (n *Node) Addresses() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.addresses))
	for k, v := range n.addresses {
		out[k] = v
	}
	return out
}

func (n *Node) DefaultAddress() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.defaultAddress
}

func (n *Node) ServiceHostName() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.serviceHostName
}

func (n *Node) Flavors() Flavor {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.flavors
}

func (n *Node) LocalState() LifecycleState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.localState
}

func (n *Node) Lease() *LeaseTransaction {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lease
}

func (n *Node) Host() *Host {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.host
}

func (n *Node) RackName() string {
	h := n.Host()
	if h == nil {
		return ""
	}
	r := h.Rack()
	if r == nil {
		return ""
	}
	return r.Name()
}

func (n *Node) DataCenterName() string {
	h := n.Host()
	if h == nil {
		return ""
	}
	r := h.Rack()
	if r == nil {
		return ""
	}
	return r.DataCenterName()
}

func (n *Node) HostName() string {
	h := n.Host()
	if h == nil {
		return ""
	}
	return h.Name()
}

func (n *Node) RegisterTime() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.registerTime
}

func (n *Node) LastSeenTime() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSeenTime
}

func (n *Node) Alerts() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// EffectiveTags returns the union of user tags, node tags, and derived
// ancestor tags.
func (n *Node) EffectiveTags() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.effectiveTags))
	for t := range n.effectiveTags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// UserTags returns exactly what an operator wrote via the user-tags
// attribute, not the effective union EffectiveTags returns.
func (n *Node) UserTags() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.userTags))
	copy(out, n.userTags)
	return out
}

// computeDefaultAddress is a pure function of the address map using a
// fixed network-name priority list supplied by configuration.
func computeDefaultAddress(addresses map[string]string, priority []string) string {
	for _, net := range priority {
		if addr, ok := addresses[net]; ok {
			return addr
		}
	}
	// deterministic fallback: lowest network name, so the function stays
	// pure even if the priority list doesn't cover every reported network.
	var names []string
	for net := range addresses {
		names = append(names, net)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return addresses[names[0]]
}

// setAddresses is private: only the registry may call it.
func (n *Node) setAddresses(addrs map[string]string) {
	n.mu.Lock()
	n.addresses = make(map[string]string, len(addrs))
	for k, v := range addrs {
		n.addresses[k] = v
	}
	n.defaultAddress = computeDefaultAddress(n.addresses, n.addressPriority)
	n.serviceHostName = deriveServiceHostName(n.defaultAddress)
	n.idDigest = addressDigest(n.addresses)
	n.mu.Unlock()
	n.rebuildTags()
}

func deriveServiceHostName(defaultAddress string) string {
	// defaultAddress is host:port or bare host; service host name is the
	// host component, matching aistore's Snode service-hostname
	// derivation from its PublicNet.DirectURL.
	for i := len(defaultAddress) - 1; i >= 0; i-- {
		if defaultAddress[i] == ':' {
			return defaultAddress[:i]
		}
	}
	return defaultAddress
}

func addressDigest(addresses map[string]string) uint64 {
	if addr, ok := addresses["default"]; ok {
		return hashString(addr)
	}
	var names []string
	for k := range addresses {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return 0
	}
	return hashString(addresses[names[0]])
}

// setFlavors/setUserTags/setNodeTags/setHost are private mutators that
// the Registry (C3) drives; setUserTags/setNodeTags/setHost call
// rebuildTags so derived state never drifts from its sources (flavors
// are not part of the tag set, so setFlavors does not).
func (n *Node) setFlavors(f Flavor) { n.mu.Lock(); n.flavors = f; n.mu.Unlock() }

func (n *Node) setUserTags(tags []string) {
	n.mu.Lock()
	n.userTags = append([]string(nil), tags...)
	n.mu.Unlock()
	n.rebuildTags()
}

func (n *Node) setNodeTags(tags []string) {
	n.mu.Lock()
	n.nodeTags = append([]string(nil), tags...)
	n.mu.Unlock()
	n.rebuildTags()
}

func (n *Node) setHost(h *Host) {
	n.mu.Lock()
	n.host = h
	n.mu.Unlock()
	n.rebuildTags()
}

func (n *Node) recordHeartbeat(kind HeartbeatKind) {
	n.mu.Lock()
	n.heartbeatsReported[kind] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) resetHeartbeatsReported() {
	n.mu.Lock()
	n.heartbeatsReported = make(map[HeartbeatKind]struct{})
	n.mu.Unlock()
}

// readyForOnline reports whether every heartbeat kind implied by the
// node's flavors has been received since the last registration.
func (n *Node) readyForOnline() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, k := range n.flavors.requiredHeartbeatKinds() {
		if _, ok := n.heartbeatsReported[k]; !ok {
			return false
		}
	}
	return true
}

func (n *Node) setLocalState(s LifecycleState) {
	debug.Assert(s != LifecycleMixed, "mixed is only ever an aggregated state")
	n.mu.Lock()
	n.localState = s
	n.mu.Unlock()
	n.multicell.setLocalState(s)
}

func (n *Node) setLease(l *LeaseTransaction) { n.mu.Lock(); n.lease = l; n.mu.Unlock() }

func (n *Node) touchLastSeen(t time.Time) { n.mu.Lock(); n.lastSeenTime = t; n.mu.Unlock() }

func (n *Node) setRegisterTime(t time.Time) { n.mu.Lock(); n.registerTime = t; n.mu.Unlock() }

func (n *Node) setAlerts(alerts []string) {
	n.mu.Lock()
	n.alerts = append([]string(nil), alerts...)
	n.mu.Unlock()
}

// renewLease sets the lease's timeout to the state-appropriate value
// and extends its expiry.
func (n *Node) renewLease(now time.Time, registeredTimeout, onlineTimeout time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lease == nil {
		return
	}
	switch n.localState {
	case LifecycleRegistered:
		n.lease.Timeout = registeredTimeout
	case LifecycleOnline:
		n.lease.Timeout = onlineTimeout
	}
	n.lease.expires = now.Add(n.lease.Timeout)
}

func (n *Node) leaseExpired(now time.Time) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lease != nil && now.After(n.lease.expires)
}

// The Apply* methods below are the node tracker's equivalent of the
// teacher's unexported Snode setters reached only through cluster.Sowner:
// they let the tracker package (the FSM and RPC/mutation handlers) drive
// state that the rest of the world may only read.

func (n *Node) ApplyLocalState(s LifecycleState) { n.setLocalState(s) }

func (n *Node) ApplyHeartbeat(kind HeartbeatKind) { n.recordHeartbeat(kind) }

func (n *Node) ApplyHeartbeatsReset() { n.resetHeartbeatsReported() }

func (n *Node) ReadyForOnline() bool { return n.readyForOnline() }

func (n *Node) ApplyLastSeen(t time.Time) { n.touchLastSeen(t) }

func (n *Node) ApplyRegisterTime(t time.Time) { n.setRegisterTime(t) }

func (n *Node) ApplyAlerts(alerts []string) { n.setAlerts(alerts) }

func (n *Node) ApplyLeaseRenewal(now time.Time, registeredTimeout, onlineTimeout time.Duration) {
	n.renewLease(now, registeredTimeout, onlineTimeout)
}

func (n *Node) LeaseExpired(now time.Time) bool { return n.leaseExpired(now) }

func (n *Node) ApplyStatistics(reported map[string]PerMediumStat, duringGracePeriod bool) {
	n.mergeStatistics(reported, duringGracePeriod)
}

////////////////////////
// Maintenance requests //
////////////////////////

// AddMaintenanceRequest is the single entry point for every maintenance
// flag, collapsing what the original per-flag setters did into one call.
func (n *Node) AddMaintenanceRequest(id, user string, kind MaintenanceKind, comment string, ts time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maintenance[id] = &MaintenanceRequest{
		ID: id, RequestingUser: user, Kind: kind, Comment: comment, Timestamp: ts,
	}
}

func (n *Node) RemoveMaintenanceRequest(id string) {
	n.mu.Lock()
	delete(n.maintenance, id)
	n.mu.Unlock()
}

// HasMaintenanceFlag is the OR over requests of the given kind.
func (n *Node) HasMaintenanceFlag(kind MaintenanceKind) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, r := range n.maintenance {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

func (n *Node) Banned() bool { return n.HasMaintenanceFlag(MaintenanceBan) }
func (n *Node) Decommissioned() bool { return n.HasMaintenanceFlag(MaintenanceDecommission) }
func (n *Node) DisableSchedulerJobs() bool { return n.HasMaintenanceFlag(MaintenanceDisableSchedulerJobs) }
func (n *Node) DisableWriteSessions() bool { return n.HasMaintenanceFlag(MaintenanceDisableWriteSessions) }
func (n *Node) DisableTabletCells() bool { return n.HasMaintenanceFlag(MaintenanceDisableTabletCells) }

func (n *Node) MaintenanceRequests() map[string]*MaintenanceRequest {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]*MaintenanceRequest, len(n.maintenance))
	for k, v := range n.maintenance {
		cp := *v
		out[k] = &cp
	}
	return out
}

///////////////
// Resources //
///////////////

// mergeStatistics recomputes per-medium fill factor, IO weight, and total
// space from a reported per-location array. duringGracePeriod is true while the master
// is still within total-resource-limits-consider-delay of startup, during
// which per-tag limits are treated as infinite.
func (n *Node) mergeStatistics(reported map[string]PerMediumStat, duringGracePeriod bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for medium, stat := range reported {
		limit := n.resources.Overrides[medium]
		if limit == 0 {
			limit = n.resources.Limits[medium]
		}
		st := &PerMediumStat{
			SessionCount: stat.SessionCount,
			TotalSpace: stat.TotalSpace,
			UsedSpace: stat.UsedSpace,
		}
		if duringGracePeriod || limit <= 0 {
			st.FillFactor = 0
			st.IOWeight = 1
		} else {
			ff := float64(stat.UsedSpace) / float64(limit)
			if ff < 0 {
				ff = 0
			}
			if ff > 1 {
				ff = 1
			}
			st.FillFactor = ff
			// IO weight is inverse-proportional to fill factor, clamped
			// away from a division by zero (original_source node.cpp).
			st.IOWeight = 1 / (0.01 + ff)
		}
		n.resources.PerMedium[medium] = st
		n.resources.Usage[medium] = stat.UsedSpace
	}
}

func (n *Node) SetResourceLimits(limits map[string]int64) {
	n.mu.Lock()
	n.resources.Limits = make(map[string]int64, len(limits))
	for k, v := range limits {
		n.resources.Limits[k] = v
	}
	n.mu.Unlock()
}

func (n *Node) SetResourceOverrides(overrides map[string]int64) {
	n.mu.Lock()
	n.resources.Overrides = make(map[string]int64, len(overrides))
	for k, v := range overrides {
		n.resources.Overrides[k] = v
	}
	n.mu.Unlock()
}

func (n *Node) ResourceLimitsSnapshot() map[string]int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]int64, len(n.resources.Limits))
	for k, v := range n.resources.Limits {
		out[k] = v
	}
	return out
}

func (n *Node) ResourceOverridesSnapshot() map[string]int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]int64, len(n.resources.Overrides))
	for k, v := range n.resources.Overrides {
		out[k] = v
	}
	return out
}

func (n *Node) PerMediumStats() map[string]PerMediumStat {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]PerMediumStat, len(n.resources.PerMedium))
	for k, v := range n.resources.PerMedium {
		out[k] = *v
	}
	return out
}

////////////////////
// Session hints //
////////////////////

// ResetSessionHints is called at the start of every scheduling tick.
func (n *Node) ResetSessionHints() {
	n.mu.Lock()
	n.sessionHints = SessionHints{
		User: make(map[string]int64),
		Replication: make(map[string]int64),
		Repair: make(map[string]int64),
	}
	n.mu.Unlock()
}

func (n *Node) AddSessionHint(kind string, medium string, delta int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch kind {
	case "user":
		n.sessionHints.User[medium] += delta
	case "replication":
		n.sessionHints.Replication[medium] += delta
	case "repair":
		n.sessionHints.Repair[medium] += delta
	}
}

// HintedSessions computes reported-sessions(medium) + host-cell-count *
// sum(hint counts).
func (n *Node) HintedSessions(medium string, hostCellCount int) int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	reported := int64(0)
	if st, ok := n.resources.PerMedium[medium]; ok {
		reported = st.SessionCount
	}
	hints := n.sessionHints.User[medium] + n.sessionHints.Replication[medium] + n.sessionHints.Repair[medium]
	return reported + int64(hostCellCount)*hints
}

////////////
// Cellars //
////////////

func (n *Node) SetCellarSlots(kind string, slots []*CellarSlot) {
	n.mu.Lock()
	n.cellars[kind] = slots
	n.mu.Unlock()
}

func (n *Node) CellarSlots(kind string) []*CellarSlot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*CellarSlot(nil), n.cellars[kind]...)
}

//////////////////
// Visit marks //
//////////////////

func (n *Node) VisitMark(medium string) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.visitMarks[medium]
}

func (n *Node) SetVisitMark(medium string, mark uint64) {
	n.mu.Lock()
	n.visitMarks[medium] = mark
	n.mu.Unlock()
}

// ChunkReplicaCount sums the approved replica count across every medium.
func (n *Node) ChunkReplicaCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := 0
	for _, ms := range n.replicaState.approved {
		total += ms.Len()
	}
	return total
}

func (n *Node) DestroyedChunkReplicaCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.replicaState.destroyed.Len()
}

// Compact shrinks all owned hash tables after a large burst of removals
// and resets the round-robin cursors kept into them (the per-medium
// approved-replica cursors and the destroyed-replica cursor).
func (n *Node) Compact() {
	n.replicaState.compact()
}

func (n *Node) String() string {
	return fmt.Sprintf("node[%d]:%s", n.id, n.DefaultAddress())
}

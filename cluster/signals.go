// Signals: typed, synchronous pub/sub from the mutation handlers to
// external subscribers. Mirrors aistore's Slistener/SmapListeners shape
// (cluster/map.go) generalized to several distinct signal kinds instead
// of one "smap changed" kind. Signals fire synchronously from the
// mutation handler, in causal order — there is no queue or goroutine hop
// here.
package cluster

import "github.com/dzen-platform/nodetracker/cmn"

type (
	FullHeartbeatEvent struct {
		Node *Node
		Statistics map[string]PerMediumStat
	}

	IncrementalHeartbeatEvent struct {
		Node *Node
		DeltaStatistics map[string]PerMediumStat
		Alerts []string
	}

	Signals struct {
		onRegistered []func(*Node)
		onUnregistered []func(*Node)
		onRemoved []func(cmn.NodeID)
		onConfigUpdated []func(*Node)
		onFullHeartbeat []func(FullHeartbeatEvent)
		onIncrementalHeartbeat []func(IncrementalHeartbeatEvent)
		onAggregatedStateChanged []func(*Node, LifecycleState)
	}
)

func NewSignals() *Signals { return &Signals{} }

func (s *Signals) OnRegistered(f func(*Node)) { s.onRegistered = append(s.onRegistered, f) }
func (s *Signals) OnUnregistered(f func(*Node)) { s.onUnregistered = append(s.onUnregistered, f) }
func (s *Signals) OnRemoved(f func(id cmn.NodeID)) { s.onRemoved = append(s.onRemoved, f) }
func (s *Signals) OnConfigUpdated(f func(*Node)) {
	s.onConfigUpdated = append(s.onConfigUpdated, f)
}
func (s *Signals) OnFullHeartbeat(f func(FullHeartbeatEvent)) {
	s.onFullHeartbeat = append(s.onFullHeartbeat, f)
}
func (s *Signals) OnIncrementalHeartbeat(f func(IncrementalHeartbeatEvent)) {
	s.onIncrementalHeartbeat = append(s.onIncrementalHeartbeat, f)
}
func (s *Signals) OnAggregatedStateChanged(f func(*Node, LifecycleState)) {
	s.onAggregatedStateChanged = append(s.onAggregatedStateChanged, f)
}

func (s *Signals) FireRegistered(n *Node) {
	for _, f := range s.onRegistered {
		f(n)
	}
}
func (s *Signals) FireUnregistered(n *Node) {
	for _, f := range s.onUnregistered {
		f(n)
	}
}
func (s *Signals) FireRemoved(id cmn.NodeID) {
	for _, f := range s.onRemoved {
		f(id)
	}
}
func (s *Signals) FireConfigUpdated(n *Node) {
	for _, f := range s.onConfigUpdated {
		f(n)
	}
}
func (s *Signals) FireFullHeartbeat(ev FullHeartbeatEvent) {
	for _, f := range s.onFullHeartbeat {
		f(ev)
	}
}
func (s *Signals) FireIncrementalHeartbeat(ev IncrementalHeartbeatEvent) {
	for _, f := range s.onIncrementalHeartbeat {
		f(ev)
	}
}
func (s *Signals) FireAggregatedStateChanged(n *Node, st LifecycleState) {
	for _, f := range s.onAggregatedStateChanged {
		f(n, st)
	}
}

// WireNode attaches this Signals bus to a node's multicell aggregation so
// an aggregated-state-changed notification fires through the shared bus.
func (s *Signals) WireNode(n *Node) {
	n.OnAggregatedStateChanged(func(st LifecycleState) {
		s.FireAggregatedStateChanged(n, st)
	})
}

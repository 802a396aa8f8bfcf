package tracker

import (
	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
)

// transitions enumerates every local-state edge the tracker will ever
// drive a node through. LifecycleMixed never appears here: it is an
// aggregated-only state and is never a target of a local transition.
var transitions = map[cluster.LifecycleState]map[cluster.LifecycleState]bool{
	cluster.LifecycleOffline: {
		cluster.LifecycleRegistered: true,
	},
	cluster.LifecycleRegistered: {
		cluster.LifecycleOnline:       true,
		cluster.LifecycleUnregistered: true, // lease expires before readyForOnline
	},
	cluster.LifecycleOnline: {
		cluster.LifecycleUnregistered: true,
	},
	cluster.LifecycleUnregistered: {
		cluster.LifecycleRegistered: true, // re-registration
	},
}

func validTransition(from, to cluster.LifecycleState) bool {
	return transitions[from][to]
}

// transitionNode moves n to the given local state, firing the matching
// signal once the node's own state has been updated. Returns
// cmn.ErrInvalidState if the edge isn't in the table.
func transitionNode(n *cluster.Node, to cluster.LifecycleState, signals *cluster.Signals) error {
	from := n.LocalState()
	if from == to {
		return nil
	}
	if !validTransition(from, to) {
		return &cmn.ErrInvalidState{Entity: "node", State: from.String(), Want: to.String()}
	}
	n.ApplyLocalState(to)
	switch to {
	case cluster.LifecycleRegistered:
		signals.FireRegistered(n)
	case cluster.LifecycleUnregistered:
		signals.FireUnregistered(n)
	}
	return nil
}

package tracker

import (
	"testing"

	"github.com/dzen-platform/nodetracker/cluster"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to cluster.LifecycleState
		want     bool
	}{
		{cluster.LifecycleOffline, cluster.LifecycleRegistered, true},
		{cluster.LifecycleRegistered, cluster.LifecycleOnline, true},
		{cluster.LifecycleRegistered, cluster.LifecycleUnregistered, true},
		{cluster.LifecycleOnline, cluster.LifecycleUnregistered, true},
		{cluster.LifecycleUnregistered, cluster.LifecycleRegistered, true},
		{cluster.LifecycleOffline, cluster.LifecycleOnline, false},
		{cluster.LifecycleOnline, cluster.LifecycleRegistered, false},
		{cluster.LifecycleOffline, cluster.LifecycleMixed, false},
	}
	for _, tc := range cases {
		if got := validTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("validTransition(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTransitionNodeIsNoopWhenUnchanged(t *testing.T) {
	n := cluster.NewNode(1, nil)
	signals := cluster.NewSignals()
	var fired int
	signals.OnRegistered(func(*cluster.Node) { fired++ })

	if err := transitionNode(n, cluster.LifecycleOffline, signals); err != nil {
		t.Fatalf("transitionNode to the same state should not error: %v", err)
	}
	if fired != 0 {
		t.Fatalf("expected no signal fired for a same-state transition")
	}
}

func TestTransitionNodeRejectsInvalidEdge(t *testing.T) {
	n := cluster.NewNode(1, nil)
	signals := cluster.NewSignals()
	if err := transitionNode(n, cluster.LifecycleOnline, signals); err == nil {
		t.Fatalf("expected an error transitioning straight from Offline to Online")
	}
}

func TestTransitionNodeFiresMatchingSignal(t *testing.T) {
	n := cluster.NewNode(1, nil)
	signals := cluster.NewSignals()
	var registeredCount, unregisteredCount int
	signals.OnRegistered(func(*cluster.Node) { registeredCount++ })
	signals.OnUnregistered(func(*cluster.Node) { unregisteredCount++ })

	if err := transitionNode(n, cluster.LifecycleRegistered, signals); err != nil {
		t.Fatalf("transitionNode: %v", err)
	}
	if registeredCount != 1 {
		t.Fatalf("expected the registered signal to fire once, got %d", registeredCount)
	}

	if err := transitionNode(n, cluster.LifecycleUnregistered, signals); err != nil {
		t.Fatalf("transitionNode: %v", err)
	}
	if unregisteredCount != 1 {
		t.Fatalf("expected the unregistered signal to fire once, got %d", unregisteredCount)
	}
}

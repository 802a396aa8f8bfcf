package cluster

import "testing"

func TestMediumReplicaSetAddRemoveHas(t *testing.T) {
	ms := newMediumReplicaSet()
	ref := ReplicaRef{ChunkID: "c1", MediumIndex: 0}

	ms.addApproved(ref)
	if !ms.has(ref) {
		t.Fatalf("expected ref to be present after addApproved")
	}
	if ms.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ms.Len())
	}
	// idempotent
	ms.addApproved(ref)
	if ms.Len() != 1 {
		t.Fatalf("addApproved should be idempotent, Len() = %d", ms.Len())
	}

	if !ms.removeApproved(ref) {
		t.Fatalf("removeApproved should report true on the first removal")
	}
	if ms.has(ref) {
		t.Fatalf("expected ref to be gone after removeApproved")
	}
	if ms.removeApproved(ref) {
		t.Fatalf("removeApproved should report false on a second removal")
	}
}

func TestMediumReplicaSetRandomReplicaRoundRobin(t *testing.T) {
	ms := newMediumReplicaSet()
	refs := []ReplicaRef{
		{ChunkID: "c1", MediumIndex: 0},
		{ChunkID: "c2", MediumIndex: 0},
		{ChunkID: "c3", MediumIndex: 0},
	}
	for _, ref := range refs {
		ms.addApproved(ref)
	}

	seen := make(map[ReplicaRef]int)
	for i := 0; i < len(refs)*2; i++ {
		ref, ok := ms.RandomReplica()
		if !ok {
			t.Fatalf("expected a replica on round %d", i)
		}
		seen[ref]++
	}
	for _, ref := range refs {
		if seen[ref] != 2 {
			t.Errorf("expected ref %v to be seen exactly twice over two full cycles, got %d", ref, seen[ref])
		}
	}
}

func TestMediumReplicaSetJournalSharesStateAcrossVariants(t *testing.T) {
	ms := newMediumReplicaSet()
	ref := ReplicaRef{ChunkID: "j1", MediumIndex: 0}

	ms.addJournal(ref)
	if !ms.has(ref) {
		t.Fatalf("expected addJournal to insert the replica into the approved set")
	}
	if ms.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ms.Len())
	}
	if !ms.removeJournal(ref) {
		t.Fatalf("removeJournal should report true when the replica is present")
	}
	if ms.has(ref) {
		t.Fatalf("expected ref to be gone after removeJournal")
	}
}

func TestUnapprovedReplicasAddRemoveHas(t *testing.T) {
	s := newNodeReplicaState()
	ref := ReplicaRef{ChunkID: "c1", MediumIndex: 0}

	if s.unapproved.has(ref) {
		t.Fatalf("expected ref to be absent before add")
	}
	s.unapproved.add(ref, 123)
	if !s.unapproved.has(ref) {
		t.Fatalf("expected ref to be present after add")
	}
	if !s.unapproved.fastMaybeHas(ref) {
		t.Fatalf("expected prefilter to report a (possible) match for an added ref")
	}
	if s.unapproved.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.unapproved.Len())
	}
	if !s.unapproved.remove(ref) {
		t.Fatalf("remove should report true on the first removal")
	}
	if s.unapproved.has(ref) {
		t.Fatalf("expected ref to be gone after remove")
	}
	if s.unapproved.remove(ref) {
		t.Fatalf("remove should report false on a second removal")
	}
}

func TestDestroyedReplicaSetCursor(t *testing.T) {
	s := newNodeReplicaState()
	ref1 := ReplicaRef{ChunkID: "c1", MediumIndex: 0}
	ref2 := ReplicaRef{ChunkID: "c2", MediumIndex: 0}

	if !s.destroyed.CursorValid() {
		t.Fatalf("expected cursor to be valid (nil) on an empty set")
	}
	s.destroyed.add(ref1)
	if !s.destroyed.CursorValid() {
		t.Fatalf("expected cursor to be valid after a single add")
	}
	s.destroyed.add(ref2)
	cur, ok := s.destroyed.Next()
	if !ok || cur != ref2 {
		t.Fatalf("expected cursor to point at the most recently added ref, got %v", cur)
	}

	s.destroyed.remove(ref2)
	if !s.destroyed.CursorValid() {
		t.Fatalf("expected cursor to remain valid after removing the element it pointed at")
	}
	cur, ok = s.destroyed.Next()
	if !ok || cur != ref1 {
		t.Fatalf("expected cursor to advance to the remaining ref, got %v", cur)
	}
	if s.destroyed.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.destroyed.Len())
	}
}

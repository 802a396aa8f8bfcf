package cluster

import (
	"container/list"
	"fmt"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

type (
	// ReplicaRef identifies one chunk replica on a medium.
	ReplicaRef struct {
		ChunkID string
		ReplicaIndex int32
		MediumIndex int32
	}

	// JournalState distinguishes the three replica-state variants a
	// journal chunk's replica can be in; NotJournal is used for ordinary
	// (non-journal) chunks, which have exactly one state.
	JournalState uint8

	// mediumReplicaSet is the node-based (container/list), iterator-stable
	// set backing one medium's approved replica set, per the design
	// notes' "iterators kept across mutations" guidance: a hashed set
	// whose element positions don't move on unrelated insert/erase.
	mediumReplicaSet struct {
		mu sync.Mutex
		order *list.List
		index map[ReplicaRef]*list.Element
		journal map[ReplicaRef]map[JournalState]struct{} // only populated for journal chunks
		cursor *list.Element // random-replica round-robin cursor
	}

	// destroyedReplicaSet is the analogous structure for destroyed
	// replicas, with its own round-robin cursor.
	destroyedReplicaSet struct {
		mu sync.Mutex
		order *list.List
		index map[ReplicaRef]*list.Element
		cursor *list.Element
	}

	unapprovedReplicas struct {
		mu sync.Mutex
		ts map[ReplicaRef]int64 // leader timestamp (unix nanos) at which a client wrote the replica

		// prefilter is an approximate, probabilistic membership test kept
		// in step with ts by add/remove and queried (under mu) by
		// fastMaybeHas, so a "definitely not unapproved" answer needs no
		// map probe. It is never the source of truth: a positive result
		// still requires checking ts, and a false positive only costs a
		// wasted map probe.
		prefilter *cuckoo.Filter
	}

	nodeReplicaState struct {
		approved map[int32]*mediumReplicaSet // medium index -> set
		unapproved unapprovedReplicas
		destroyed destroyedReplicaSet

		queues nodeQueues
	}
)

const (
	NotJournal JournalState = iota
	JournalActive
	JournalUnsealed
	JournalSealed
)

var journalStates = [3]JournalState{JournalActive, JournalUnsealed, JournalSealed}

func newMediumReplicaSet() *mediumReplicaSet {
	return &mediumReplicaSet{
		order: list.New(),
		index: make(map[ReplicaRef]*list.Element),
		journal: make(map[ReplicaRef]map[JournalState]struct{}),
	}
}

func newNodeReplicaState() *nodeReplicaState {
	return &nodeReplicaState{
		approved: make(map[int32]*mediumReplicaSet),
		unapproved: unapprovedReplicas{
			ts: make(map[ReplicaRef]int64),
			prefilter: cuckoo.NewFilter(1024),
		},
		destroyed: destroyedReplicaSet{
			order: list.New(),
			index: make(map[ReplicaRef]*list.Element),
		},
		queues: newNodeQueues(),
	}
}

func (s *nodeReplicaState) mediumSet(medium int32) *mediumReplicaSet {
	ms, ok := s.approved[medium]
	if !ok {
		ms = newMediumReplicaSet()
		s.approved[medium] = ms
	}
	return ms
}

// compact reallocates the index maps backing every approved medium set and
// the destroyed set, shedding the bucket growth left behind by a long run
// of inserts and deletes, and moves each set's round-robin cursor back to
// the set's front element (nil for an empty set).
func (s *nodeReplicaState) compact() {
	for _, ms := range s.approved {
		ms.compact()
	}
	s.destroyed.compact()
}

// advanceCursorOnTouch moves the cursor off elem if it currently points at
// it, wrapping to the front.
func (ms *mediumReplicaSet) advanceCursorOnTouch(elem *list.Element) {
	if ms.cursor != elem {
		return
	}
	next := elem.Next()
	if next == nil {
		next = ms.order.Front()
	}
	if next == elem {
		next = nil
	}
	ms.cursor = next
}

// addApproved inserts a non-journal replica into the medium's approved
// set; idempotent.
func (ms *mediumReplicaSet) addApproved(ref ReplicaRef) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.index[ref]; ok {
		return
	}
	elem := ms.order.PushBack(ref)
	ms.index[ref] = elem
	if ms.cursor == nil {
		ms.cursor = elem
	}
}

func (ms *mediumReplicaSet) removeApproved(ref ReplicaRef) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	elem, ok := ms.index[ref]
	if !ok {
		return false
	}
	ms.advanceCursorOnTouch(elem)
	ms.order.Remove(elem)
	delete(ms.index, ref)
	delete(ms.journal, ref)
	if ms.order.Len() == 0 {
		ms.cursor = nil
	}
	return true
}

func (ms *mediumReplicaSet) has(ref ReplicaRef) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.index[ref]
	return ok
}

// addJournal implicitly affects all three journal-state variants for the
// same (chunk, medium) prefix.
func (ms *mediumReplicaSet) addJournal(ref ReplicaRef) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	elem, ok := ms.index[ref]
	if !ok {
		elem = ms.order.PushBack(ref)
		ms.index[ref] = elem
		if ms.cursor == nil {
			ms.cursor = elem
		}
	}
	states := make(map[JournalState]struct{}, 3)
	for _, js := range journalStates {
		states[js] = struct{}{}
	}
	ms.journal[ref] = states
}

func (ms *mediumReplicaSet) removeJournal(ref ReplicaRef) bool {
	return ms.removeApproved(ref)
}

// RandomReplica samples one replica via the round-robin cursor, advancing
// it for the next call.
func (ms *mediumReplicaSet) RandomReplica() (ReplicaRef, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.cursor == nil {
		return ReplicaRef{}, false
	}
	ref := ms.cursor.Value.(ReplicaRef)
	next := ms.cursor.Next()
	if next == nil {
		next = ms.order.Front()
	}
	ms.cursor = next
	return ref, true
}

func (ms *mediumReplicaSet) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.order.Len()
}

func (ms *mediumReplicaSet) compact() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	newIdx := make(map[ReplicaRef]*list.Element, len(ms.index))
	for k, v := range ms.index {
		newIdx[k] = v
	}
	ms.index = newIdx
	ms.cursor = ms.order.Front()
}

//////////////////////////
// unapprovedReplicas //
//////////////////////////

func refKey(ref ReplicaRef) []byte {
	return []byte(fmt.Sprintf("%s/%d/%d", ref.ChunkID, ref.ReplicaIndex, ref.MediumIndex))
}

func (u *unapprovedReplicas) add(ref ReplicaRef, leaderTS int64) {
	u.mu.Lock()
	u.ts[ref] = leaderTS
	u.prefilter.InsertUnique(refKey(ref))
	u.mu.Unlock()
}

func (u *unapprovedReplicas) remove(ref ReplicaRef) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.ts[ref]; !ok {
		return false
	}
	delete(u.ts, ref)
	u.prefilter.Delete(refKey(ref))
	return true
}

// has is the authoritative membership test. fastMaybeHas is the
// probabilistic pre-check callers may use to skip a round of RPC-side
// work before calling has; it can false-positive but never
// false-negative.
func (u *unapprovedReplicas) has(ref ReplicaRef) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.ts[ref]
	return ok
}

func (u *unapprovedReplicas) fastMaybeHas(ref ReplicaRef) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prefilter.Lookup(refKey(ref))
}

func (u *unapprovedReplicas) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ts)
}

/////////////////////////
// destroyedReplicaSet //
/////////////////////////

// add inserts a destroyed replica and moves the cursor to the freshly
// inserted element. If the replica is already present, this returns false;
// the caller (Node.MarkDestroyed) then removes it from the removal queue.
func (d *destroyedReplicaSet) add(ref ReplicaRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.index[ref]; ok {
		return false
	}
	elem := d.order.PushBack(ref)
	d.index[ref] = elem
	d.cursor = elem
	return true
}

func (d *destroyedReplicaSet) remove(ref ReplicaRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	elem, ok := d.index[ref]
	if !ok {
		return false
	}
	if d.cursor == elem {
		next := elem.Next()
		if next == nil {
			next = d.order.Front()
		}
		if next == elem {
			next = nil
		}
		d.cursor = next
	}
	d.order.Remove(elem)
	delete(d.index, ref)
	return true
}

func (d *destroyedReplicaSet) has(ref ReplicaRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.index[ref]
	return ok
}

func (d *destroyedReplicaSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// CursorValid reports whether the cursor invariant holds: if the set is
// non-empty, cursor points at an element in it; if empty, cursor is nil.
func (d *destroyedReplicaSet) CursorValid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.order.Len() == 0 {
		return d.cursor == nil
	}
	if d.cursor == nil {
		return false
	}
	ref := d.cursor.Value.(ReplicaRef)
	_, ok := d.index[ref]
	return ok && d.index[ref] == d.cursor
}

// Next returns the replica currently under the cursor without advancing
// it; the chunk manager uses repeated Next+externally-driven Remove to
// batch work round-robin across nodes.
func (d *destroyedReplicaSet) Next() (ReplicaRef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return ReplicaRef{}, false
	}
	return d.cursor.Value.(ReplicaRef), true
}

func (d *destroyedReplicaSet) compact() {
	d.mu.Lock()
	defer d.mu.Unlock()
	newIdx := make(map[ReplicaRef]*list.Element, len(d.index))
	for k, v := range d.index {
		newIdx[k] = v
	}
	d.index = newIdx
	d.cursor = d.order.Front()
}

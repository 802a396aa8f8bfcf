package cluster

import (
	"time"

	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/debug"
)

// assertQueueable enforces the two preconditions shared by every chunk
// queue/replica-set mutator: the node must be online, and it must have reported at
// least one data-node heartbeat since its last registration.
func (n *Node) assertQueueable() {
	n.mu.RLock()
	state := n.localState
	_, reportedData := n.heartbeatsReported[HeartbeatData]
	n.mu.RUnlock()
	debug.Assert(state == LifecycleOnline, "chunk queue mutated on a non-online node")
	debug.Assert(reportedData, "chunk queue mutated before any data-node heartbeat")
}

// AddApprovedReplica adds ref to the approved set for its medium. A ref
// is never both approved and unapproved at once, so this first removes
// any unapproved entry for the same ref.
func (n *Node) AddApprovedReplica(ref ReplicaRef) {
	n.assertQueueable()
	n.replicaState.unapproved.remove(ref)
	n.replicaState.mediumSet(ref.MediumIndex).addApproved(ref)
}

func (n *Node) AddApprovedJournalReplica(ref ReplicaRef) {
	n.assertQueueable()
	n.replicaState.unapproved.remove(ref)
	n.replicaState.mediumSet(ref.MediumIndex).addJournal(ref)
}

func (n *Node) RemoveApprovedReplica(ref ReplicaRef) bool {
	n.assertQueueable()
	return n.replicaState.mediumSet(ref.MediumIndex).removeApproved(ref)
}

func (n *Node) IsApproved(ref ReplicaRef) bool {
	return n.replicaState.mediumSet(ref.MediumIndex).has(ref)
}

// AddUnapprovedReplica records a client-reported replica write at
// leaderTS. A ref already approved is not also recorded unapproved.
func (n *Node) AddUnapprovedReplica(ref ReplicaRef, leaderTS time.Time) {
	n.assertQueueable()
	if n.IsApproved(ref) {
		return
	}
	n.replicaState.unapproved.add(ref, leaderTS.UnixNano())
}

// ApproveReplica removes ref from unapproved and inserts it into the
// approved set; for journal chunks it also resets the three journal-state
// variants.
func (n *Node) ApproveReplica(ref ReplicaRef, journal bool) {
	n.assertQueueable()
	n.replicaState.unapproved.remove(ref)
	if journal {
		n.replicaState.mediumSet(ref.MediumIndex).addJournal(ref)
	} else {
		n.replicaState.mediumSet(ref.MediumIndex).addApproved(ref)
	}
}

func (n *Node) IsUnapproved(ref ReplicaRef) bool { return n.replicaState.unapproved.has(ref) }

func (n *Node) UnapprovedCount() int { return n.replicaState.unapproved.Len() }

func (n *Node) ApprovedCount(medium int32) int { return n.replicaState.mediumSet(medium).Len() }

func (n *Node) RandomReplica(medium int32) (ReplicaRef, bool) {
	return n.replicaState.mediumSet(medium).RandomReplica()
}

// MarkDestroyed records ref as destroyed; if it was already present this
// returns false and removes it from the removal queue instead of
// re-adding it.
func (n *Node) MarkDestroyed(ref ReplicaRef) bool {
	n.assertQueueable()
	added := n.replicaState.destroyed.add(ref)
	if !added {
		n.replicaState.queues.removeFromRemoval(ChunkReplicaKey{ChunkID: ref.ChunkID, ReplicaIndex: ref.ReplicaIndex}, ref.MediumIndex)
	}
	return added
}

func (n *Node) UnmarkDestroyed(ref ReplicaRef) bool {
	n.assertQueueable()
	return n.replicaState.destroyed.remove(ref)
}

func (n *Node) IsDestroyed(ref ReplicaRef) bool { return n.replicaState.destroyed.has(ref) }

func (n *Node) DestroyedCount() int { return n.replicaState.destroyed.Len() }

func (n *Node) DestroyedCursorValid() bool { return n.replicaState.destroyed.CursorValid() }

func (n *Node) NextDestroyed() (ReplicaRef, bool) { return n.replicaState.destroyed.Next() }

// EnqueueRemoval adds (chunk,replica) to the removal queue, unless the
// chunk is already known-destroyed.
func (n *Node) EnqueueRemoval(ref ReplicaRef) {
	n.assertQueueable()
	if n.IsDestroyed(ref) {
		return
	}
	n.replicaState.queues.enqueueRemoval(ChunkReplicaKey{ChunkID: ref.ChunkID, ReplicaIndex: ref.ReplicaIndex}, ref.MediumIndex)
}

func (n *Node) RemoveFromRemovalQueue(ref ReplicaRef, medium int32) {
	n.assertQueueable()
	n.replicaState.queues.removeFromRemoval(ChunkReplicaKey{ChunkID: ref.ChunkID, ReplicaIndex: ref.ReplicaIndex}, medium)
}

func (n *Node) RemovalQueueLen() int { return n.replicaState.queues.RemovalQueueLen() }

func (n *Node) AddToSealQueue(ref ReplicaRef) {
	n.assertQueueable()
	n.replicaState.queues.addSeal(ref)
}

func (n *Node) RemoveFromSealQueue(ref ReplicaRef) {
	n.assertQueueable()
	n.replicaState.queues.removeSeal(ref)
}

func (n *Node) InSealQueue(ref ReplicaRef) bool { return n.replicaState.queues.hasSeal(ref) }

func (n *Node) SetEndorsement(chunkID string, revision int64) {
	n.assertQueueable()
	n.replicaState.queues.setEndorsement(chunkID, revision)
}

func (n *Node) MarkEndorsementPending(chunkID string) {
	n.assertQueueable()
	n.replicaState.queues.markEndorsementPending(chunkID)
}

func (n *Node) ConfirmEndorsement(chunkID string) {
	n.assertQueueable()
	n.replicaState.queues.confirmEndorsement(chunkID)
}

func (n *Node) Endorsement(chunkID string) (*Endorsement, bool) {
	return n.replicaState.queues.endorsement(chunkID)
}

// EnqueuePushReplicationCRP enqueues push replication of a chunk from
// source to target on a medium, keeping push-replication,
// push-replication-target-node-ids (on source), and chunks-being-pulled
// (on target) consistent.
func EnqueuePushReplicationCRP(priority int, source, target *Node, chunkID string, replicaIndex int32, medium int32, alertFn func(string)) {
	source.assertQueueable()
	key := ChunkReplicaKey{ChunkID: chunkID, ReplicaIndex: replicaIndex}
	source.replicaState.queues.enqueuePush(priority, key, medium)
	source.replicaState.queues.setPushTarget(chunkID, medium, target.ID(), alertFn)
	target.replicaState.queues.addBeingPulled(chunkID, medium)
}

// RemoveFromChunkReplicationQueues tears down a push-replication
// registration: removes the push-replication entry from the source
// across all priorities, drops the target-node mapping, and clears the
// corresponding chunks-being-pulled entry on the target.
func RemoveFromChunkReplicationQueues(priorityCount int, source *Node, target *Node, chunkID string, replicaIndex int32) {
	key := ChunkReplicaKey{ChunkID: chunkID, ReplicaIndex: replicaIndex}
	for p := 0; p < priorityCount; p++ {
		source.replicaState.queues.removePush(p, key, AllMediaIndex)
	}
	source.replicaState.queues.removePushTarget(chunkID, AllMediaIndex)
	if target != nil {
		target.replicaState.queues.removeBeingPulled(chunkID, AllMediaIndex)
	}
}

func (n *Node) PushTarget(chunkID string, medium int32) (cmn.NodeID, bool) {
	return n.replicaState.queues.pushTarget(chunkID, medium)
}

func (n *Node) PushHasMedium(priority int, chunkID string, replicaIndex int32, medium int32) bool {
	return n.replicaState.queues.pushHasMedium(priority, ChunkReplicaKey{ChunkID: chunkID, ReplicaIndex: replicaIndex}, medium)
}

func (n *Node) IsBeingPulled(chunkID string, medium int32) bool {
	return n.replicaState.queues.beingPulledHasMedium(chunkID, medium)
}

func (n *Node) EnqueuePullReplication(priority int, chunkID string, medium int32) {
	n.assertQueueable()
	n.replicaState.queues.enqueuePull(priority, chunkID, medium)
}

func (n *Node) RemovePullReplication(priority int, chunkID string, medium int32) {
	n.assertQueueable()
	n.replicaState.queues.removePull(priority, chunkID, medium)
}

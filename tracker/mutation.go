// Package tracker drives the node registry's lifecycle: registration,
// heartbeats, lease renewal, and the concurrency gates around them. The
// consensus/mutation engine that actually orders and durably commits these
// records lives outside this module; tracker only produces opaque
// mutation records and, once a record comes back as committed, applies it
// to the in-memory cluster.Registry.
package tracker

import (
	"context"
	"time"

	"github.com/dzen-platform/nodetracker/cmn"
)

type (
	// MutationKind distinguishes the handful of record shapes the tracker
	// ever produces; the consensus engine itself never branches on this,
	// it's opaque to everyone except Tracker.Apply and its apply* handlers.
	MutationKind string

	// Mutation is the opaque record handed to the external consensus
	// pipeline. Payload is kind-specific; tracker never interprets it
	// until the record comes back through Apply.
	Mutation struct {
		ID          string
		Kind        MutationKind
		Payload     interface{}
		SubmittedAt time.Time
	}

	// Log is the interface the node tracker expects of the external
	// consensus/mutation pipeline: submit a record, get back either a
	// commit (the record is durable and in total order with every other
	// submitted record) or an error. The node tracker's own state only
	// changes in response to a committed record coming back through
	// Apply, never directly from a Submit call succeeding.
	Log interface {
		Submit(ctx context.Context, m *Mutation) error
	}
)

const (
	MutationRegister              MutationKind = "register"
	MutationFullHeartbeat         MutationKind = "full_heartbeat"
	MutationIncrementalHeartbeat  MutationKind = "incremental_heartbeat"
	MutationUnregister            MutationKind = "unregister"
	MutationRemove                MutationKind = "remove"
	MutationMaintenanceRequest    MutationKind = "maintenance_request"
	MutationMaintenanceClear      MutationKind = "maintenance_clear"
)

// NewMutation stamps a fresh mutation record with a generated id; callers
// fill in Payload before submitting.
func NewMutation(kind MutationKind, payload interface{}) *Mutation {
	return &Mutation{
		ID:          cmn.GenUUID(),
		Kind:        kind,
		Payload:     payload,
		SubmittedAt: time.Now(),
	}
}

type (
	RegisterPayload struct {
		NodeID          cmn.NodeID
		Addresses       map[string]string
		UserTags        []string
		NodeTags        []string
		Flavors         int
		HostName        string
		LeaseID         string
		LeaseTimeout    time.Duration
	}

	FullHeartbeatPayload struct {
		NodeID     cmn.NodeID
		Kind       int
		Statistics map[string]statisticsWire
		Alerts     []string
	}

	IncrementalHeartbeatPayload struct {
		NodeID          cmn.NodeID
		Kind            int
		DeltaStatistics map[string]statisticsWire
		Alerts          []string
	}

	UnregisterPayload struct {
		NodeID cmn.NodeID
		Reason string
	}

	RemovePayload struct {
		NodeID cmn.NodeID
	}

	MaintenanceRequestPayload struct {
		NodeID         cmn.NodeID
		RequestID      string
		RequestingUser string
		Kind           int
		Comment        string
		Timestamp      time.Time
	}

	MaintenanceClearPayload struct {
		NodeID    cmn.NodeID
		RequestID string
	}

	statisticsWire struct {
		SessionCount int64
		TotalSpace   int64
		UsedSpace    int64
	}
)

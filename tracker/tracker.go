package tracker

import (
	"sync/atomic"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/config"
	"github.com/golang/glog"
)

// Tracker wires the cluster.Registry and cluster.Signals to the external
// consensus pipeline (Log), the same "handlers talk to cluster.Sowner,
// never to the wire directly" split aistore's ais/target.go and
// ais/proxy.go keep between HTTP handlers and cluster state.
type Tracker struct {
	registry *cluster.Registry
	signals  *cluster.Signals
	gates    *gates
	removals *removalQueue
	log      Log
	leader   atomic.Bool
}

// SetLeader flips whether this cell is the one that accepts mutating
// RPCs, mirroring ais/vote.go's primary-proxy guard (see
// newErrNotPrimary): every non-leader cell still applies committed
// records through Apply, it just refuses to originate new ones.
func (t *Tracker) SetLeader(leader bool) { t.leader.Store(leader) }

func (t *Tracker) IsLeader() bool { return t.leader.Load() }

func (t *Tracker) requireLeader() error {
	if !t.leader.Load() {
		return &cmn.ErrNotLeader{}
	}
	return nil
}

func New(registry *cluster.Registry, signals *cluster.Signals, log Log) *Tracker {
	cfg := config.GCO.Get()
	t := &Tracker{
		registry: registry,
		signals:  signals,
		gates: newGates(
			cfg.Registration.MaxConcurrentRegistrations,
			cfg.Registration.MaxConcurrentUnregistrations,
			cfg.Heartbeat.IncrementalConcurrencyLimit,
		),
		removals: newRemovalQueue(),
		log:      log,
	}
	glog.Infof("tracker: gates registrations=%d unregistrations=%d incr_heartbeat=%d",
		cfg.Registration.MaxConcurrentRegistrations,
		cfg.Registration.MaxConcurrentUnregistrations,
		cfg.Heartbeat.IncrementalConcurrencyLimit)
	return t
}

// Apply routes a committed mutation record to the matching handler. The
// consensus pipeline calls this once a record is durable and next in
// order; tracker never applies a record it submitted itself until it
// comes back through here, so every node change is serialized the same
// way regardless of which replica originated it.
func (t *Tracker) Apply(m *Mutation) error {
	switch m.Kind {
	case MutationRegister:
		p, ok := m.Payload.(RegisterPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyRegister(p)
	case MutationFullHeartbeat:
		p, ok := m.Payload.(FullHeartbeatPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyFullHeartbeat(p)
	case MutationIncrementalHeartbeat:
		p, ok := m.Payload.(IncrementalHeartbeatPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyIncrementalHeartbeat(p)
	case MutationUnregister:
		p, ok := m.Payload.(UnregisterPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyUnregister(p)
	case MutationRemove:
		p, ok := m.Payload.(RemovePayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyRemove(p)
	case MutationMaintenanceRequest:
		p, ok := m.Payload.(MaintenanceRequestPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyMaintenanceRequest(p)
	case MutationMaintenanceClear:
		p, ok := m.Payload.(MaintenanceClearPayload)
		if !ok {
			return errBadPayload(m.Kind)
		}
		return t.applyMaintenanceClear(p)
	default:
		glog.Warningf("tracker: ignoring mutation of unknown kind %q", m.Kind)
		return nil
	}
}

func errBadPayload(kind MutationKind) error {
	return &payloadMismatchError{kind: kind}
}

type payloadMismatchError struct{ kind MutationKind }

func (e *payloadMismatchError) Error() string {
	return "tracker: payload type does not match mutation kind " + string(e.kind)
}

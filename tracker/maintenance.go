package tracker

import (
	"context"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/golang/glog"
)

type (
	MaintenanceRequestRequest struct {
		NodeID         cmn.NodeID
		RequestID      string
		RequestingUser string
		Kind           cluster.MaintenanceKind
		Comment        string
	}

	MaintenanceClearRequest struct {
		NodeID    cmn.NodeID
		RequestID string
	}
)

// RequestMaintenance submits a new maintenance flag for a node (ban,
// decommission, disable-scheduler-jobs, disable-write-sessions,
// disable-tablet-cells), collapsing what the original per-flag RPCs did
// into the one AddMaintenanceRequest entry point on cluster.Node.
func (t *Tracker) RequestMaintenance(ctx context.Context, req *MaintenanceRequestRequest) error {
	if err := t.requireLeader(); err != nil {
		return err
	}
	if _, err := t.registry.GetNodeOrThrow(req.NodeID); err != nil {
		return err
	}
	m := NewMutation(MutationMaintenanceRequest, MaintenanceRequestPayload{
		NodeID:         req.NodeID,
		RequestID:      req.RequestID,
		RequestingUser: req.RequestingUser,
		Kind:           int(req.Kind),
		Comment:        req.Comment,
		Timestamp:      time.Now(),
	})
	return t.log.Submit(ctx, m)
}

// ClearMaintenance removes a previously requested flag by its request id.
// Clearing an id that no longer exists is a no-op, not an error, since
// two concurrent clears of the same request are expected to race.
func (t *Tracker) ClearMaintenance(ctx context.Context, req *MaintenanceClearRequest) error {
	if err := t.requireLeader(); err != nil {
		return err
	}
	if _, err := t.registry.GetNodeOrThrow(req.NodeID); err != nil {
		return err
	}
	m := NewMutation(MutationMaintenanceClear, MaintenanceClearPayload{
		NodeID:    req.NodeID,
		RequestID: req.RequestID,
	})
	return t.log.Submit(ctx, m)
}

func (t *Tracker) applyMaintenanceRequest(p MaintenanceRequestPayload) error {
	n, err := t.registry.GetNodeOrThrow(p.NodeID)
	if err != nil {
		return err
	}
	n.AddMaintenanceRequest(p.RequestID, p.RequestingUser, cluster.MaintenanceKind(p.Kind), p.Comment, p.Timestamp)
	glog.Infof("tracker: %s maintenance request %s (kind=%d) by %s", n, p.RequestID, p.Kind, p.RequestingUser)
	t.signals.FireConfigUpdated(n)
	return nil
}

func (t *Tracker) applyMaintenanceClear(p MaintenanceClearPayload) error {
	n, err := t.registry.GetNodeOrThrow(p.NodeID)
	if err != nil {
		return err
	}
	n.RemoveMaintenanceRequest(p.RequestID)
	glog.Infof("tracker: %s maintenance request %s cleared", n, p.RequestID)
	t.signals.FireConfigUpdated(n)
	return nil
}

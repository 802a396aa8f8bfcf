package tracker

import (
	"context"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/config"
	"github.com/golang/glog"
)

type (
	FullHeartbeatRequest struct {
		NodeID cmn.NodeID
		Kind cluster.HeartbeatKind
		Statistics map[string]cluster.PerMediumStat
		Alerts []string
	}

	IncrementalHeartbeatRequest struct {
		NodeID cmn.NodeID
		Kind cluster.HeartbeatKind
		DeltaStatistics map[string]cluster.PerMediumStat
		Alerts []string
	}
)

// FullHeartbeat is a complete resnapshot of one heartbeat kind's
// statistics, unthrottled by the incremental-heartbeat semaphore since
// full heartbeats are expected to be comparatively rare (initial online
// transition, post-maintenance resync).
func (t *Tracker) FullHeartbeat(ctx context.Context, req *FullHeartbeatRequest) error {
	if err := t.requireLeader(); err != nil {
		return err
	}
	if _, err := t.registry.GetNodeOrThrow(req.NodeID); err != nil {
		return err
	}
	m := NewMutation(MutationFullHeartbeat, FullHeartbeatPayload{
		NodeID: req.NodeID,
		Kind: int(req.Kind),
		Statistics: toWireStats(req.Statistics),
		Alerts: req.Alerts,
	})
	return t.log.Submit(ctx, m)
}

// IncrementalHeartbeat is gated by the incremental-heartbeat concurrency
// limit: this is the high-frequency path, so it's the one bounded
// tightly enough to matter for backpressure.
func (t *Tracker) IncrementalHeartbeat(ctx context.Context, req *IncrementalHeartbeatRequest) error {
	if err := t.requireLeader(); err != nil {
		return err
	}
	if err := t.gates.acquireIncrHeartbeat(ctx); err != nil {
		return err
	}
	defer t.gates.releaseIncrHeartbeat()

	if _, err := t.registry.GetNodeOrThrow(req.NodeID); err != nil {
		return err
	}
	m := NewMutation(MutationIncrementalHeartbeat, IncrementalHeartbeatPayload{
		NodeID: req.NodeID,
		Kind: int(req.Kind),
		DeltaStatistics: toWireStats(req.DeltaStatistics),
		Alerts: req.Alerts,
	})
	return t.log.Submit(ctx, m)
}

func toWireStats(m map[string]cluster.PerMediumStat) map[string]statisticsWire {
	out := make(map[string]statisticsWire, len(m))
	for medium, st := range m {
		out[medium] = statisticsWire{
			SessionCount: st.SessionCount,
			TotalSpace: st.TotalSpace,
			UsedSpace: st.UsedSpace,
		}
	}
	return out
}

func fromWireStats(m map[string]statisticsWire) map[string]cluster.PerMediumStat {
	out := make(map[string]cluster.PerMediumStat, len(m))
	for medium, st := range m {
		out[medium] = cluster.PerMediumStat{
			SessionCount: st.SessionCount,
			TotalSpace: st.TotalSpace,
			UsedSpace: st.UsedSpace,
		}
	}
	return out
}

// applyFullHeartbeat records the heartbeat kind, merges the reported
// per-medium statistics (treating resource limits as infinite during the
// startup grace window), renews the lease, and drives the Registered ->
// Online transition once every heartbeat kind the node's flavors require
// has been seen.
func (t *Tracker) applyFullHeartbeat(p FullHeartbeatPayload) error {
	n, err := t.registry.GetNodeOrThrow(p.NodeID)
	if err != nil {
		return err
	}
	if n.LocalState() != cluster.LifecycleRegistered {
		return &cmn.ErrInvalidState{Entity: "node", State: n.LocalState().String(), Want: cluster.LifecycleRegistered.String()}
	}
	stats := fromWireStats(p.Statistics)
	if err := t.applyHeartbeatCommon(n, cluster.HeartbeatKind(p.Kind), stats, p.Alerts); err != nil {
		return err
	}
	t.signals.FireFullHeartbeat(cluster.FullHeartbeatEvent{Node: n, Statistics: stats})
	return nil
}

func (t *Tracker) applyIncrementalHeartbeat(p IncrementalHeartbeatPayload) error {
	n, err := t.registry.GetNodeOrThrow(p.NodeID)
	if err != nil {
		return err
	}
	if n.LocalState() != cluster.LifecycleOnline {
		return &cmn.ErrInvalidState{Entity: "node", State: n.LocalState().String(), Want: cluster.LifecycleOnline.String()}
	}
	stats := fromWireStats(p.DeltaStatistics)
	if err := t.applyHeartbeatCommon(n, cluster.HeartbeatKind(p.Kind), stats, p.Alerts); err != nil {
		return err
	}
	t.signals.FireIncrementalHeartbeat(cluster.IncrementalHeartbeatEvent{Node: n, DeltaStatistics: stats, Alerts: p.Alerts})
	return nil
}

func (t *Tracker) applyHeartbeatCommon(n *cluster.Node, kind cluster.HeartbeatKind, stats map[string]cluster.PerMediumStat, alerts []string) error {
	cfg := config.GCO.Get()
	n.ApplyHeartbeat(kind)
	n.ApplyLastSeen(time.Now())
	if len(alerts) > 0 {
		n.ApplyAlerts(alerts)
	}

	grace := time.Since(n.RegisterTime()) < cfg.Resources.TotalResourceLimitsConsiderDelay
	n.ApplyStatistics(stats, grace)
	n.ApplyLeaseRenewal(time.Now(), cfg.Registration.RegisteredNodeTimeout, cfg.Registration.OnlineNodeTimeout)

	if n.LocalState() == cluster.LifecycleRegistered && n.ReadyForOnline() {
		if err := transitionNode(n, cluster.LifecycleOnline, t.signals); err != nil {
			return err
		}
		glog.Infof("tracker: %s online", n)
	}
	return nil
}

// Package stats exposes the aggregate cluster-node-map view as
// Prometheus gauges, refreshed on every lifecycle and heartbeat signal
// rather than on a polling loop — the same "push on event, not on
// timer" wiring the node tracker uses for its own signals.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/surface"
)

// Collector holds the gauge set and the registry it recomputes the
// aggregate view from. Registered with a caller-supplied
// prometheus.Registerer rather than the global default, so a process
// embedding more than one tracker instance doesn't collide on metric
// names.
type Collector struct {
	mu sync.Mutex

	registry *cluster.Registry

	totalNodes     prometheus.Gauge
	online         prometheus.Gauge
	banned         prometheus.Gauge
	decommissioned prometheus.Gauge
	full           prometheus.Gauge
	withAlerts     prometheus.Gauge
	mediumAvail    *prometheus.GaugeVec
	mediumUsed     *prometheus.GaugeVec
}

func NewCollector(registry *cluster.Registry, registerer prometheus.Registerer) *Collector {
	c := &Collector{
		registry: registry,
		totalNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_total", Help: "Total number of tracked nodes.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_online", Help: "Number of nodes in the online lifecycle state.",
		}),
		banned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_banned", Help: "Number of banned nodes.",
		}),
		decommissioned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_decommissioned", Help: "Number of decommissioned nodes.",
		}),
		full: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_full", Help: "Number of nodes with at least one medium at or above the full fill factor.",
		}),
		withAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "nodes_with_alerts", Help: "Number of nodes currently reporting alerts.",
		}),
		mediumAvail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "medium_available_bytes", Help: "Available bytes summed across nodes, per medium.",
		}, []string{"medium"}),
		mediumUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nodetracker", Name: "medium_used_bytes", Help: "Used bytes summed across nodes, per medium.",
		}, []string{"medium"}),
	}
	registerer.MustRegister(c.totalNodes, c.online, c.banned, c.decommissioned, c.full, c.withAlerts,
		c.mediumAvail, c.mediumUsed)
	return c
}

// Refresh recomputes the aggregate view and updates every gauge. Safe to
// call concurrently; callers serialize through mu so a slow recompute
// never interleaves two partial gauge updates.
func (c *Collector) Refresh() {
	agg := surface.ComputeAggregate(c.registry)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalNodes.Set(float64(agg.TotalNodes))
	c.online.Set(float64(agg.Online))
	c.banned.Set(float64(agg.Banned))
	c.decommissioned.Set(float64(agg.Decommissioned))
	c.full.Set(float64(agg.Full))
	c.withAlerts.Set(float64(agg.WithAlerts))

	c.mediumAvail.Reset()
	c.mediumUsed.Reset()
	for medium, space := range agg.PerMedium {
		c.mediumAvail.WithLabelValues(medium).Set(float64(space.Available))
		c.mediumUsed.WithLabelValues(medium).Set(float64(space.Used))
	}
}

// Wire subscribes Refresh to the signal bus: any lifecycle transition,
// removal, or heartbeat triggers a recompute. Full/incremental heartbeats
// are by far the highest-frequency signal, so Refresh must stay O(nodes)
// and cheap per call, never O(nodes * mediums^2) or worse.
func (c *Collector) Wire(signals *cluster.Signals) {
	signals.OnRegistered(func(*cluster.Node) { c.Refresh() })
	signals.OnUnregistered(func(*cluster.Node) { c.Refresh() })
	signals.OnRemoved(func(cmn.NodeID) { c.Refresh() })
	signals.OnFullHeartbeat(func(cluster.FullHeartbeatEvent) { c.Refresh() })
	signals.OnIncrementalHeartbeat(func(cluster.IncrementalHeartbeatEvent) { c.Refresh() })
	signals.OnAggregatedStateChanged(func(*cluster.Node, cluster.LifecycleState) { c.Refresh() })
}

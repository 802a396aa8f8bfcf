package surface

import "github.com/dzen-platform/nodetracker/cluster"

// fullFillFactor is the per-medium fill factor at or above which a node
// counts as "full" in the aggregate view.
const fullFillFactor = 0.95

// MediumSpace is the available/used space summed across every node for
// one medium name.
type MediumSpace struct {
	Available int64
	Used      int64
}

// Aggregate is the synthetic cluster-node-map view the stats package
// turns into Prometheus gauges: headline node counts plus per-medium
// space, recomputed on demand from the live registry rather than kept
// incrementally in sync with every mutation.
type Aggregate struct {
	TotalNodes     int
	Online         int
	Banned         int
	Decommissioned int
	Full           int
	WithAlerts     int
	PerMedium      map[string]MediumSpace
}

// ComputeAggregate walks every node once. Called from the stats
// package's signal handlers, not from the mutation hot path.
func ComputeAggregate(reg *cluster.Registry) Aggregate {
	agg := Aggregate{PerMedium: make(map[string]MediumSpace)}
	for _, n := range reg.AllNodes() {
		agg.TotalNodes++
		if n.LocalState() == cluster.LifecycleOnline {
			agg.Online++
		}
		if n.Banned() {
			agg.Banned++
		}
		if n.Decommissioned() {
			agg.Decommissioned++
		}
		if len(n.Alerts()) > 0 {
			agg.WithAlerts++
		}
		full := false
		for medium, stat := range n.PerMediumStats() {
			ms := agg.PerMedium[medium]
			ms.Used += stat.UsedSpace
			if stat.TotalSpace > stat.UsedSpace {
				ms.Available += stat.TotalSpace - stat.UsedSpace
			}
			agg.PerMedium[medium] = ms
			if stat.FillFactor >= fullFillFactor {
				full = true
			}
		}
		if full {
			agg.Full++
		}
	}
	return agg
}

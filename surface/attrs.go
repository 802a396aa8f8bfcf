// Package surface is the operator-facing external surface over the
// cluster registry: a fixed attribute tree per entity type (node, rack,
// data center, host), rendered as JSON, with a small set of writable
// attributes routed through the registry's own setters so derived state
// (tags, host bindings) never drifts out of sync with a direct write.
package surface

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AttrError reports a failed attribute read or write: unknown name,
// wrong type, or an attempt to write a read-only or non-removable one.
type AttrError struct {
	Entity string
	Name   string
	Reason string
}

func (e *AttrError) Error() string {
	return fmt.Sprintf("%s attribute %q: %s", e.Entity, e.Name, e.Reason)
}

// NodeAttributeNames lists every node attribute exposed to operators, in
// the stable order they should be listed in.
var NodeAttributeNames = []string{
	"banned", "decommissioned", "disable-write-sessions", "disable-scheduler-jobs",
	"disable-tablet-cells", "rack", "user-tags", "resource-limits-overrides",
	"tags", "data-center", "state", "multicell-states", "last-seen-time",
	"register-time", "addresses", "statistics", "alerts", "resource-usage",
	"resource-limits", "chunk-replica-count", "destroyed-chunk-replica-count",
}

var writableNodeAttrs = map[string]bool{
	"banned": true, "decommissioned": true, "disable-write-sessions": true,
	"disable-scheduler-jobs": true, "disable-tablet-cells": true,
	"rack": true, "user-tags": true, "resource-limits-overrides": true,
}

// RenderNode produces the full attribute map for one node, JSON-ready.
func RenderNode(n *cluster.Node) map[string]interface{} {
	return map[string]interface{}{
		"banned":                    n.Banned(),
		"decommissioned":            n.Decommissioned(),
		"disable-write-sessions":    n.DisableWriteSessions(),
		"disable-scheduler-jobs":    n.DisableSchedulerJobs(),
		"disable-tablet-cells":      n.DisableTabletCells(),
		"rack":                      n.RackName(),
		"user-tags":                 n.UserTags(),
		"resource-limits-overrides": n.ResourceOverridesSnapshot(),
		"tags":                      n.EffectiveTags(),
		"data-center":               n.DataCenterName(),
		"state":                     n.LocalState().String(),
		"multicell-states":          renderMulticellStates(n),
		"last-seen-time":            n.LastSeenTime(),
		"register-time":             n.RegisterTime(),
		"addresses":                 n.Addresses(),
		"statistics":                n.PerMediumStats(),
		"alerts":                    n.Alerts(),
		"resource-usage":            n.PerMediumStats(),
		"resource-limits":           n.ResourceLimitsSnapshot(),
		"chunk-replica-count":       n.ChunkReplicaCount(),
		"destroyed-chunk-replica-count": n.DestroyedChunkReplicaCount(),
	}
}

func renderMulticellStates(n *cluster.Node) map[string]string {
	states := n.PerCellStates()
	out := make(map[string]string, len(states))
	for tag, st := range states {
		out[tag] = st.String()
	}
	return out
}

// SetNodeAttribute applies a single writable node attribute. value is the
// raw JSON the caller sent; unmarshaled according to the attribute's
// type. Banned/decommissioned/disable-* are booleans toggled through the
// node's single maintenance entry point with a synthetic request id
// derived from the attribute name, so repeated writes of the same value
// are idempotent.
func SetNodeAttribute(reg *cluster.Registry, n *cluster.Node, name string, value []byte) error {
	if !writableNodeAttrs[name] {
		return &AttrError{Entity: "node", Name: name, Reason: "not writable"}
	}
	switch name {
	case "banned", "decommissioned", "disable-write-sessions", "disable-scheduler-jobs", "disable-tablet-cells":
		var enabled bool
		if err := json.Unmarshal(value, &enabled); err != nil {
			return &AttrError{Entity: "node", Name: name, Reason: "expected bool"}
		}
		return setMaintenanceFlag(n, name, enabled)
	case "rack":
		var rackName string
		if err := json.Unmarshal(value, &rackName); err != nil {
			return &AttrError{Entity: "node", Name: name, Reason: "expected string"}
		}
		return setNodeRack(reg, n, rackName)
	case "user-tags":
		var tags []string
		if err := json.Unmarshal(value, &tags); err != nil {
			return &AttrError{Entity: "node", Name: name, Reason: "expected string list"}
		}
		reg.SetNodeUserTags(n, tags)
		return nil
	case "resource-limits-overrides":
		var overrides map[string]int64
		if err := json.Unmarshal(value, &overrides); err != nil {
			return &AttrError{Entity: "node", Name: name, Reason: "expected medium->bytes map"}
		}
		n.SetResourceOverrides(overrides)
		return nil
	}
	return &AttrError{Entity: "node", Name: name, Reason: "not writable"}
}

var maintenanceKindByAttr = map[string]cluster.MaintenanceKind{
	"banned":                 cluster.MaintenanceBan,
	"decommissioned":         cluster.MaintenanceDecommission,
	"disable-scheduler-jobs": cluster.MaintenanceDisableSchedulerJobs,
	"disable-write-sessions": cluster.MaintenanceDisableWriteSessions,
	"disable-tablet-cells":   cluster.MaintenanceDisableTabletCells,
}

// maintenanceRequestID gives every attribute-driven flag a stable
// request id, so toggling the same attribute twice updates the same
// entry instead of accumulating duplicates.
func maintenanceRequestID(attr string) string { return "attr:" + attr }

func setMaintenanceFlag(n *cluster.Node, attr string, enabled bool) error {
	kind, ok := maintenanceKindByAttr[attr]
	if !ok {
		return &AttrError{Entity: "node", Name: attr, Reason: "unknown maintenance flag"}
	}
	id := maintenanceRequestID(attr)
	if enabled {
		n.AddMaintenanceRequest(id, "operator", kind, "", n.LastSeenTime())
		return nil
	}
	n.RemoveMaintenanceRequest(id)
	return nil
}

func setNodeRack(reg *cluster.Registry, n *cluster.Node, rackName string) error {
	host := n.Host()
	if host == nil {
		return &AttrError{Entity: "node", Name: "rack", Reason: "node is not bound to a host"}
	}
	rk, ok := reg.FindRackByName(rackName)
	if !ok {
		return &AttrError{Entity: "node", Name: "rack", Reason: fmt.Sprintf("rack %q not found", rackName)}
	}
	reg.SetHostRack(host, rk)
	return nil
}

// RackAttributeNames lists rack attributes; "name" is mandatory, the
// rest are optional or read-only as noted.
var RackAttributeNames = []string{"name", "data-center", "index", "nodes"}

func RenderRack(rk *cluster.Rack) map[string]interface{} {
	dcName := ""
	if dc := rk.DataCenter(); dc != nil {
		dcName = dc.Name()
	}
	nodeIDs := make([]cmn.NodeID, 0)
	return map[string]interface{}{
		"name":        rk.Name(),
		"data-center": dcName,
		"index":       rk.Index(),
		"nodes":       nodeIDs, // populated by callers that also hold the registry's node list
	}
}

// SetRackAttribute applies "name" (rename) or "data-center" (reparent,
// or detach when value unsets it — the "removable" attribute).
func SetRackAttribute(reg *cluster.Registry, rk *cluster.Rack, name string, value []byte) error {
	switch name {
	case "name":
		var newName string
		if err := json.Unmarshal(value, &newName); err != nil {
			return &AttrError{Entity: "rack", Name: name, Reason: "expected string"}
		}
		return reg.RenameRack(rk, newName)
	case "data-center":
		var dcName string
		if err := json.Unmarshal(value, &dcName); err != nil {
			return &AttrError{Entity: "rack", Name: name, Reason: "expected string"}
		}
		dc, ok := reg.FindDataCenterByName(dcName)
		if !ok {
			return &AttrError{Entity: "rack", Name: name, Reason: fmt.Sprintf("data center %q not found", dcName)}
		}
		reg.SetRackParent(rk, dc)
		return nil
	case "index", "nodes":
		return &AttrError{Entity: "rack", Name: name, Reason: "read-only"}
	}
	return &AttrError{Entity: "rack", Name: name, Reason: "not writable"}
}

// RemoveRackAttribute clears a removable rack attribute; only
// "data-center" is removable, detaching the rack to the unbound state.
func RemoveRackAttribute(reg *cluster.Registry, rk *cluster.Rack, name string) error {
	if name != "data-center" {
		return &AttrError{Entity: "rack", Name: name, Reason: "not removable"}
	}
	reg.SetRackParent(rk, nil)
	return nil
}

func RenderDataCenter(dc *cluster.DataCenter) map[string]interface{} {
	return map[string]interface{}{
		"name":  dc.Name(),
		"index": dc.Index(),
	}
}

func RenderHost(h *cluster.Host) map[string]interface{} {
	rackName := ""
	if rk := h.Rack(); rk != nil {
		rackName = rk.Name()
	}
	nodes := h.Nodes()
	ids := make([]cmn.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return map[string]interface{}{
		"name":  h.Name(),
		"rack":  rackName,
		"nodes": ids,
	}
}

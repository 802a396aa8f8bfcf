package cluster

import "github.com/dzen-platform/nodetracker/cmn/cos"

func hashString(s string) uint64 { return cos.HashString64(s) }

// rebuildTags recomputes the node's effective tag set: the union of user
// tags, node tags, and derived tags (service host name, host name, rack
// name, DC name). Linear in the tag counts plus a constant for the
// derived tags, and idempotent.
func (n *Node) rebuildTags() {
	n.mu.Lock()
	defer n.mu.Unlock()

	effective := make(map[string]struct{}, len(n.userTags)+len(n.nodeTags)+4)
	for _, t := range n.userTags {
		effective[t] = struct{}{}
	}
	for _, t := range n.nodeTags {
		effective[t] = struct{}{}
	}
	if n.serviceHostName != "" {
		effective[n.serviceHostName] = struct{}{}
	}
	if n.host != nil {
		if hn := n.host.Name(); hn != "" {
			effective[hn] = struct{}{}
		}
		if rack := n.host.Rack(); rack != nil {
			if rn := rack.Name(); rn != "" {
				effective[rn] = struct{}{}
			}
			if dc := rack.DataCenter(); dc != nil {
				if dn := dc.Name(); dn != "" {
					effective[dn] = struct{}{}
				}
			}
		}
	}
	n.effectiveTags = effective
}

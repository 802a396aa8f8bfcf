// Package persist implements the node tracker's on-disk snapshot: a
// deterministic, checksummed, optionally lz4-compressed binary encoding
// of the registry, written the same atomic-rename way aistore's
// cmn/jsp package persists cluster metadata, but with a msgpack wire
// format instead of JSON — this state is written on every snapshot
// interval, and compactness/decode speed matter more here than
// human-readability.
package persist

import (
	"sort"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Records are hand-written msgp.Encodable/Decodable implementations, in
// the same per-field map-header-then-key-then-value shape
// github.com/tinylib/msgp generates (see dsort/extract/shard_gen.go in
// aistore), just without the code-generation step: the node
// tracker's record set is small and changes rarely enough that
// maintaining the handful of methods by hand is cheaper than wiring a
// go:generate step into this module's build.
type (
	dataCenterRecord struct {
		ID    uint64
		Name  string
		Index int
	}

	rackRecord struct {
		ID       uint64
		Name     string
		Index    int
		DCName   string // "" if unassigned
	}

	hostRecord struct {
		ID       uint64
		Name     string
		RackName string
	}

	// nodeRecord is the persisted subset of cluster.Node: identity,
	// addresses, user tags, flavors, lifecycle and lease state, resource
	// limits/overrides, and topology placement. Per-medium statistics,
	// chunk replica sets, and queues are intentionally NOT part of the
	// snapshot — they are re-derived from heartbeats after a restart, the
	// same way aistore's target rebuilds its local content catalog
	// from the filesystem rather than persisting it, and their size would
	// dominate the snapshot for no benefit (a restarted process re-learns
	// them within one heartbeat interval).
	nodeRecord struct {
		ID              int32
		Addresses       map[string]string
		UserTags        []string
		NodeTags        []string
		Flavors         uint8
		LocalState      uint8
		HostName        string
		LeaseID         string
		LeaseTimeoutNs  int64
		ResourceLimits  map[string]int64
		ResourceOverrides map[string]int64
		RegisterTimeNs  int64
		LastSeenTimeNs  int64
	}
)

func (r *dataCenterRecord) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteMapHeader(3); err != nil {
		return err
	}
	if err := writeField(en, "id", func() error { return en.WriteUint64(r.ID) }); err != nil {
		return err
	}
	if err := writeField(en, "name", func() error { return en.WriteString(r.Name) }); err != nil {
		return err
	}
	return writeField(en, "index", func() error { return en.WriteInt(r.Index) })
}

func (r *dataCenterRecord) DecodeMsg(dc *msgp.Reader) error {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := dc.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			if r.ID, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "name":
			if r.Name, err = dc.ReadString(); err != nil {
				return err
			}
		case "index":
			if r.Index, err = dc.ReadInt(); err != nil {
				return err
			}
		default:
			if err := dc.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *rackRecord) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteMapHeader(4); err != nil {
		return err
	}
	if err := writeField(en, "id", func() error { return en.WriteUint64(r.ID) }); err != nil {
		return err
	}
	if err := writeField(en, "name", func() error { return en.WriteString(r.Name) }); err != nil {
		return err
	}
	if err := writeField(en, "index", func() error { return en.WriteInt(r.Index) }); err != nil {
		return err
	}
	return writeField(en, "dc", func() error { return en.WriteString(r.DCName) })
}

func (r *rackRecord) DecodeMsg(dc *msgp.Reader) error {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := dc.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			if r.ID, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "name":
			if r.Name, err = dc.ReadString(); err != nil {
				return err
			}
		case "index":
			if r.Index, err = dc.ReadInt(); err != nil {
				return err
			}
		case "dc":
			if r.DCName, err = dc.ReadString(); err != nil {
				return err
			}
		default:
			if err := dc.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *hostRecord) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteMapHeader(3); err != nil {
		return err
	}
	if err := writeField(en, "id", func() error { return en.WriteUint64(r.ID) }); err != nil {
		return err
	}
	if err := writeField(en, "name", func() error { return en.WriteString(r.Name) }); err != nil {
		return err
	}
	return writeField(en, "rack", func() error { return en.WriteString(r.RackName) })
}

func (r *hostRecord) DecodeMsg(dc *msgp.Reader) error {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := dc.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			if r.ID, err = dc.ReadUint64(); err != nil {
				return err
			}
		case "name":
			if r.Name, err = dc.ReadString(); err != nil {
				return err
			}
		case "rack":
			if r.RackName, err = dc.ReadString(); err != nil {
				return err
			}
		default:
			if err := dc.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *nodeRecord) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteMapHeader(13); err != nil {
		return err
	}
	fields := []struct {
		key   string
		write func() error
	}{
		{"id", func() error { return en.WriteInt32(r.ID) }},
		{"addr", func() error { return writeStrStrMap(en, r.Addresses) }},
		{"utags", func() error { return writeStringSlice(en, r.UserTags) }},
		{"ntags", func() error { return writeStringSlice(en, r.NodeTags) }},
		{"flavors", func() error { return en.WriteUint8(r.Flavors) }},
		{"state", func() error { return en.WriteUint8(r.LocalState) }},
		{"host", func() error { return en.WriteString(r.HostName) }},
		{"lease", func() error { return en.WriteString(r.LeaseID) }},
		{"lease_to", func() error { return en.WriteInt64(r.LeaseTimeoutNs) }},
		{"limits", func() error { return writeStrInt64Map(en, r.ResourceLimits) }},
		{"overrides", func() error { return writeStrInt64Map(en, r.ResourceOverrides) }},
		{"reg", func() error { return en.WriteInt64(r.RegisterTimeNs) }},
		{"last", func() error { return en.WriteInt64(r.LastSeenTimeNs) }},
	}
	for _, f := range fields {
		if err := writeField(en, f.key, f.write); err != nil {
			return err
		}
	}
	return nil
}

func (r *nodeRecord) DecodeMsg(dc *msgp.Reader) error {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		key, err := dc.ReadString()
		if err != nil {
			return err
		}
		switch key {
		case "id":
			if r.ID, err = dc.ReadInt32(); err != nil {
				return err
			}
		case "addr":
			if r.Addresses, err = readStrStrMap(dc); err != nil {
				return err
			}
		case "utags":
			if r.UserTags, err = readStringSlice(dc); err != nil {
				return err
			}
		case "ntags":
			if r.NodeTags, err = readStringSlice(dc); err != nil {
				return err
			}
		case "flavors":
			if r.Flavors, err = dc.ReadUint8(); err != nil {
				return err
			}
		case "state":
			if r.LocalState, err = dc.ReadUint8(); err != nil {
				return err
			}
		case "host":
			if r.HostName, err = dc.ReadString(); err != nil {
				return err
			}
		case "lease":
			if r.LeaseID, err = dc.ReadString(); err != nil {
				return err
			}
		case "lease_to":
			if r.LeaseTimeoutNs, err = dc.ReadInt64(); err != nil {
				return err
			}
		case "limits":
			if r.ResourceLimits, err = readStrInt64Map(dc); err != nil {
				return err
			}
		case "overrides":
			if r.ResourceOverrides, err = readStrInt64Map(dc); err != nil {
				return err
			}
		case "reg":
			if r.RegisterTimeNs, err = dc.ReadInt64(); err != nil {
				return err
			}
		case "last":
			if r.LastSeenTimeNs, err = dc.ReadInt64(); err != nil {
				return err
			}
		default:
			if err := dc.Skip(); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeField(en *msgp.Writer, key string, write func() error) error {
	if err := en.WriteString(key); err != nil {
		return err
	}
	return write()
}

func writeStringSlice(en *msgp.Writer, s []string) error {
	if err := en.WriteArrayHeader(uint32(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := en.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(dc *msgp.Reader) ([]string, error) {
	n, err := dc.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = dc.ReadString(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeStrStrMap(en *msgp.Writer, m map[string]string) error {
	if err := en.WriteMapHeader(uint32(len(m))); err != nil {
		return err
	}
	for _, k := range sortedKeys(m) {
		v := m[k]
		if err := en.WriteString(k); err != nil {
			return err
		}
		if err := en.WriteString(v); err != nil {
			return err
		}
	}
	return nil
}

func readStrStrMap(dc *msgp.Reader) (map[string]string, error) {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := dc.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := dc.ReadString()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func writeStrInt64Map(en *msgp.Writer, m map[string]int64) error {
	if err := en.WriteMapHeader(uint32(len(m))); err != nil {
		return err
	}
	for _, k := range sortedKeys(m) {
		v := m[k]
		if err := en.WriteString(k); err != nil {
			return err
		}
		if err := en.WriteInt64(v); err != nil {
			return err
		}
	}
	return nil
}

func readStrInt64Map(dc *msgp.Reader) (map[string]int64, error) {
	n, err := dc.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, n)
	for i := uint32(0); i < n; i++ {
		k, err := dc.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := dc.ReadInt64()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// sortedKeys returns m's keys in ascending order, so map-valued fields
// encode identically from one snapshot to the next.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

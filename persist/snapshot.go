package persist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/cos"
	"github.com/dzen-platform/nodetracker/config"
	"github.com/golang/glog"
	lz4 "github.com/pierrec/lz4/v3"
	"github.com/tinylib/msgp/msgp"
)

// FormatVersion gates snapshot compatibility: Load refuses to read a
// snapshot whose version is newer than this binary's, the same
// "Metaver" guard aistore's jsp package keeps on every persisted
// cluster-metadata file.
const FormatVersion = 1

const magic = "ndtrkr"

// Save writes a full registry snapshot to path, atomically (write to a
// tie-named temp file, fsync, rename), mirroring cos.CreateFile /
// cos.FlushClose / cos.GenTie usage in aistore's cmn/jsp.Save. Within
// each entity set (DCs, racks, hosts, nodes) every key is written before
// any value, so Load reads the keys into a slice whose length drives the
// value loop. Entities are written sorted by name (nodes by id), so the
// same registry always encodes to the same bytes.
func Save(path string, r *cluster.Registry) (err error) {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := cos.RemoveFile(tmp); rmErr != nil {
				glog.Errorf("persist: failed to remove %s after save error %v: %v", tmp, err, rmErr)
			}
		}
	}()

	cksum := cos.NewCksumHash()
	bw := bufio.NewWriter(io.MultiWriter(f, cksum))

	compress := config.GCO.Get().Persist.CompressSnapshots
	if err = writeHeader(bw, compress); err != nil {
		cos.Close(f)
		return err
	}

	var body io.Writer = bw
	var lzw *lz4.Writer
	if compress {
		lzw = lz4.NewWriter(bw)
		body = lzw
	}
	if err = encodeBody(body, r); err != nil {
		cos.Close(f)
		return err
	}
	if lzw != nil {
		if err = lzw.Close(); err != nil {
			cos.Close(f)
			return err
		}
	}
	if err = bw.Flush(); err != nil {
		cos.Close(f)
		return err
	}
	// trailer: checksum of everything written above, so Load can detect a
	// torn or corrupted file before touching the registry.
	sum := cksum.Finalize()
	if _, err = f.WriteString(sum.Value()); err != nil {
		cos.Close(f)
		return err
	}
	if err = cos.FlushClose(f); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeHeader(w io.Writer, compress bool) error {
	var flag byte
	if compress {
		flag = 1
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	_, err := w.Write([]byte{FormatVersion, flag})
	return err
}

// Load reads a snapshot written by Save into a fresh registry and calls
// Reconcile so every derived index (address map, rack bitmask, aggregated
// states) is rebuilt from the restored entities.
func Load(path string, maxRacks int, addressPriority []string) (*cluster.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trailerLen := 8 // crc32c hex digest length
	if len(raw) < len(magic)+2+trailerLen {
		return nil, fmt.Errorf("persist: snapshot %s is truncated", path)
	}
	body, trailer := raw[:len(raw)-trailerLen], raw[len(raw)-trailerLen:]

	cksum := cos.NewCksumHash()
	if _, err := cksum.Write(body); err != nil {
		return nil, err
	}
	actual := cksum.Finalize()
	expected := cos.NewCksum("crc32c", string(trailer))
	if !actual.Equal(expected) {
		return nil, &cos.ErrBadCksum{Expected: expected, Actual: actual}
	}

	if string(body[:len(magic)]) != magic {
		return nil, fmt.Errorf("persist: snapshot %s has no valid header", path)
	}
	version, flag := body[len(magic)], body[len(magic)+1]
	if version > FormatVersion {
		return nil, fmt.Errorf("persist: snapshot %s format version %d is newer than this binary supports (%d)", path, version, FormatVersion)
	}
	payload := body[len(magic)+2:]

	var reader io.Reader = bytes.NewReader(payload)
	if flag&1 != 0 {
		reader = lz4.NewReader(reader)
	}

	reg := cluster.NewRegistry(maxRacks, addressPriority)
	if err := decodeBody(reader, reg); err != nil {
		return nil, err
	}
	reg.Reconcile()
	return reg, nil
}

// encodeBody writes, in order: dc count, dc keys (names), dc values;
// rack count, rack keys, rack values; host count, host keys, host values;
// node count, node keys (ids), node values. Each set is sorted by name
// (nodes by id). Load uses the key count to drive its value loop; the
// registry's indices are not presized from it.
func encodeBody(w io.Writer, r *cluster.Registry) error {
	en := msgp.NewWriter(w)

	dcs := r.AllDataCenters()
	sort.Slice(dcs, func(i, j int) bool { return dcs[i].Name() < dcs[j].Name() })
	if err := en.WriteArrayHeader(uint32(len(dcs))); err != nil {
		return err
	}
	for _, dc := range dcs {
		if err := en.WriteString(dc.Name()); err != nil {
			return err
		}
	}
	for _, dc := range dcs {
		rec := &dataCenterRecord{ID: dc.ID(), Name: dc.Name(), Index: dc.Index()}
		if err := rec.EncodeMsg(en); err != nil {
			return err
		}
	}

	racks := r.AllRacks()
	sort.Slice(racks, func(i, j int) bool { return racks[i].Name() < racks[j].Name() })
	if err := en.WriteArrayHeader(uint32(len(racks))); err != nil {
		return err
	}
	for _, rk := range racks {
		if err := en.WriteString(rk.Name()); err != nil {
			return err
		}
	}
	for _, rk := range racks {
		rec := &rackRecord{ID: rk.ID(), Name: rk.Name(), Index: rk.Index(), DCName: rk.DataCenterName()}
		if err := rec.EncodeMsg(en); err != nil {
			return err
		}
	}

	hosts := r.AllHosts()
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name() < hosts[j].Name() })
	if err := en.WriteArrayHeader(uint32(len(hosts))); err != nil {
		return err
	}
	for _, h := range hosts {
		if err := en.WriteString(h.Name()); err != nil {
			return err
		}
	}
	for _, h := range hosts {
		rackName := ""
		if rk := h.Rack(); rk != nil {
			rackName = rk.Name()
		}
		rec := &hostRecord{ID: h.ID(), Name: h.Name(), RackName: rackName}
		if err := rec.EncodeMsg(en); err != nil {
			return err
		}
	}

	nodes := r.AllNodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	if err := en.WriteArrayHeader(uint32(len(nodes))); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := en.WriteInt32(int32(n.ID())); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		rec := nodeToRecord(n)
		if err := rec.EncodeMsg(en); err != nil {
			return err
		}
	}
	return en.Flush()
}

func nodeToRecord(n *cluster.Node) *nodeRecord {
	rec := &nodeRecord{
		ID:                int32(n.ID()),
		Addresses:         n.Addresses(),
		UserTags:          n.UserTags(),
		NodeTags:          nil, // cluster.Node has no accessor for its node tags
		Flavors:           uint8(n.Flavors()),
		LocalState:        uint8(n.LocalState()),
		HostName:          n.HostName(),
		ResourceLimits:    n.ResourceLimitsSnapshot(),
		ResourceOverrides: n.ResourceOverridesSnapshot(),
		RegisterTimeNs:    unixNano(n.RegisterTime()),
		LastSeenTimeNs:    unixNano(n.LastSeenTime()),
	}
	if l := n.Lease(); l != nil {
		rec.LeaseID = l.ID
		rec.LeaseTimeoutNs = int64(l.Timeout)
	}
	return rec
}

// decodeBody is the mirror of encodeBody: it reads each entity set's keys
// first (to size the registry's insert calls deterministically) and then
// its values, creating and wiring entities in dependency order (DCs,
// racks, hosts, nodes).
func decodeBody(r io.Reader, reg *cluster.Registry) error {
	dc := msgp.NewReader(r)

	dcCount, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	dcNames := make([]string, dcCount)
	for i := range dcNames {
		if dcNames[i], err = dc.ReadString(); err != nil {
			return err
		}
	}
	for range dcNames {
		rec := &dataCenterRecord{}
		if err := rec.DecodeMsg(dc); err != nil {
			return err
		}
		if _, err := reg.CreateDataCenter(rec.Name); err != nil {
			return err
		}
	}

	rackCount, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	rackNames := make([]string, rackCount)
	for i := range rackNames {
		if rackNames[i], err = dc.ReadString(); err != nil {
			return err
		}
	}
	for range rackNames {
		rec := &rackRecord{}
		if err := rec.DecodeMsg(dc); err != nil {
			return err
		}
		var parent *cluster.DataCenter
		if rec.DCName != "" {
			parent, _ = reg.FindDataCenterByName(rec.DCName)
		}
		if _, err := reg.CreateRack(rec.Name, parent); err != nil {
			return err
		}
	}

	hostCount, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	hostNames := make([]string, hostCount)
	for i := range hostNames {
		if hostNames[i], err = dc.ReadString(); err != nil {
			return err
		}
	}
	for range hostNames {
		rec := &hostRecord{}
		if err := rec.DecodeMsg(dc); err != nil {
			return err
		}
		rack, _ := reg.FindRackByName(rec.RackName)
		if _, err := reg.CreateHost(rec.Name, rack); err != nil {
			return err
		}
	}

	nodeCount, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	nodeIDs := make([]int32, nodeCount)
	for i := range nodeIDs {
		if nodeIDs[i], err = dc.ReadInt32(); err != nil {
			return err
		}
	}
	for range nodeIDs {
		rec := &nodeRecord{}
		if err := rec.DecodeMsg(dc); err != nil {
			return err
		}
		n := cluster.NewNode(cmn.NodeID(rec.ID), reg.AddressPriority())
		reg.SetNodeFlavors(n, cluster.Flavor(rec.Flavors))
		reg.ReplaceNodeAddresses(n, rec.Addresses)
		reg.SetNodeUserTags(n, rec.UserTags)
		n.ApplyLocalState(cluster.LifecycleState(rec.LocalState))
		n.SetResourceLimits(rec.ResourceLimits)
		n.SetResourceOverrides(rec.ResourceOverrides)
		n.ApplyRegisterTime(fromUnixNano(rec.RegisterTimeNs))
		n.ApplyLastSeen(fromUnixNano(rec.LastSeenTimeNs))
		reg.InsertNode(n)
		if host, ok := reg.FindHostByName(rec.HostName); ok {
			reg.BindNodeToHost(n, host)
		}
		if rec.LeaseID != "" {
			lease := &cluster.LeaseTransaction{ID: rec.LeaseID, Timeout: time.Duration(rec.LeaseTimeoutNs)}
			reg.RegisterLeaseTransaction(n, lease)
		}
	}
	return nil
}

package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/cmn/cos"
	"github.com/dzen-platform/nodetracker/config"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	config.GCO.Put(config.Default())

	reg := cluster.NewRegistry(8, []string{"public"})
	dc, err := reg.CreateDataCenter("dc-1")
	if err != nil {
		t.Fatalf("CreateDataCenter: %v", err)
	}
	rk, err := reg.CreateRack("rack-1", dc)
	if err != nil {
		t.Fatalf("CreateRack: %v", err)
	}
	host, err := reg.CreateHost("host-1", rk)
	if err != nil {
		t.Fatalf("CreateHost: %v", err)
	}

	n := cluster.NewNode(cmn.NodeID(1), []string{"public"})
	reg.SetNodeFlavors(n, cluster.FlavorData)
	reg.ReplaceNodeAddresses(n, map[string]string{"public": "1.2.3.4:80"})
	n.ApplyLocalState(cluster.LifecycleOnline)
	reg.InsertNode(n)
	reg.BindNodeToHost(n, host)

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")
	if err := Save(path, reg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, 8, []string{"public"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := loaded.FindNode(cmn.NodeID(1))
	if !ok {
		t.Fatalf("expected node 1 to survive the round trip")
	}
	if got.DefaultAddress() != "1.2.3.4:80" {
		t.Errorf("DefaultAddress() = %q, want 1.2.3.4:80", got.DefaultAddress())
	}
	if got.LocalState() != cluster.LifecycleOnline {
		t.Errorf("LocalState() = %v, want LifecycleOnline", got.LocalState())
	}
	if got.RackName() != "rack-1" {
		t.Errorf("RackName() = %q, want rack-1", got.RackName())
	}

	if _, ok := loaded.FindDataCenterByName("dc-1"); !ok {
		t.Errorf("expected dc-1 to survive the round trip")
	}
	if _, ok := loaded.FindRackByName("rack-1"); !ok {
		t.Errorf("expected rack-1 to survive the round trip")
	}
}

func TestLoadRejectsCorruptedChecksum(t *testing.T) {
	config.GCO.Put(config.Default())

	reg := cluster.NewRegistry(8, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")
	if err := Save(path, reg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path, 8, nil); err == nil {
		t.Fatalf("expected Load to reject a corrupted snapshot")
	}
}

func TestLoadRejectsNewerFormatVersion(t *testing.T) {
	config.GCO.Put(config.Default())

	reg := cluster.NewRegistry(8, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")
	if err := Save(path, reg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// the version byte follows the magic prefix; recompute the crc32c
	// trailer so Load gets past the checksum to the version gate
	body := raw[:len(raw)-8]
	body[len(magic)] = FormatVersion + 1
	h := cos.NewCksumHash()
	h.Write(body)
	raw = append(body, h.Finalize().Value()...)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(path, 8, nil)
	if err == nil {
		t.Fatalf("expected Load to reject a snapshot from a newer format version")
	}
	if _, bad := err.(*cos.ErrBadCksum); bad {
		t.Fatalf("expected the version gate, not the checksum, to reject the snapshot")
	}
}

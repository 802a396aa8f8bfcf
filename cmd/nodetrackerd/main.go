// Command nodetrackerd runs a standalone node-tracker process: it owns
// one cluster.Registry, applies mutations to it directly (no external
// consensus pipeline wired in this binary — see tracker.Log), and serves
// Prometheus metrics over the aggregate view. Structured the way
// ais/daemon.go's Run() lays out flag parsing, config load, and the
// run loop, minus the proxy/target role split this domain doesn't have.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dzen-platform/nodetracker/cluster"
	"github.com/dzen-platform/nodetracker/cmn"
	"github.com/dzen-platform/nodetracker/config"
	"github.com/dzen-platform/nodetracker/persist"
	"github.com/dzen-platform/nodetracker/stats"
	"github.com/dzen-platform/nodetracker/tracker"
)

type cliFlags struct {
	configPath   string
	snapshotPath string
	listenAddr   string
	leader       bool
}

var cli cliFlags

func init() {
	flag.StringVar(&cli.configPath, "config", "", "path to the node tracker's JSON config file")
	flag.StringVar(&cli.snapshotPath, "snapshot", "", "path to the registry snapshot to load at startup and save on shutdown")
	flag.StringVar(&cli.listenAddr, "listen", ":9480", "address to serve /metrics on")
	flag.BoolVar(&cli.leader, "leader", true, "whether this process accepts mutating RPCs; single-process deployments are always the leader")
}

// localLog applies every submitted mutation to the tracker immediately,
// standing in for the external consensus pipeline tracker.Log expects.
// A real multi-cell deployment replaces this with an adapter over its
// own replicated log; this one exists so the binary runs standalone.
type localLog struct {
	t *tracker.Tracker
}

func (l *localLog) Submit(_ context.Context, m *tracker.Mutation) error {
	return l.t.Apply(m)
}

func loadConfig() *config.Config {
	if cli.configPath == "" {
		cfg := config.Default()
		config.GCO.Put(cfg)
		return cfg
	}
	cfg, err := config.LoadFile(cli.configPath)
	if err != nil {
		glog.Fatalf("nodetrackerd: %v", err)
	}
	config.GCO.Put(cfg)
	return cfg
}

func loadRegistry(cfg *config.Config, addressPriority []string) *cluster.Registry {
	if cli.snapshotPath != "" {
		if _, err := os.Stat(cli.snapshotPath); err == nil {
			reg, err := persist.Load(cli.snapshotPath, cfg.Topology.MaxLiveRacks, addressPriority)
			if err != nil {
				glog.Fatalf("nodetrackerd: failed to load snapshot %s: %v", cli.snapshotPath, err)
			}
			glog.Infof("nodetrackerd: loaded snapshot %s", cli.snapshotPath)
			return reg
		}
	}
	return cluster.NewRegistry(cfg.Topology.MaxLiveRacks, addressPriority)
}

func main() {
	flag.Parse()
	defer glog.Flush()

	cmn.InitUUIDGen(uint64(time.Now().UnixNano()))

	cfg := loadConfig()

	addressPriority := []string{"public", "internal", "storage"}
	registry := loadRegistry(cfg, addressPriority)
	signals := cluster.NewSignals()

	log := &localLog{}
	t := tracker.New(registry, signals, log)
	log.t = t
	t.SetLeader(cli.leader)

	collector := stats.NewCollector(registry, prometheus.DefaultRegisterer)
	collector.Wire(signals)
	collector.Refresh()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runLeaseSweep(ctx, t, cfg)
	go runRemovalDrain(ctx, t, cfg)
	go serveMetrics(cli.listenAddr)

	waitForShutdown()
	cancel()

	if cli.snapshotPath != "" {
		if err := persist.Save(cli.snapshotPath, registry); err != nil {
			glog.Errorf("nodetrackerd: failed to save snapshot on shutdown: %v", err)
		}
	}
	glog.Infoln("nodetrackerd: terminated")
}

func runLeaseSweep(ctx context.Context, t *tracker.Tracker, cfg *config.Config) {
	interval := cfg.Registration.OnlineNodeTimeout / 4
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepExpiredLeases(ctx)
		}
	}
}

func runRemovalDrain(ctx context.Context, t *tracker.Tracker, cfg *config.Config) {
	interval := cfg.Registration.RemovalQueueDrainInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.DrainRemovalQueue(ctx, 64)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	glog.Infof("nodetrackerd: serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		glog.Fatalf("nodetrackerd: metrics server: %v", err)
	}
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	fmt.Fprintf(os.Stderr, "nodetrackerd: received %v, shutting down\n", sig)
}

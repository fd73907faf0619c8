package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxel-world/internal/chunkmgr"
	"github.com/annel0/voxel-world/internal/config"
	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/mesh"
	"github.com/annel0/voxel-world/internal/network"
	"github.com/annel0/voxel-world/internal/observability"
	"github.com/annel0/voxel-world/internal/replication"
	vsync "github.com/annel0/voxel-world/internal/sync"
	"github.com/annel0/voxel-world/internal/world"
	"github.com/annel0/voxel-world/internal/world/block"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (falls back to VOXEL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := logging.Init(cfg.Logging); err != nil {
		log.Fatalf("❌ logging: %v", err)
	}
	defer logging.Close()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		_ = logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🎮 voxel world server starting (seed=%d, chunk=%d)", cfg.World.Seed, cfg.World.ChunkSize)

	// === OBSERVABILITY ===
	shutdownTracing, err := observability.InitTelemetry(ctx, observability.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	reg, err := observability.NewRegistry()
	if err != nil {
		return err
	}
	metricsSrv, err := observability.StartMetricsServer(cfg.Server.Addr(cfg.Server.GetMetricsPort()), reg)
	if err != nil {
		return err
	}
	defer metricsSrv.Stop(context.Background())

	// === STORAGE ===
	store, err := openChunkStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("chunk store: %w", err)
	}
	defer store.Close()

	positions, closePositions, err := openPositions(cfg.Positions)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	defer closePositions()

	snapshots, err := openSnapshotCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("snapshot cache: %w", err)
	}
	defer snapshots.Close()

	// === WORLD ===
	var catalog *block.Catalog
	if cfg.World.Catalog != "" {
		if catalog, err = block.LoadCatalog(cfg.World.Catalog); err != nil {
			return fmt.Errorf("block catalog: %w", err)
		}
	}
	w := world.NewWorld(cfg.World.Seed, cfg.World.ChunkSize, catalog)
	gen := world.NewGenerator(cfg.World.Generator())
	chunks := chunkmgr.NewManager(cfg.Chunks.Manager(), w, gen, mesh.NewBuilder(w.Catalog()), store, chunkmgr.NewMetrics(reg))

	// === REPLICATION ===
	replMetrics := replication.NewMetrics(reg)
	hub := replication.NewHub(w, snapshots, cfg.Replication, replMetrics)
	territory := replication.NewTerritory(cfg.Replication.TerritoryCell)
	rules := replication.DefaultRules(w.Catalog(), territory, chunks, cfg.Replication.Reach)
	authority := replication.NewAuthority(w, cfg.Replication, rules, replMetrics, hub)

	// === EVENT BUS + SYNC ===
	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer bus.Close()

	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start(5 * time.Second)
	defer exporter.Stop()

	if sub, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("event logging listener: %v", err)
	} else {
		defer sub.Unsubscribe()
	}
	go eventbus.ForwardNotifications(ctx, w, bus, cfg.Sync.NodeID)

	if cfg.Sync.Enabled {
		syncMgr, err := vsync.NewSyncManager(vsync.SyncConfig{
			Source:         cfg.Sync.NodeID,
			Bus:            bus,
			BatchSize:      cfg.Sync.BatchSize,
			FlushEvery:     cfg.Sync.FlushEvery,
			Compression:    cfg.Sync.Compression,
			PublishRecords: cfg.Sync.PublishRecords,
		})
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		defer syncMgr.Stop()
		authority.AddSink(syncMgr.Producer())
	}

	// === LOOPS ===
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	chunksDone := make(chan struct{})
	go func() {
		defer close(chunksDone)
		_ = chunks.Run(loopCtx)
	}()
	pumpEvery := cfg.Chunks.TickInterval
	if pumpEvery <= 0 {
		pumpEvery = chunkmgr.DefaultConfig().TickInterval
	}
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(loopCtx, pumpEvery)
	}()

	// === NETWORK ===
	chCfg := network.DefaultChannelConfig()
	if cfg.Server.CompressionThreshold > 0 {
		chCfg.CompressionThreshold = cfg.Server.CompressionThreshold
	}
	srv := network.NewServer(network.Options{
		Edits:     authority,
		Hub:       hub,
		Chunks:    chunks,
		Positions: positions,
		Channel:   chCfg,
		Metrics:   network.NewMetrics(reg),
	})
	listenErr := errors.Join(
		srv.ListenKCP(cfg.Server.Addr(cfg.Server.GetKCPPort())),
		srv.ListenWebSocket(cfg.Server.Addr(cfg.Server.GetWSPort())),
	)
	if listenErr != nil {
		_ = srv.Stop()
		cancelLoops()
		<-chunksDone
		<-hubDone
		return listenErr
	}

	logging.Info("✅ all services running: KCP :%d, WebSocket :%d/ws, metrics :%d",
		cfg.Server.GetKCPPort(), cfg.Server.GetWSPort(), cfg.Server.GetMetricsPort())

	<-ctx.Done()
	logging.Info("📡 shutdown requested")

	// === GRACEFUL SHUTDOWN ===
	if err := srv.Stop(); err != nil {
		logging.Warn("network stop: %v", err)
	}
	cancelLoops()
	<-chunksDone
	<-hubDone

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := chunks.Flush(flushCtx); err != nil {
		logging.Error("flush chunks: %v", err)
	}
	st := chunks.Stats()
	logging.Info("👋 server stopped (%d chunks resident)", st.Chunks)
	return nil
}

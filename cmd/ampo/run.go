package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/api"
	"github.com/mxwtnb/ampo/internal/config"
	"github.com/mxwtnb/ampo/internal/engine"
	"github.com/mxwtnb/ampo/internal/event"
	"github.com/mxwtnb/ampo/internal/ingestion"
	"github.com/mxwtnb/ampo/internal/observability"
	"github.com/mxwtnb/ampo/internal/persistence"
	"github.com/mxwtnb/ampo/internal/pool"
)

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		os.Setenv("AMPO_LOG_LEVEL", cfg.LogLevel)
	}
	log := observability.NewLogger("ampo")
	log.Info().Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Engine over the in-process liquidity engine ---
	sim := amm.NewSimulator()
	eventChan := make(chan event.Event, cfg.EventBuffer)
	eng := engine.New(sim, sim, observability.NewLogger("engine"), metrics, eventChan)

	// --- Snapshot restore ---
	snapMgr := persistence.NewSnapshotManager(db)
	snaps, err := snapMgr.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	restorePools(eng, snaps, metrics)
	if len(snaps) > 0 {
		block, err := snapMgr.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("latest snapshot block: %w", err)
		}
		eng.SetBlock(block)
		log.Info().Int("pools", len(snaps)).Int64("block", block).Msg("restored pools from snapshots")
	} else {
		log.Info().Msg("no snapshots found, cold start")
	}

	// --- NATS ---
	natsLog := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLog)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	blockSub := ingestion.NewBlockSubscriber(js, eng, natsLog, metrics)
	if err := blockSub.Subscribe(ctx); err != nil {
		return fmt.Errorf("subscribe block feed: %w", err)
	}

	// --- Channels and workers ---
	persistChan := make(chan event.Event, cfg.EventBuffer)
	publishChan := make(chan event.Event, cfg.EventBuffer)

	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlush, observability.NewLogger("persist"), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, natsLog)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// Fan out engine events: persistence is lossless, publish drops when full.
	go func() {
		defer close(persistChan)
		defer close(publishChan)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-eventChan:
				if !ok {
					return
				}
				select {
				case persistChan <- evt:
				case <-ctx.Done():
					return
				}
				select {
				case publishChan <- evt:
				default:
					metrics.PublishDrops.Inc()
				}
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			}
		}
	}()

	// --- Periodic pool snapshots ---
	go runPeriodicSnapshots(ctx, eng, snapMgr, cfg.SnapshotEvery, log)

	// --- HTTP API ---
	apiServer := api.NewServer(eng, persistWorker.Writer(), health, observability.NewLogger("api"), metrics)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiServer.Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Metrics server ---
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsHandler(),
	}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	health.SetReady(true)
	log.Info().Str("http", cfg.ListenAddr).Str("metrics", cfg.MetricsAddr).Msg("ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	blockSub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	// Final snapshot of every pool before exit.
	if err := snapshotAll(shutdownCtx, eng, snapMgr); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func restorePools(eng *engine.Engine, snaps []persistence.PoolSnapshot, metrics *observability.Metrics) {
	for i := range snaps {
		snap := &snaps[i]
		p := &pool.Pool{
			State:    snap.Pool,
			Accounts: snap.Accounts,
		}
		if p.Accounts == nil {
			p.Accounts = make(map[common.Address]*pool.Account)
		}
		eng.Registry().Replace(snap.Pool.ID, p)
	}
	if metrics != nil {
		metrics.Pools.Set(float64(eng.Registry().Len()))
	}
}

// runPeriodicSnapshots persists all pools whenever block height advances by
// interval since the last snapshot.
func runPeriodicSnapshots(ctx context.Context, eng *engine.Engine, snapMgr *persistence.SnapshotManager, interval int64, log zerolog.Logger) {
	if interval <= 0 {
		interval = 1000
	}

	lastSnapBlock := eng.Block()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block := eng.Block()
			if block-lastSnapBlock < interval {
				continue
			}
			if err := snapshotAll(ctx, eng, snapMgr); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapBlock = block
			log.Info().Int64("block", block).Msg("periodic snapshot")
		}
	}
}

func snapshotAll(ctx context.Context, eng *engine.Engine, snapMgr *persistence.SnapshotManager) error {
	block := eng.Block()
	reg := eng.Registry()
	for _, id := range reg.IDs() {
		p, err := reg.Get(id)
		if err != nil {
			continue
		}
		if err := snapMgr.SaveSnapshot(ctx, p, block); err != nil {
			return fmt.Errorf("snapshot pool %s: %w", id, err)
		}
	}
	return nil
}

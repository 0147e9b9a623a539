package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-memory/internal/api"
	"github.com/nidhogg/nuka-memory/internal/clock"
	"github.com/nidhogg/nuka-memory/internal/config"
	"github.com/nidhogg/nuka-memory/internal/integrator"
	"github.com/nidhogg/nuka-memory/internal/memory"
	"github.com/nidhogg/nuka-memory/internal/metrics"
	"github.com/nidhogg/nuka-memory/internal/sleep"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/memoryd.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting memoryd...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := connectBackends(ctx, cfg, logger)
	defer b.close()

	learning, sub := b.substrate(cfg, logger)
	mem, err := integrator.New(cfg.Memory, learning, sub, memory.NewRand(cfg.Seed), logger)
	if err != nil {
		logger.Fatal("failed to build memory system", zap.Error(err))
	}
	if !mem.IsOperational() {
		logger.Warn("memory system not fully operational")
	}
	if cfg.Memory.EnableSleep && !mem.SleepReady() {
		logger.Warn("sleep consolidation missing collaborators, sessions will be refused")
	}

	exporter := metrics.New(prometheus.NewRegistry())
	if orch := mem.Sleep(); orch != nil {
		orch.AddObserver(exporter.RecordSession)
		orch.AddObserver(func(r sleep.Report) { b.persist(mem, r) })
		if b.broadcaster != nil {
			orch.AddObserver(b.broadcaster.Observe)
		}
	}

	clk := clock.New(time.Duration(cfg.Clock.Interval), cfg.Clock.Speed, time.Time{}, logger)
	clk.AddListener(mem)
	clk.AddListener(clock.ListenerFunc(func(time.Time) { exporter.Refresh(mem.Stats()) }))
	if orch := mem.Sleep(); orch != nil && cfg.Clock.SleepEvery > 0 {
		sleepFn := func(ctx context.Context, d time.Duration) bool {
			_, ok := orch.TriggerConsolidation(ctx, false, d)
			return ok
		}
		clk.AddListener(clock.NewSleepScheduler(time.Duration(cfg.Clock.SleepEvery), time.Duration(cfg.Clock.SleepDuration), sleepFn, logger))
	}
	clk.Start()
	logger.Info("Memory clock started",
		zap.Duration("interval", time.Duration(cfg.Clock.Interval)),
		zap.Float64("speed", cfg.Clock.Speed))

	if b.bus != nil {
		go func() {
			n := b.bus.Ingest(ctx, cfg.Database.Redis.IngestStream, mem)
			logger.Info("ingest stopped", zap.Int("frames", n))
		}()
	}

	opts := []api.Option{
		api.WithMetrics(exporter.Handler()),
		api.WithQueryRecorder(exporter),
	}
	if b.journal != nil {
		opts = append(opts, api.WithJournal(b.journal))
	}
	if b.index != nil {
		opts = append(opts, api.WithEpisodeIndex(b.index))
	}
	if b.graph != nil {
		opts = append(opts, api.WithConceptGraph(b.graph))
	}
	if b.broadcaster != nil {
		opts = append(opts, api.WithBroadcaster(b.broadcaster))
	}
	handler := api.NewHandler(mem, logger, opts...)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("memoryd listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down memoryd...")
	clk.Stop()
	if orch := mem.Sleep(); orch != nil {
		orch.StopConsolidation()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	b.wait()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

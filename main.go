package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/binary"
	"github.com/hostsec/bpf-sentry/capture"
	"github.com/hostsec/bpf-sentry/config"
	"github.com/hostsec/bpf-sentry/database"
	"github.com/hostsec/bpf-sentry/sigma"
	"github.com/hostsec/bpf-sentry/web"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic("can not create logger")
	}
	defer zl.Sync()
	logger := zl.Sugar()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "sentry.yml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalw("failed to load config", "error", err)
	}

	// Attach while still privileged.
	reader, cleanup, err := InitBPF(logger, cfg.BPFObjectPath)
	if err != nil {
		logger.Fatalw("failed to initialize BPF", "error", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Storage runs as the invoking user, not root.
	if err := dropPrivileges(); err != nil {
		logger.Warnw("failed to drop privileges", "error", err)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		logger.Fatalw("failed to initialize database", "error", err)
	}
	defer db.Close()

	binCache, err := binary.NewCache(cfg.BinaryCacheSize, filepath.Join(cfg.DataDir, "bins"))
	if err != nil {
		logger.Fatalw("failed to initialize binary cache", "error", err)
	}

	var detector *sigma.Detector
	if cfg.SigmaRulesDir != "" {
		detector, err = sigma.NewDetector(logger, cfg.SigmaRulesDir, db)
		if err != nil {
			logger.Warnw("sigma detection disabled", "error", err)
			detector = nil
		} else {
			defer detector.Close()
		}
	}

	sink := capture.NewSink(cfg.SinkDepth)
	startTimes := capture.NewStartTimes()
	pipeline := capture.NewPipeline(sink, startTimes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		srv := web.NewServer(logger, db, sink, startTimes, detector, cfg.ListenAddr)
		if err := srv.Start(ctx); err != nil {
			logger.Errorw("web server error", "error", err)
		}
	}()

	if reader != nil {
		c := &consumer{
			logger:     logger,
			db:         db,
			binCache:   binCache,
			detector:   detector,
			startTimes: startTimes,
		}
		go c.run(ctx, sink.Events())
		go startTriggerReader(logger, reader, pipeline)
		logger.Info("security event capture started")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

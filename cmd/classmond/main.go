package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"classmon/internal/api"
	"classmon/internal/attendance"
	"classmon/internal/config"
	"classmon/internal/ingest"
	"classmon/internal/logging"
	"classmon/internal/pipeline"
	"classmon/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "classmon.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("classmond", version)
		return
	}

	_ = godotenv.Load()

	path := config.ResolvePath(*configPath)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			fmt.Fprintln(os.Stderr, "write default config:", err)
			os.Exit(1)
		}
	}
	manager, err := config.NewManager(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting classmond", "version", version, "config", path)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", "err", err)
		os.Exit(1)
	}
	if err := store.Init(context.Background()); err != nil {
		logger.Error("init storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slot := attendance.NewScanSlot()
	correlator := attendance.NewCorrelator(store, logger)
	pipe := pipeline.New(cfg, store, slot, correlator, logger)

	in := make(chan pipeline.ReadingPayload, cfg.Ingest.ChannelBuffer)
	pipe.Start(ctx, in)

	ingest.StartKafka(ctx, manager, in, logger)
	if err := ingest.StartMQTT(ctx, manager, pipe, in, logger); err != nil {
		logger.Error("mqtt connect", "err", err)
		os.Exit(1)
	}

	httpServer := api.Start(ctx, manager, store, pipe, correlator, logger, version)
	if httpServer == nil && !cfg.Ingest.MQTT.Enabled && !cfg.Ingest.Kafka.Enabled {
		logger.Error("no ingest sources or api enabled, nothing to do")
		os.Exit(1)
	}

	go manager.Watch(30*time.Second,
		func(next *config.Config) {
			pipe.UpdateConfig(next)
			logger.Info("config reloaded", "path", manager.Path())
		},
		func(err error) {
			logger.Warn("config reload failed", "err", err)
		},
		ctx.Done(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	time.Sleep(200 * time.Millisecond)
}

package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/channel"
	"github.com/cursus-io/txnmarker/pkg/cluster"
	"github.com/cursus-io/txnmarker/pkg/config"
	"github.com/cursus-io/txnmarker/pkg/manager"
	"github.com/cursus-io/txnmarker/pkg/metrics"
	"github.com/cursus-io/txnmarker/pkg/scheduler"
	"github.com/cursus-io/txnmarker/pkg/sender"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if data, err := json.MarshalIndent(cfg, "", "  "); err == nil {
		logger.Info("Configuration loaded", zap.String("config", string(data)))
	}

	registry := cluster.NewRegistry()
	resolver := cluster.NewStaticResolver()
	markerChannel := channel.NewMarkerChannel(resolver, registry, cfg.MaxQueuedMarkersPerBroker, logger)
	for _, b := range cfg.Brokers {
		markerChannel.AddNewBroker(cluster.Node{ID: b.ID, Host: b.Host, Port: b.Port})
	}

	snd := sender.NewTCPSender(registry, cfg.SendTimeout(), logger)
	sched := scheduler.NewTickerScheduler(logger)
	mgr := manager.NewChannelManager(cfg, markerChannel, sched, snd, logger)

	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.MetricsPort)
	}

	if err := mgr.Start(); err != nil {
		logger.Fatal("Failed to start marker channel manager", zap.Error(err))
	}
	logger.Info("markerd running", zap.Int("brokers", len(cfg.Brokers)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	if err := mgr.Shutdown(); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}
}

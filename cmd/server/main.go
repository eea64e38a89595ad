package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfieldbus/ecatcore/internal/api/rest"
	"github.com/openfieldbus/ecatcore/internal/api/websocket"
	"github.com/openfieldbus/ecatcore/internal/config"
	"github.com/openfieldbus/ecatcore/internal/devices"
	"github.com/openfieldbus/ecatcore/internal/journal"
	"github.com/openfieldbus/ecatcore/internal/master"
	"github.com/openfieldbus/ecatcore/internal/registry"
)

// wsEvents forwards registry notifications to the websocket hub so dashboard
// clients see state changes and device faults as they happen, not only the
// periodic status snapshots.
type wsEvents struct {
	hub *websocket.Hub
}

func (e *wsEvents) BusStateChanged(iface string, state, previous master.State) {
	e.hub.Broadcast(websocket.NewBusStateMessage(iface, string(state), string(previous)))
}

func (e *wsEvents) DeviceFault(iface, device, detail string) {
	e.hub.Broadcast(websocket.NewDeviceFaultMessage(iface, device, detail))
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.Int("buses", len(cfg.Buses)))

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.New(context.Background(), cfg.Journal)
		if err != nil {
			logger.Fatal("Failed to connect journal database", zap.Error(err))
		}
		defer jnl.Close()
		logger.Info("Event journal connected")
	}

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	reg := registry.New(logger,
		registry.WithJournal(jnl),
		registry.WithEventSink(&wsEvents{hub: wsHub}))

	descriptors, err := devices.LoadDescriptors(cfg.Devices.SearchPaths)
	if err != nil {
		logger.Fatal("Failed to load device descriptors", zap.Error(err))
	}

	// One handle per configured bus; this daemon is a single tenant, so
	// every MarkReady trips the barrier immediately.
	var handles []registry.Handle
	for _, busCfg := range cfg.Buses {
		if busCfg.DCEnabled {
			busCfg.Sync0Addresses = devices.MergeSync0Addresses(busCfg.Sync0Addresses, descriptors)
		}

		handle, err := reg.Acquire(busCfg, busCfg.RTPrio)
		if err != nil {
			logger.Fatal("Failed to acquire master",
				zap.String("interface", busCfg.Interface), zap.Error(err))
		}

		for _, d := range descriptors {
			if err := handle.Master.AttachDevice(devices.NewGeneric(d)); err != nil {
				logger.Fatal("Failed to attach device",
					zap.String("interface", busCfg.Interface),
					zap.String("device", d.Name),
					zap.Error(err))
			}
		}

		activated, err := reg.MarkReady(handle)
		if err != nil {
			logger.Fatal("Failed to start bus",
				zap.String("interface", busCfg.Interface), zap.Error(err))
		}
		if !activated {
			logger.Fatal("Bus start unexpectedly deferred",
				zap.String("interface", busCfg.Interface))
		}

		handles = append(handles, handle)
		logger.Info("Bus cycling",
			zap.String("interface", busCfg.Interface),
			zap.Duration("cycle_time", busCfg.CycleTime))
	}

	restServer := rest.NewServer(cfg, reg, logger, wsHub)
	if err := restServer.Start(); err != nil {
		logger.Fatal("Failed to start diagnostics server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := restServer.Shutdown(ctx); err != nil {
		logger.Error("Diagnostics server shutdown failed", zap.Error(err))
	}

	for _, handle := range handles {
		if _, err := reg.Release(handle); err != nil {
			logger.Error("Handle release failed", zap.Error(err))
		}
	}
	if err := reg.Close(); err != nil {
		logger.Error("Registry close failed", zap.Error(err))
	}

	logger.Info("Stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pow-node/apiconfig"
	"pow-node/internal/server"
	"pow-node/logging"
	"pow-node/pow"
)

func main() {
	configManager, err := apiconfig.LoadDefaultConfigManager()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	config := configManager.GetConfig()

	queueSize := config.Poc.QueueSize
	generationQueue := make(chan pow.ProofBatch, queueSize)
	validationQueue := make(chan pow.ProofBatch, queueSize)
	inValidationQueue := make(chan pow.ProofBatch, queueSize)
	wsOut := make(chan pow.BatchMessage, queueSize)
	wsAck := make(chan pow.AckMessage, queueSize)

	connState := &pow.ConnState{}
	phaseTracker := pow.NewPhaseTracker()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := pow.NewSender(
		config.Poc.SenderConfig(),
		phaseTracker,
		generationQueue,
		validationQueue,
		inValidationQueue,
		wsOut,
		wsAck,
		connState,
	)

	srv := server.NewServer(
		phaseTracker,
		generationQueue,
		validationQueue,
		inValidationQueue,
		wsOut,
		wsAck,
		connState,
		cancel,
	)

	inventory := pow.DetectDeviceInventory()
	groups := pow.CreateGpuGroupsForParams(inventory, pow.ParamsVersion(config.Poc.ParamsVersion))
	for i, group := range groups {
		logging.Info("Compute device group", logging.PoC,
			"group", i, "devices", group.DeviceStrings(), "totalVramGB", group.TotalVramGB())
	}

	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		sender.Run(ctx)
	}()

	srv.Start(fmt.Sprintf(":%d", config.Api.Port))
	logging.Info("Server started", logging.Server, "port", config.Api.Port)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		logging.Info("Received signal, shutting down", logging.Server, "signal", sig.String())
	case <-ctx.Done():
		logging.Info("Pipeline stopped, shutting down", logging.Server)
	}

	cancel()
	<-senderDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", logging.Server, "error", err)
	}
}

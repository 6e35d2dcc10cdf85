/*
Package main is the entry point for the viewsync server.

It is responsible for loading configuration, initializing the global logging system,
opening asset storage and the room-file registry, starting the socket-room hub, the relay
broker and the demo broadcaster, setting up the HTTP server, and gracefully handling
operating system interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
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

	"viewsync/internal/app/db"
	"viewsync/internal/app/demo"
	"viewsync/internal/app/relay"
	"viewsync/internal/app/room"
	"viewsync/internal/app/roomfile"
	"viewsync/internal/app/storage"
	"viewsync/internal/configs"
	"viewsync/internal/handler"
	"viewsync/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("host", configs.Hostname()).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("storage_driver", cfg.StorageDriver).
		Str("roomfile_registry", cfg.RoomFileRegistry).
		Bool("relay_enabled", cfg.RelayEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assets, err := storage.NewAssetStore(ctx, storage.ServiceConfig{
		Driver:            cfg.StorageDriver,
		UploadDir:         cfg.UploadDir,
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3Region:          cfg.S3Region,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize asset storage")
	}

	// The durable record store only backs the authoritative registry.
	var records db.RoomFileStore
	if cfg.RoomFileRegistry == configs.RegistryAuthoritative {
		records, err = db.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			logx.Fatal(err, "Failed to open room-file database", "driver", cfg.DatabaseDriver)
		}
		defer records.Close()
	}

	var recordStore roomfile.RecordStore
	if records != nil {
		recordStore = records
	}

	files, err := roomfile.New(ctx, cfg.RoomFileRegistry, recordStore, assets)
	if err != nil {
		logx.Fatal(err, "Failed to initialize room-file registry")
	}

	hub := room.NewHub(roomfile.HubFiles{Registry: files})
	go hub.Run()

	publishers := []demo.Publisher{hub}

	var broker *relay.Broker
	if cfg.RelayEnabled() {
		broker = relay.NewBroker()
		go broker.Run()
		publishers = append(publishers, broker)
	} else {
		logx.Warn("RELAY_APP_KEY is not set. The relay-mediated transport is disabled.")
	}

	broadcaster := demo.NewBroadcaster(cfg.DemoRoomID, cfg.DemoKeepaliveWindow, cfg.DemoTick, publishers...)
	broadcaster.Start()

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Config: cfg,
		Hub:    hub,
		Broker: broker,
		Files:  files,
		Assets: assets,
		Demo:   broadcaster,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("viewsync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	broadcaster.Stop()
	if broker != nil {
		broker.Stop()
	}
	hub.Stop()

	logx.Info("Server gracefully stopped.")
}

package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/ruteri/storage-gateway/cmd/flags"
	"github.com/ruteri/storage-gateway/httpserver"
	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/scanner"
	"github.com/ruteri/storage-gateway/storage"
	"github.com/ruteri/storage-gateway/upload"
	"github.com/urfave/cli/v2"
)

func main() {
	// Environment variables set explicitly take precedence over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	appFlags := append([]cli.Flag{flags.LogServiceFlagFn("storage-api")}, flags.CommonFlags...)
	appFlags = append(appFlags, flags.ServiceFlags...)
	appFlags = append(appFlags, flags.StorageFlags...)

	app := &cli.App{
		Name:  "storage-api",
		Usage: "Serve the storage gateway API over the file or S3 backend",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.ConfigureServer(cCtx, logger)
			if err != nil {
				logger.Error("Invalid server configuration", "err", err)
				return err
			}

			storageCfg := flags.ConfigureStorage(cCtx)
			storageFactory := storage.NewStorageBackendFactory(logger, storageCfg, flags.ConfigureS3(cCtx))

			// Fail fast on a misconfigured backend instead of on the first request.
			if _, err := storageFactory.Current(); err != nil {
				logger.Error("Failed to create storage backend", "type", storageCfg.Type, "err", err)
				return err
			}
			logger.Info("Storage backend ready", "type", storageCfg.Type)

			var malwareScanner interfaces.MalwareScanner
			if address := flags.ClamdAddress(cCtx); address != "" {
				timeout := time.Duration(cCtx.Int64(flags.ClamdTimeoutSecondsFlag.Name)) * time.Second
				clamd, err := scanner.NewClamd(address, timeout, logger)
				if err != nil {
					logger.Error("Invalid clamd address", "address", address, "err", err)
					return err
				}

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := clamd.Ping(ctx); err != nil {
					logger.Warn("clamd is not reachable, scans will fail until it is", "address", address, "err", err)
				}
				cancel()

				malwareScanner = clamd
			} else {
				logger.Info("clamd not configured, uploads requesting a scan will be rejected")
			}

			handler := httpserver.NewHandler(storageFactory, upload.NewOrchestrator(malwareScanner, logger), logger)

			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

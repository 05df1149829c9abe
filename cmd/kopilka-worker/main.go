package main

import (
	"context"
	"errors"
	"os"
	"time"

	"kopilka/internal/amqp"
	"kopilka/internal/cli"
	"kopilka/internal/export"
	"kopilka/internal/export/google"
	"kopilka/internal/export/memory"
	"kopilka/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("kopilka-worker")

	logger.Info("Starting kopilka-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// Without a spreadsheet id entries are appended to an in-memory sink,
	// which keeps local development running end to end.
	var appender export.RowAppender
	if cfg.GoogleSpreadsheetID != "" {
		client, err := google.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		appender = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		appender = memory.New()
		logger.Warn("No GOOGLE_SPREADSHEET_ID provided, exporting to in-memory sink")
	}

	exportWorker := worker.NewExportWorker(repo, appender, cfg.ExportBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Catch up on anything committed while the worker was down.
	if n, err := exportWorker.ProcessPending(ctx); err != nil {
		logger.Error("Startup export check failed", "error", err)
	} else if n > 0 {
		logger.Info("Startup export check done", "exported", n)
	}

	// AMQP consumption is optional; the periodic scan alone still converges.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			if err := amqpClient.ConsumeEntryExports(ctx, exportWorker.HandleExportMessage); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("Message consumption failed", "error", err)
				}
			}
		}()
		logger.Info("Consuming export messages", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled, relying on periodic scan only")
	}

	go func() {
		ticker := time.NewTicker(cfg.ExportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := exportWorker.ProcessPending(ctx); err != nil {
					logger.Error("Periodic export scan failed", "error", err)
				}
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
}

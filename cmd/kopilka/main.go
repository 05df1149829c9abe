package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"kopilka/internal/amqp"
	"kopilka/internal/bot"
	"kopilka/internal/cache"
	"kopilka/internal/cli"
	apphttp "kopilka/internal/http"
	"kopilka/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("kopilka")

	logger.Info("Starting kopilka")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// AMQP is optional. Without it entries still land in SQLite and the
	// worker's pending scan exports them.
	var publisher services.ExportPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP, continuing without queue", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, no AMQP_URL provided")
	}

	entrySvc := services.NewEntryService(repo, publisher)

	keyboards := cache.NewTTL[[]string](cfg.KeyboardCacheSize, cfg.KeyboardCacheTTL)
	keyboards.StartJanitor(time.Minute)
	defer keyboards.Stop()

	engine := bot.New(repo, repo.Sessions(), entrySvc, keyboards, logger)
	srv := apphttp.NewServer(":"+cfg.Port, engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}

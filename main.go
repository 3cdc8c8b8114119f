package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Bolatan/messaging/internal/config"
	"github.com/Bolatan/messaging/internal/http"
	"github.com/Bolatan/messaging/internal/hub"
	"github.com/Bolatan/messaging/internal/push"
	"github.com/Bolatan/messaging/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	notifier := push.New(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.PushContact, logger)

	hubConfig := hub.Config{
		Store:         bbStorage,
		DeliveryDelay: cfg.DeliveryDelay,
		RoomHistory:   cfg.RoomHistory,
		Logger:        logger,
	}
	if notifier != nil {
		hubConfig.Notifier = notifier
	}
	h := hub.New(ctx, hubConfig)

	apiServer := http.NewAPIServer(h, bbStorage, cfg.APIAddr)
	adminServer := http.NewAdminServer(h, cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}

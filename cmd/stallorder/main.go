// Package main запускает HTTP-сервер сервиса заказов фуд-корта.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/stallorder/internal/config"
	"github.com/mmeshcher/stallorder/internal/handler"
	"github.com/mmeshcher/stallorder/internal/middleware"
	"github.com/mmeshcher/stallorder/internal/notify"
	"github.com/mmeshcher/stallorder/internal/repository"
	"github.com/mmeshcher/stallorder/internal/schedule"
	"github.com/mmeshcher/stallorder/internal/service"
)

const pruneInterval = time.Hour

// store описывает хранилище сервиса, в которое также загружается каталог.
type store interface {
	service.Repository
	repository.CatalogWriter
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	if cfg.CatalogFile != "" {
		if err := loadCatalog(cfg.CatalogFile, repo); err != nil {
			sugar.Fatalw("catalog load error", "file", cfg.CatalogFile, "error", err.Error())
		}
	}

	svc := service.NewService(repo, service.Options{
		IntegritySecret: cfg.IntegritySecret,
		PaymentWindow:   cfg.PaymentWindow,
		CancelWindow:    cfg.CancelWindow,
	}, logger)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET is empty, identity tokens will not survive a restart")
	}
	if cfg.DatabaseURI != "" && (cfg.AuthSecret == "stallorder-secret" || cfg.IntegritySecret == "stallorder-integrity") {
		sugar.Warn("default secrets in use with persistent storage")
	}
	h := handler.NewHandler(svc, logger.Named("http"), authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger.Named("notify"))
	if cfg.NotifierAddress != "" {
		dispatcher = notify.NewClient(cfg.NotifierAddress)
	}
	forwarder := notify.NewForwarder(svc.Broker(), dispatcher, logger.Named("notify"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return schedule.NewRunner("payment-sweep", cfg.SweepInterval, svc.SweepTask, logger).Run(ctx)
	})

	g.Go(func() error {
		return schedule.NewRunner("velocity-prune", pruneInterval, svc.PruneTask, logger).Run(ctx)
	})

	g.Go(func() error {
		return forwarder.Run(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting stallorder server", "addr", cfg.RunAddress, "persistent", cfg.DatabaseURI != "")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка сервера при сигнале или ошибке в другой горутине
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openRepository(cfg *config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory storage")
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func loadCatalog(path string, w repository.CatalogWriter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = repository.LoadCatalog(ctx, w, f)
	return err
}

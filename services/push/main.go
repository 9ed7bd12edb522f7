package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridecampus/internal/config"
	"github.com/stridecampus/internal/dispatch"
	"github.com/stridecampus/internal/expo"
	"github.com/stridecampus/internal/handler"
	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/realtime"
	"github.com/stridecampus/internal/repository"
	"github.com/stridecampus/internal/startup"
	"github.com/stridecampus/internal/tokens"
	"github.com/stridecampus/internal/webpush"
)

func main() {
	logger.SetPrefix("push")
	logger.Info("starting push service")
	cfg := config.Load()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "push: ")
	defer pool.Close()

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "push: ")
	defer rdb.Close()

	userRepo := repository.NewUserRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	targetRepo := repository.NewPushTargetRepository(pool)
	registry := tokens.NewRegistry(targetRepo)

	expoClient := expo.NewClient(
		cfg.Expo.BaseURL,
		expo.WithRetry(cfg.Expo.MaxAttempts, time.Duration(cfg.Expo.RetryBaseMS)*time.Millisecond),
	)
	webClient := webpush.NewClient(cfg.VAPIDSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if webClient == nil {
		logger.Info("web push disabled (no VAPID keys)")
	}

	bridge := realtime.NewBridge(rdb)
	dispatcher := dispatch.NewDispatcher(registry, expoClient, webClient, notifRepo, bridge, userRepo)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWg sync.WaitGroup
	sweepWg.Add(1)
	go func() {
		defer sweepWg.Done()
		runStaleTokenSweep(sweepCtx, targetRepo, registry, cfg.TokenRevalidateInterval)
	}()

	notifyH := handler.NewNotifyHandler(dispatcher)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/api/notify", notifyH.Send)
		r.Post("/api/notify/batch", notifyH.SendBatch)
		r.Post("/api/notify/campus", notifyH.SendCampus)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	sweepCancel()
	sweepWg.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runStaleTokenSweep periodically clears push targets whose last validation
// is older than the freshness window. Such targets are already unusable for
// delivery; clearing them makes the client re-register on its next connect
// instead of silently holding a dead address.
func runStaleTokenSweep(ctx context.Context, targets *repository.PushTargetRepository, registry *tokens.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, targets, registry)
		}
	}
}

func sweepOnce(ctx context.Context, targets *repository.PushTargetRepository, registry *tokens.Registry) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-tokens.FreshnessWindow)
	stale, err := targets.ListStale(sweepCtx, cutoff, 500)
	if err != nil {
		logger.Errorf("token sweep: list stale: %v", err)
		return
	}
	cleared := 0
	for _, t := range stale {
		if err := registry.Clear(sweepCtx, t.UserID); err != nil {
			logger.Errorf("token sweep: clear user=%s: %v", t.UserID, err)
			continue
		}
		cleared++
	}
	if len(stale) > 0 {
		logger.Infof("token sweep: cleared %d of %d stale targets", cleared, len(stale))
	}
}

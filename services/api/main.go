package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridecampus/internal/config"
	"github.com/stridecampus/internal/handler"
	"github.com/stridecampus/internal/logger"
	"github.com/stridecampus/internal/middleware"
	"github.com/stridecampus/internal/model"
	"github.com/stridecampus/internal/realtime"
	"github.com/stridecampus/internal/repository"
	"github.com/stridecampus/internal/sessioncache"
	"github.com/stridecampus/internal/startup"
	"github.com/stridecampus/internal/tokens"
	"github.com/stridecampus/internal/votes"
	"github.com/stridecampus/internal/ws"
	"github.com/stridecampus/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	defer rdb.Close()

	userRepo := repository.NewUserRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	targetRepo := repository.NewPushTargetRepository(pool)
	voteRepo := repository.NewVoteRepository(pool)
	registry := tokens.NewRegistry(targetRepo)
	voteView := votes.NewView(voteRepo)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(userRepo, registry, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Events published by the push service (and other API instances) reach
	// this instance's sockets through Redis. Vote events also feed the local
	// materialized count view.
	bridge := realtime.NewBridge(rdb)
	onEvent := func(topic string, ev realtime.Event) {
		if realtime.IsVotesTopic(topic) {
			var ve model.VoteEvent
			if err := json.Unmarshal(ev.Payload, &ve); err == nil {
				voteView.HandleEvent(hubCtx, ve)
			}
		}
		hub.HandleRealtimeEvent(topic, ev)
	}
	bridge.Subscribe(hubCtx, onEvent, realtime.TopicUserNotifications)
	bridge.PSubscribe(hubCtx, onEvent, "votes:*", "chat:*")

	sessions := sessioncache.NewManager(
		sessioncache.NewRedisStore(rdb),
		"assistant",
		sessioncache.Options{
			MaxSessions:           cfg.SessionCache.MaxSessions,
			MaxMessagesPerSession: cfg.SessionCache.MaxMessagesPerSession,
			Debounce:              time.Duration(cfg.SessionCache.DebounceMS) * time.Millisecond,
		},
	)

	tokenH := handler.NewTokenHandler(registry)
	notifH := handler.NewNotificationHandler(notifRepo)
	sessionH := handler.NewSessionHandler(sessions)
	voteH := handler.NewVoteHandler(voteRepo, voteView, bridge)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket: the wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))

		r.Post("/api/push/register", tokenH.Register)
		r.Delete("/api/push/register", tokenH.Unregister)
		r.Post("/api/push/revalidate", tokenH.Revalidate)

		r.Get("/api/notifications", notifH.List)
		r.Get("/api/notifications/unread-count", notifH.UnreadCount)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)

		r.Post("/api/votes", voteH.Cast)
		r.Get("/api/votes/{targetId}", voteH.Get)

		r.Get("/api/assistant/sessions", sessionH.List)
		r.Post("/api/assistant/sessions", sessionH.Create)
		r.Delete("/api/assistant/sessions", sessionH.Clear)
		r.Get("/api/assistant/sessions/active", sessionH.Active)
		r.Post("/api/assistant/sessions/messages", sessionH.AddMessage)
		r.Post("/api/assistant/sessions/{id}/activate", sessionH.Switch)
		r.Delete("/api/assistant/sessions/{id}", sessionH.Delete)

		r.Get("/ws", wsH.ServeWS)
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
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	sessions.FlushAll(shutdownCtx)
	logger.Info("session caches flushed")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runMigrations applies the embedded SQL files in name order. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS) so re-running is safe.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "stride"
		password = "stride_secret"
		database = "stride"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-procurement-hub/internal/auth"
	"github.com/koopa0/system-design/14-procurement-hub/internal/backup"
	"github.com/koopa0/system-design/14-procurement-hub/internal/broadcast"
	"github.com/koopa0/system-design/14-procurement-hub/internal/cache"
	"github.com/koopa0/system-design/14-procurement-hub/internal/config"
	"github.com/koopa0/system-design/14-procurement-hub/internal/game"
	"github.com/koopa0/system-design/14-procurement-hub/internal/handler"
	"github.com/koopa0/system-design/14-procurement-hub/internal/housekeeping"
	"github.com/koopa0/system-design/14-procurement-hub/internal/migrations"
	"github.com/koopa0/system-design/14-procurement-hub/internal/realtime"
	"github.com/koopa0/system-design/14-procurement-hub/internal/record"
	"github.com/koopa0/system-design/14-procurement-hub/internal/session"
	"github.com/koopa0/system-design/14-procurement-hub/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "設定檔路徑")
	port := flag.Int("port", 0, "覆蓋設定檔中的 HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 執行資料庫遷移
	if err := migrations.Run(cfg.PostgresDSN(), log); err != nil {
		return err
	}

	// 連接 PostgreSQL
	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	// 帳號與權限
	authenticator := auth.NewPostgresAuthenticator(pool, log)
	if cfg.Auth.BootstrapUser != "" {
		if pw := cfg.BootstrapPassword(); pw != "" {
			if err := authenticator.CreateUser(ctx, cfg.Auth.BootstrapUser, pw, cfg.Auth.ElevatedRole); err != nil {
				return fmt.Errorf("bootstrap user: %w", err)
			}
			log.Info("bootstrap user ensured", "username", cfg.Auth.BootstrapUser)
		}
	}

	resolver := auth.NewResolver(cfg.Auth.ElevatedRole, cfg.Auth.Roles, auth.NewPostgresPermissionStore(pool), log)
	if err := resolver.Load(ctx); err != nil {
		return err
	}

	// Session
	lifetime := session.Lifetime{
		InactivityTimeout: cfg.Session.InactivityTimeout,
		MaxLifetime:       cfg.Session.MaxLifetime,
	}
	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, lifetime)
	default:
		sessions = session.NewMemoryStore(lifetime)
	}

	caches := cache.NewTwoTier(cache.Options{
		GeneralWindow:   cfg.Cache.GeneralWindow,
		GeneralCapacity: cfg.Cache.GeneralCapacity,
		PublicWindow:    cfg.Cache.PublicWindow,
		PublicCapacity:  cfg.Cache.PublicCapacity,
	})

	// WebSocket hub 與遊戲；使用者最後一條連線關閉時放棄其遊戲
	var registry *game.Registry
	hub := realtime.NewHub(sessions, resolver, realtime.Options{
		MaxConnections: cfg.Realtime.MaxConnections,
		RetryAfter:     cfg.Realtime.RetryAfter,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		CookieName:     cfg.Session.CookieName,
		OnDisconnect: func(username string) {
			if n := registry.AbandonPlayer(username); n > 0 {
				log.Info("abandoned games of disconnected player", "username", username, "games", n)
			}
		},
	}, log)
	registry = game.NewRegistry(hub, log, game.WithAbandonGrace(cfg.Game.AbandonGrace))

	// 變更廣播（可選 NATS 跨實例轉送）
	var relay broadcast.Relay
	if cfg.NATS.URL != "" {
		natsRelay, err := broadcast.NewNATSRelay(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return err
		}
		relay = natsRelay
	}
	bus := broadcast.NewBus(hub, caches, relay, log)
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	records := record.NewPostgresStore(pool, log)

	janitor := housekeeping.NewJanitor(cfg.Housekeeping.Interval, log,
		housekeeping.Counter("games", registry.Sweep),
		housekeeping.Counter("cache", caches.Sweep),
		housekeeping.Task{Name: "sessions", Run: sessions.Sweep},
	)
	janitor.Start()
	defer janitor.Stop()

	if cfg.Backup.Enabled {
		exporter := backup.New(records, backup.Options{
			Dir:           cfg.Backup.Dir,
			Hour:          cfg.Backup.Hour,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
		exporter.Start()
		defer exporter.Stop()
	}

	h := handler.NewHandler(handler.Deps{
		Authenticator: authenticator,
		Sessions:      sessions,
		Permissions:   resolver,
		Records:       records,
		Cache:         caches,
		Bus:           bus,
		Games:         registry,
		Hub:           hub,
		CookieName:    cfg.Session.CookieName,
		SecureCookie:  cfg.Session.SecureCookie,
	}, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// WebSocket 連線不會被 Shutdown 等待，先主動關閉
		hub.Stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}
	}

	return nil
}

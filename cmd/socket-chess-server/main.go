package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/park285/socket-chess-server/internal/config"
	"github.com/park285/socket-chess-server/internal/fanout"
	"github.com/park285/socket-chess-server/internal/match"
	"github.com/park285/socket-chess-server/internal/msgcat"
	"github.com/park285/socket-chess-server/internal/obslog"
	"github.com/park285/socket-chess-server/internal/outbox"
	"github.com/park285/socket-chess-server/internal/registry"
	"github.com/park285/socket-chess-server/internal/rules"
	"github.com/park285/socket-chess-server/internal/server"
	"github.com/park285/socket-chess-server/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	repo, closeRepo := openRepository(ctx, cfg, logger)
	st := openStores(ctx, cfg, logger)
	cancel()

	ob, err := outbox.New(st, outbox.Options{
		Workers:       cfg.OutboxWorkers,
		MaxAttempts:   cfg.OutboxMaxAttempts,
		SweepInterval: cfg.OutboxSweepInterval,
		Logger:        logger.Named("outbox"),
	})
	if err != nil {
		logger.Fatal("outbox_init_failed", zap.Error(err))
	}

	referee, err := rules.ForMode(string(cfg.RulesMode), cfg.PseudoMoveLimit)
	if err != nil {
		logger.Fatal("rules_init_failed", zap.Error(err))
	}
	users := registry.New()
	coord := match.NewCoordinator(repo, referee, logger.Named("match"))
	coord.AttachOutbox(ob)
	coord.AttachNotifier(fanout.New(users, logger.Named("fanout")))

	srv, err := server.New(coord, users, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           server.NewAuthenticator(cfg.JWTSecret),
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		Messages:       messages,
		Logger:         logger.Named("ws"),
		Health: func() map[string]any {
			return map[string]any{"outbox": ob.Stats()}
		},
	})
	if err != nil {
		logger.Fatal("server_init_failed", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server_listen",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("rules", coord.Referee().Name()),
			zap.Bool("token_auth", cfg.JWTSecret != ""),
			zap.String("store", st.Name()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_listen_failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("server_shutdown", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws_shutdown", zap.Error(err))
	}
	if err := ob.Close(shutdownCtx); err != nil {
		logger.Warn("outbox_shutdown", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		logger.Warn("store_close", zap.Error(err))
	}
	closeRepo()
}

// openRepository uses Redis when REDIS_URL is set so several instances can
// share matches; otherwise matches live in process memory.
func openRepository(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (match.Repository, func()) {
	if cfg.RedisURL == "" {
		logger.Info("repository", zap.String("kind", "memory"))
		return match.NewMemoryRepository(), func() {}
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_url_invalid", zap.Error(err))
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis_ping_failed", zap.Error(err))
	}
	logger.Info("repository", zap.String("kind", "redis"), zap.Duration("ttl", cfg.MatchTTL))
	return match.NewRedisRepository(rdb, cfg.MatchTTL), func() { _ = rdb.Close() }
}

func openStores(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) store.Store {
	var list []store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_open_failed", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("postgres_schema_failed", zap.Error(err))
		}
		list = append(list, pg)
	}
	if cfg.SupabaseEnabled() {
		list = append(list, store.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey))
	}
	if cfg.ArchiveEnabled() {
		ar, err := store.NewArchive(ctx, store.ArchiveConfig{
			Bucket:          cfg.ArchiveBucket,
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			AccessKeyID:     cfg.ArchiveKeyID,
			SecretAccessKey: cfg.ArchiveSecretKey,
			Prefix:          cfg.ArchivePrefix,
		})
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		list = append(list, ar)
	}
	names := make([]string, 0, len(list))
	for _, s := range list {
		names = append(names, s.Name())
	}
	logger.Info("stores", zap.Strings("enabled", names))
	return store.Combine(logger.Named("store"), list...)
}

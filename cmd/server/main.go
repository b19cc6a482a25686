package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mentorchat/internal/auth"
	"mentorchat/internal/chat"
	"mentorchat/internal/config"
	"mentorchat/internal/db"
	"mentorchat/internal/logging"
	myMiddleware "mentorchat/internal/middleware"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	devPairs := flag.String("dev-pairs", "", "Comma separated a:b pairs seeded as accepted conversations (memory driver only)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *devPairs); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

type storage struct {
	messages  chat.MessageStore
	directory chat.Directory
	ready     func(context.Context) error
	close     func() error
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger, devPairs string) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		mem := chat.NewMemoryStore()
		for _, pair := range strings.Split(devPairs, ",") {
			a, b, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok {
				continue
			}
			c, err := mem.CreateConversation(a, b, chat.StatusAccepted)
			if err != nil {
				return nil, fmt.Errorf("seed %q: %w", pair, err)
			}
			logger.Info("seeded conversation", zap.Int64("conversation_id", c.ID), zap.String("a", a), zap.String("b", b))
		}
		logger.Warn("using in-memory storage, messages are lost on restart")
		return &storage{
			messages:  mem,
			directory: mem,
			ready:     func(context.Context) error { return nil },
			close:     func() error { return nil },
		}, nil

	default:
		database, err := db.NewDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.AutoMigrate(ctx); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to postgres")
		return &storage{
			messages:  chat.NewRepository(database.Conn),
			directory: chat.NewConversationRepository(database.Conn),
			ready:     database.Conn.PingContext,
			close:     database.Close,
		}, nil
	}
}

func newAuthenticator(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.Authenticator, func() error, error) {
	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.IdentityClaim)
	if cfg.Redis.Addr == "" {
		return validator, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("token cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Auth.CacheTTL))
	return auth.NewCachedAuthenticator(validator, client, cfg.Auth.CacheTTL, logger), client.Close, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, devPairs string) error {
	store, err := openStorage(ctx, cfg, logger, devPairs)
	if err != nil {
		return err
	}
	defer store.close()

	authn, closeAuth, err := newAuthenticator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay := chat.NewRelay(store.messages, store.directory, chat.NewRegistry(), authn, logger, reg, chat.Options{
		EchoToSender:   cfg.Relay.EchoToSender,
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		WriteWait:      cfg.Relay.WriteWait,
		PongWait:       cfg.Relay.PongWait,
		QueryTimeout:   cfg.Database.QueryTimeout,
	})
	chatHandler := chat.NewHandler(relay, logger)
	authMiddleware := myMiddleware.NewAuthMiddleware(authn)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.ready(r.Context()); err != nil {
			logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	chatHandler.Mount(r, authMiddleware.Handle)

	srv := &http.Server{Addr: cfg.HTTPAddress, Handler: r}
	// hijacked websocket connections are not tracked by Shutdown
	srv.RegisterOnShutdown(relay.Shutdown)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTPAddress), zap.String("storage", cfg.Storage.Driver), zap.Duration("ping_period", cfg.Relay.PingPeriod()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace_period", cfg.ShutdownGracePeriod))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clash_tracker/internal/adapters"
	"clash_tracker/internal/bootstrap"
	"clash_tracker/internal/delivery"
	authDelivery "clash_tracker/internal/delivery/auth"
	dashboardDelivery "clash_tracker/internal/delivery/dashboard"
	"clash_tracker/internal/delivery/live"
	"clash_tracker/internal/repository"
	"clash_tracker/internal/usecase/auth"
	"clash_tracker/internal/usecase/autosync"
	"clash_tracker/internal/usecase/dashboard"
	"clash_tracker/internal/usecase/workspace"
	"clash_tracker/internal/validation"
)

type sessionStores struct {
	sessions auth.SessionStorage
	invites  auth.InviteStorage
	closers  []func(context.Context) error
}

func main() {
	logger := NewLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := bootstrap.Setup(".env")
	if err != nil {
		logger.Error("Failed to setup configuration", zap.Error(err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := initSessionStores(ctx, logger, cfg)
	if err != nil {
		logger.Errorf("Failed to initialise %s session store: %v", cfg.SessionDriver, err)
		return
	}
	defer func() {
		for _, closeFn := range stores.closers {
			_ = closeFn(context.Background())
		}
	}()

	api := repository.NewBackendClient(cfg.BackendURL, cfg.RequestTimeout, logger)
	registry := workspace.NewRegistry(api, stores.sessions, stores.invites, workspace.Options{
		PublicURL:  cfg.PublicURL,
		MatchLimit: cfg.MatchLimit,
		IdleTTL:    cfg.SessionTTL,
	}, logger)

	hub := live.NewHub(func(slot string) (dashboard.Snapshot, bool) {
		d := registry.Get(slot).Dashboard()
		if d == nil {
			return dashboard.Snapshot{}, false
		}
		return d.Snapshot(), true
	}, !cfg.IsLocalCors, logger)
	registry.SetPublisher(hub)

	scheduler, err := autosync.New(registry, cfg.AutoSyncInterval, time.Minute, cfg.RequestTimeout, logger)
	if err != nil {
		logger.Errorf("Failed to create scheduler: %v", err)
		return
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	v := validation.New()
	router := delivery.NewRouter(delivery.Handlers{
		Auth:      authDelivery.NewAuthHandler(registry, v, logger),
		Dashboard: dashboardDelivery.NewDashboardHandler(registry, v, logger),
		Live:      hub,
	}, delivery.RouterOptions{
		SessionTTL:   cfg.SessionTTL,
		SecureCookie: strings.HasPrefix(cfg.PublicURL, "https://"),
		LocalCors:    cfg.IsLocalCors,
		RequestLog:   true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown: %v", err)
		}
	}()

	logger.Infof("Server is running on port %s, backend %s, session driver %s",
		cfg.ServerPort, cfg.BackendURL, cfg.SessionDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Failed to start server: %v", err)
	}
}

func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

// initSessionStores picks where browser sessions live. Pending invites are
// short-lived and stay in memory unless Redis is available.
func initSessionStores(ctx context.Context, log *zap.SugaredLogger, cfg *bootstrap.Config) (*sessionStores, error) {
	switch cfg.SessionDriver {
	case bootstrap.SessionDriverRedis:
		redisAdapter := adapters.NewAdapterRedis(cfg, log)
		if err := redisAdapter.Init(ctx); err != nil {
			return nil, err
		}
		client := redisAdapter.GetClient()
		return &sessionStores{
			sessions: repository.NewSessionRedisStorage(client, cfg.SessionTTL),
			invites:  repository.NewInviteRedisStorage(client, cfg.InviteTTL),
			closers:  []func(context.Context) error{redisAdapter.Close},
		}, nil

	case bootstrap.SessionDriverMongo:
		mongoAdapter := adapters.NewAdapterMongo(cfg, log)
		if err := mongoAdapter.Init(ctx); err != nil {
			return nil, err
		}
		sessions := repository.NewMongoSessionStorage(mongoAdapter, cfg.SessionTTL)
		if err := sessions.EnsureIndexes(ctx); err != nil {
			log.Warnf("Mongo session indexes: %v", err)
		}
		return &sessionStores{
			sessions: sessions,
			invites:  repository.NewInviteMapStorage(cfg.InviteTTL),
			closers:  []func(context.Context) error{mongoAdapter.Close},
		}, nil

	default:
		log.Warn("Sessions are kept in memory and will not survive a restart")
		return &sessionStores{
			sessions: repository.NewSessionMapStorage(cfg.SessionTTL),
			invites:  repository.NewInviteMapStorage(cfg.InviteTTL),
		}, nil
	}
}

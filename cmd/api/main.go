package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"heartstring/internal/adapter/api"
	"heartstring/internal/adapter/api/handler"
	apimiddleware "heartstring/internal/adapter/api/middleware"
	"heartstring/internal/adapter/api/router"
	"heartstring/internal/adapter/repository"
	domainrepo "heartstring/internal/domain/repository"
	"heartstring/internal/domain/service"
	"heartstring/internal/infrastructure/database"
	"heartstring/internal/infrastructure/firebase"
	"heartstring/internal/infrastructure/metrics"
	"heartstring/internal/infrastructure/ratelimit"
	"heartstring/internal/infrastructure/realtime"
	"heartstring/internal/infrastructure/storage"
	"heartstring/internal/infrastructure/supabase"
	"heartstring/internal/infrastructure/websocket"
	"heartstring/internal/usecase"
	"heartstring/pkg/config"
	"heartstring/pkg/logger"
)

// backend is everything that differs between the Supabase and Firebase deployments.
type backend struct {
	messages  domainrepo.MessageRepository
	profiles  domainrepo.ProfileRepository
	settings  domainrepo.SettingsRepository
	blocked   domainrepo.BlockedUserRepository
	verifier  service.TokenVerifier
	firestore *firestore.Client
	options   []option.ClientOption
	closers   []func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	logger.Init(cfg.Environment)
	defer logger.Sync()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := handler.NewHealthHandler()

	var be *backend
	switch cfg.Backend {
	case config.BackendFirebase:
		be, err = newFirebaseBackend(ctx, cfg, health)
	default:
		be, err = newSupabaseBackend(cfg, health)
	}
	if err != nil {
		logger.L().Fatal("Failed to initialize backend", zap.String("backend", cfg.Backend), zap.Error(err))
	}
	defer func() {
		for i := len(be.closers) - 1; i >= 0; i-- {
			be.closers[i]()
		}
	}()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		be.profiles = repository.NewCachedProfileRepository(be.profiles, rdb, cfg.Redis.ProfileTTL)
		health.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info("Profile cache enabled at %s", cfg.Redis.Addr)
	}

	var uploader service.FileUploadService
	if cfg.StorageBucket != "" {
		storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, be.options...)
		if err != nil {
			logger.L().Fatal("Failed to initialize Cloud Storage", zap.Error(err))
		}
		defer storageClient.Close()
		uploader = storageClient
	}

	limiter := ratelimit.NewRateLimiter()
	limiter.SetPolicy(ratelimit.ActionSendMessage, ratelimit.Policy{
		Burst: cfg.SendRateBurst,
		Every: cfg.SendRateInterval,
	})

	feedFor, err := newFeedFactory(cfg, be)
	if err != nil {
		logger.L().Fatal("Failed to initialize realtime driver", zap.String("driver", cfg.Realtime.Driver), zap.Error(err))
	}

	sessions := usecase.NewSessionManager(be.verifier, func(identity *usecase.TokenIdentity, listener func(usecase.ChangeKind)) *usecase.Session {
		return usecase.NewSession(usecase.ServiceContext{
			Messages: be.messages,
			Identity: identity,
			Feed:     feedFor(identity),
			Uploader: uploader,
			Limiter:  limiter,
		}, listener)
	}, cfg.Session.IdleTimeout)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Session.ReapSchedule, func() {
		if n := sessions.ReapIdle(); n > 0 {
			logger.Info("Closed %d idle sessions", n)
		}
	}); err != nil {
		logger.L().Fatal("Invalid session reap schedule", zap.String("schedule", cfg.Session.ReapSchedule), zap.Error(err))
	}
	scheduler.AddFunc("@every 10m", func() {
		limiter.Cleanup(time.Hour)
	})
	scheduler.Start()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Validator = api.NewValidator()

	router.Setup(e, router.Handlers{
		Health:    health,
		Messaging: handler.NewMessagingHandler(sessions),
		Profile:   handler.NewProfileHandler(usecase.NewProfileUseCase(be.profiles)),
		Settings:  handler.NewSettingsHandler(usecase.NewSettingsUseCase(be.settings, be.blocked, be.profiles, limiter)),
		WebSocket: handler.NewWebSocketHandler(wsManager, sessions),
	}, apimiddleware.NewAuthMiddleware(be.verifier), limiter)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}
	<-scheduler.Stop().Done()
	sessions.CloseAll()
}

func newSupabaseBackend(cfg *config.Config, health *handler.HealthHandler) (*backend, error) {
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment == "development")
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "development" {
		if err := database.Migrate(db, repository.Models()...); err != nil {
			return nil, err
		}
	}
	health.AddCheck("database", pingDB(db))

	be := &backend{
		messages: repository.NewPostgresMessageRepository(db),
		profiles: repository.NewPostgresProfileRepository(db),
		settings: repository.NewPostgresSettingsRepository(db),
		blocked:  repository.NewPostgresBlockedUserRepository(db),
	}

	var verifier *supabase.JWTVerifier
	if cfg.Supabase.JWKSURL != "" {
		verifier, err = supabase.NewJWKSVerifier(cfg.Supabase.JWKSURL)
	} else {
		verifier, err = supabase.NewSecretVerifier(cfg.Supabase.JWTSecret)
	}
	if err != nil {
		return nil, err
	}
	be.verifier = verifier
	be.closers = append(be.closers, verifier.Close)

	if sqlDB, err := db.DB(); err == nil {
		be.closers = append(be.closers, func() { sqlDB.Close() })
	}
	return be, nil
}

func newFirebaseBackend(ctx context.Context, cfg *config.Config, health *handler.HealthHandler) (*backend, error) {
	var opts []option.ClientOption
	if cfg.Firebase.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Firebase.ServiceAccountJSON)))
	} else if cfg.Firebase.ServiceAccountPath != "" {
		if _, err := os.Stat(cfg.Firebase.ServiceAccountPath); err != nil {
			return nil, err
		}
		logger.Info("Using Firebase service account from file: %s", cfg.Firebase.ServiceAccountPath)
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.ServiceAccountPath))
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		return nil, err
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	client, err := firestore.NewClient(ctx, cfg.Firebase.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	firebaseAuth := firebase.NewFirebaseAuthClient(authClient)
	health.AddCheck("firebase", firebaseAuth.TestConnection)

	profiles := repository.NewFirestoreProfileRepository(client)
	return &backend{
		messages:  repository.NewFirestoreMessageRepository(client, profiles),
		profiles:  profiles,
		settings:  repository.NewFirestoreSettingsRepository(client),
		blocked:   repository.NewFirestoreBlockedUserRepository(client),
		verifier:  firebaseAuth,
		firestore: client,
		options:   opts,
		closers:   []func(){func() { client.Close() }},
	}, nil
}

// newFeedFactory returns the realtime feed for a session. The Supabase feed
// authenticates each channel with the session's own token; the other drivers
// share one feed. The NATS and memory drivers publish the service's own writes,
// so be.messages is wrapped accordingly.
func newFeedFactory(cfg *config.Config, be *backend) (func(*usecase.TokenIdentity) service.RealtimeFeed, error) {
	switch cfg.Realtime.Driver {
	case config.RealtimeSupabase:
		supabaseCfg := realtime.SupabaseConfig{
			URL:       cfg.Supabase.URL,
			APIKey:    cfg.Supabase.AnonKey,
			Heartbeat: cfg.Realtime.Heartbeat,
		}
		return func(identity *usecase.TokenIdentity) service.RealtimeFeed {
			return realtime.NewSupabaseFeed(supabaseCfg, identity.Token)
		}, nil

	case config.RealtimeFirestore:
		feed := realtime.NewFirestoreFeed(be.firestore)
		return func(*usecase.TokenIdentity) service.RealtimeFeed { return feed }, nil

	case config.RealtimeNATS:
		nc, err := realtime.ConnectNATS(cfg.Realtime.NATSURL, "heartstring")
		if err != nil {
			return nil, err
		}
		be.closers = append(be.closers, nc.Close)
		be.messages = repository.NewPublishingMessageRepository(be.messages, realtime.NewNATSPublisher(nc, cfg.Realtime.NATSSubjectPrefix))
		feed := realtime.NewNATSFeed(nc, cfg.Realtime.NATSSubjectPrefix)
		return func(*usecase.TokenIdentity) service.RealtimeFeed { return feed }, nil

	default:
		feed := realtime.NewMemoryFeed()
		be.messages = repository.NewPublishingMessageRepository(be.messages, feed)
		return func(*usecase.TokenIdentity) service.RealtimeFeed { return feed }, nil
	}
}

func pingDB(db *gorm.DB) handler.HealthCheck {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pipetrade/rfq-auth/internal/config"
	"github.com/pipetrade/rfq-auth/internal/domain"
	"github.com/pipetrade/rfq-auth/internal/http/handler"
	"github.com/pipetrade/rfq-auth/internal/http/router"
	"github.com/pipetrade/rfq-auth/internal/observability"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/security"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *gorm.DB
	Server        *http.Server
	Observability *observability.Runtime
	Sessions      *service.SessionService
	Auth          *service.AuthService
	Credentials   *service.CredentialService
}

// Build wires the whole service: storage, redis abuse guard, services,
// router, HTTP server.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.DeviceBinding{},
		&domain.Session{},
		&domain.AuditLogEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	bindingRepo := repository.NewDeviceBindingRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	auditSvc := service.NewAuditService(auditRepo)
	hasher := security.NewPasswordHasher()
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)

	credentialSvc := service.NewCredentialService(accountRepo, sessionRepo, hasher, auditSvc)
	deviceSvc := service.NewDeviceService(bindingRepo, auditSvc)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, accountRepo, auditSvc, cfg.RefreshTokenPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	sessionSvc := service.NewSessionService(sessionRepo, auditSvc)

	var abuseGuard service.AuthAbuseGuard
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		abuseGuard = service.NewRedisAuthAbuseGuard(client, "auth_abuse", service.AuthAbusePolicy{
			FreeAttempts: 3,
			BaseDelay:    5 * time.Second,
			Multiplier:   2,
			MaxDelay:     15 * time.Minute,
			ResetWindow:  time.Hour,
		})
	} else {
		logger.Warn("redis not configured, login abuse guard disabled")
	}

	authSvc := service.NewAuthService(credentialSvc, deviceSvc, tokenSvc, sessionRepo, auditSvc, abuseGuard, cfg.SessionTTL, cfg.SingleSessionPerAccount)

	authHandler := handler.NewAuthHandler(authSvc, sessionSvc)
	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		TokenVerifier:    tokenSvc,
		Activity:         sessionSvc,
		AuthRateLimitRPM: 30,
		APIRateLimitRPM:  300,
		EnableOTelHTTP:   cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Server:        server,
		Observability: runtime,
		Sessions:      sessionSvc,
		Auth:          authSvc,
		Credentials:   credentialSvc,
	}, nil
}

// Run serves HTTP and, when configured, the periodic expired-session reaper,
// until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	if a.Config.SessionReaperInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(a.Config.SessionReaperInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := a.Sessions.ReapExpired(ctx); err != nil {
						a.Logger.Warn("session reaper pass failed", "error", err)
					}
				}
			}
		})
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := a.Observability.Shutdown(shutdownCtx); serr != nil {
		a.Logger.Warn("observability shutdown", "error", serr)
	}
	return err
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DBDSN), gormCfg)
	default:
		db, err = gorm.Open(sqlite.Open(cfg.DBDSN), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

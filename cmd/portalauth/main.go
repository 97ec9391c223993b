package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/db"
	"github.com/xxxsen/portalauth/internal/handler"
	"github.com/xxxsen/portalauth/internal/iam"
	"github.com/xxxsen/portalauth/internal/job"
	"github.com/xxxsen/portalauth/internal/middleware"
	"github.com/xxxsen/portalauth/internal/oauth"
	"github.com/xxxsen/portalauth/internal/repo"
	"github.com/xxxsen/portalauth/internal/schedule"
	"github.com/xxxsen/portalauth/internal/service"
	"github.com/xxxsen/portalauth/internal/session"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "portalauth",
		Short: "portal authentication service",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run portalauth server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			return runServer(cfg, conn)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}

	for _, cmd := range []*cobra.Command{runCmd, migrateCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func openSessionStore(cfg *config.Config) (session.Store, func(), error) {
	ttl := time.Duration(cfg.Session.TTLHours) * time.Hour
	if cfg.Redis.Addr == "" {
		logutil.GetLogger(context.Background()).Warn("redis not configured, sessions kept in memory")
		return session.NewMemoryStore(cfg.Session.MemorySize, ttl), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return session.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func runServer(cfg *config.Config, conn *sql.DB) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logutil.GetLogger(ctx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("public_base_url", cfg.PublicBaseURL),
		zap.String("db_driver", cfg.Database.Driver),
	)

	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := &http.Client{Timeout: time.Duration(cfg.Keycloak.TimeoutSeconds) * time.Second}
	provider, err := oauth.NewProvider(ctx, "keycloak", oauth.ProviderArgs{Config: oauth.ProviderConfig{
		Issuer:       cfg.Keycloak.Issuer,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		AuthorizeURL: cfg.Keycloak.AuthorizeURL,
		LogoutURL:    cfg.Keycloak.LogoutURL,
		Scopes:       cfg.Keycloak.Scopes,
	}, Client: client})
	if err != nil {
		return fmt.Errorf("init identity provider: %w", err)
	}
	iamClient, err := iam.NewKeycloakClient(context.Background(), iam.KeycloakConfig{
		BaseURL:      cfg.IAM.BaseURL,
		Realm:        cfg.IAM.Realm,
		ClientID:     cfg.IAM.ClientID,
		ClientSecret: cfg.IAM.ClientSecret,
		TokenURL:     cfg.IAM.TokenURL,
		Timeout:      time.Duration(cfg.IAM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init iam client: %w", err)
	}

	verificationRepo := repo.NewEmailVerificationRepo(conn, cfg.Database.Driver)
	mailSender := service.NewEmailSender(cfg.Mail)
	verifyService := service.NewEmailVerificationService(verificationRepo, iamClient, mailSender, cfg)
	accountService := service.NewAccountService(iamClient, verifyService, cfg)
	authService := service.NewAuthService(provider, cfg)
	handshakeService := service.NewHandshakeService(provider, cfg)

	sessions := handler.NewSessionManager(store, session.CookieOptions{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
	}, time.Duration(cfg.Session.TTLHours)*time.Hour)
	deps := handler.RouterDeps{
		Auth:            handler.NewAuthHandler(authService, sessions, cfg),
		OAuth:           handler.NewOAuthHandler(handshakeService, sessions, cfg),
		Account:         handler.NewAccountHandler(accountService, verifyService, cfg),
		Sessions:        sessions,
		RateLimitWindow: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	}

	scheduler := schedule.NewCronScheduler()
	report := job.NewPendingVerificationReportJob(verifyService, time.Duration(cfg.Jobs.PendingStaleDays)*24*time.Hour)
	if err := scheduler.AddJob(report, cfg.Jobs.PendingReportSpec); err != nil {
		return fmt.Errorf("schedule %s: %w", report.Name(), err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

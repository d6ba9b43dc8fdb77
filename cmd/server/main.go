package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rahulnair23/foyer/internal/api"
	"github.com/rahulnair23/foyer/internal/app"
	"github.com/rahulnair23/foyer/internal/app/maintenance"
	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/auth/twofactor"
	"github.com/rahulnair23/foyer/internal/database"
	"github.com/rahulnair23/foyer/internal/notify"
	"github.com/rahulnair23/foyer/internal/queue"
	"github.com/rahulnair23/foyer/internal/services"
	"github.com/rahulnair23/foyer/internal/staging"
	"github.com/rahulnair23/foyer/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("foyer-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	store, closeStore, err := initialiseStaging(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	broker, err := queue.NewRabbitMQQueue(queue.RabbitMQConfig{
		URL:           cfg.Queue.URL,
		QueueName:     cfg.Queue.Name,
		PrefetchCount: cfg.Queue.PrefetchCount,
	})
	if err != nil {
		return fmt.Errorf("connect notification queue: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			log.Warn("queue close failed", zap.Error(err))
		}
	}()

	publisher, err := notify.NewPublisher(broker, cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("initialise notification publisher: %w", err)
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     cfg.Auth.JWT.Secret,
		Issuer:     cfg.Auth.JWT.Issuer,
		AccessTTL:  cfg.Auth.JWT.AccessTTL,
		RefreshTTL: cfg.Auth.JWT.RefreshTTL,
		ResetTTL:   cfg.Auth.JWT.ResetTTL,
	})
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	totp := twofactor.NewTOTPService(twofactor.WithIssuer(cfg.Auth.TOTP.Issuer))

	inviteSvc, err := services.NewInviteService(db, publisher,
		services.WithInviteExpiry(cfg.Invites.Expiry))
	if err != nil {
		return fmt.Errorf("initialise invite service: %w", err)
	}

	signupSvc, err := services.NewSignupService(db, store, tokens, totp, publisher)
	if err != nil {
		return fmt.Errorf("initialise signup service: %w", err)
	}

	authSvc, err := services.NewAuthService(db, store, tokens, totp, publisher)
	if err != nil {
		return fmt.Errorf("initialise auth service: %w", err)
	}

	passwordSvc, err := services.NewPasswordService(db, store, tokens, totp, publisher)
	if err != nil {
		return fmt.Errorf("initialise password service: %w", err)
	}

	sweeper := maintenance.NewSweeper(inviteSvc,
		maintenance.WithSchedule(cfg.Invites.SweepSchedule))
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := sweeper.Stop()
		if err := sweeper.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(tokens, api.Services{
		Auth:      authSvc,
		Signup:    signupSvc,
		Invites:   inviteSvc,
		Passwords: passwordSvc,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.OpenAndMigrate(convertDatabaseConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Seed.Email != "" && cfg.Seed.Password != "" {
		if err := database.SeedRootUser(db, cfg.Seed.Email, cfg.Seed.Username, cfg.Seed.Password); err != nil {
			return nil, fmt.Errorf("seed root user: %w", err)
		}
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(cfg.Database.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func initialiseStaging(ctx context.Context, cfg *app.Config, log *zap.Logger) (staging.Store, func(), error) {
	if !cfg.Staging.Redis.Enabled {
		log.Info("staging store: in-memory (single process only)")
		return staging.NewMemoryStore(), func() {}, nil
	}

	redisStore, err := staging.NewRedisStore(ctx, staging.RedisConfig{
		Address:  cfg.Staging.Redis.Address,
		Username: cfg.Staging.Redis.Username,
		Password: cfg.Staging.Redis.Password,
		DB:       cfg.Staging.Redis.DB,
		Timeout:  cfg.Staging.Redis.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect staging store: %w", err)
	}

	log.Info("staging store: redis", zap.String("addr", cfg.Staging.Redis.Address))
	return redisStore, func() { _ = redisStore.Close() }, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("database handle unavailable on shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}

// Package main is the entry point for the chat server.
//
// main stays minimal: it reads configuration, builds the dependency graph
// and starts the server. All actual logic lives in internal/.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/foxochat/chat-core/internal/auth"
	"github.com/foxochat/chat-core/internal/cleanup"
	"github.com/foxochat/chat-core/internal/config"
	"github.com/foxochat/chat-core/internal/mailer"
	"github.com/foxochat/chat-core/internal/repository/sqlite"
	"github.com/foxochat/chat-core/internal/server"
	"github.com/foxochat/chat-core/internal/service"
	"github.com/foxochat/chat-core/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// === DATABASE ===
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dbDir, err)
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// === MAIL DELIVERY ===
	var mail mailer.Mailer
	if cfg.SMTP.Host != "" {
		mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, cfg.PublicURL, logger)
	} else {
		// Validate only allows an empty host in dev mode.
		logger.Warn("SMTP not configured, verification codes will be written to the log")
		mail = mailer.NewLogMailer(cfg.PublicURL, logger)
	}

	// === AUTH ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifetime)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	codes, err := verification.NewManager(db, mail, verification.Config{
		BaseLifetime:   cfg.Codes.Lifetime,
		ResendLifetime: cfg.Codes.ResendLifetime,
		MaxAttempts:    cfg.Codes.MaxAttempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating verification manager: %w", err)
	}

	authService := service.NewAuthService(db, codes, tokens, auth.NewPasswordService(), service.AuthOptions{
		SkipCodeValidation: cfg.SkipCodeValidation(),
	}, logger)
	channelService := service.NewChannelService(db, db, logger)

	// === BACKGROUND JOBS ===
	scheduler := cleanup.NewScheduler(logger)
	if err := scheduler.Add(cfg.Codes.SweepSchedule, cleanup.NewCodeSweepJob(db, logger)); err != nil {
		return fmt.Errorf("scheduling code sweep: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	// === HTTP ===
	srv := server.New(server.Config{Port: cfg.Port}, authService, channelService, logger)
	return srv.Start(ctx)
}

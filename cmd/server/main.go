package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edulite/auth-service/internal/auth"
	"github.com/edulite/auth-service/internal/db"
	"github.com/edulite/auth-service/internal/email"
	"github.com/edulite/auth-service/internal/password"
	"github.com/edulite/auth-service/internal/server"
	"github.com/edulite/auth-service/internal/token"
	"github.com/edulite/auth-service/internal/user"
	"github.com/edulite/auth-service/pkg/config"

	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		slog.Error("auth service exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}

	tokens, err := token.NewService(token.Secrets{
		Access:  []byte(cfg.AccessTokenSecret),
		Refresh: []byte(cfg.RefreshTokenSecret),
	})
	if err != nil {
		return err
	}

	ledger := token.NewLedger(conn)
	notifier := email.NewNotifier(email.NewLogSender(logger), logger)
	authService := auth.NewService(
		user.NewRepository(conn),
		ledger,
		tokens,
		password.NewHasher(password.DefaultCost),
		auth.WithNotifier(notifier),
		auth.WithLogger(logger),
	)

	router := server.NewRouter(auth.NewHandler(authService, logger), conn, cfg.RequestTimeout, logger)
	return server.New(cfg, router, ledger, logger).Run(ctx)
}

// Package main запускает HTTP-сервер сервиса аренды ячеек и планировщик напоминаний.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/cellrent/internal/config"
	"github.com/mmeshcher/cellrent/internal/gateway"
	"github.com/mmeshcher/cellrent/internal/handler"
	"github.com/mmeshcher/cellrent/internal/lifecycle"
	"github.com/mmeshcher/cellrent/internal/mailer"
	"github.com/mmeshcher/cellrent/internal/middleware"
	"github.com/mmeshcher/cellrent/internal/notifier"
	"github.com/mmeshcher/cellrent/internal/repository"
	"github.com/mmeshcher/cellrent/internal/service"
	"github.com/mmeshcher/cellrent/internal/tariff"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	sugar := logger.Sugar()

	auth := middleware.NewAuthMiddleware(cfg.AdminSecret)
	if cfg.IssueToken != "" {
		if cfg.AdminSecret == "" {
			sugar.Fatal("ADMIN_SECRET is required to issue tokens")
		}
		fmt.Println(auth.IssueToken(cfg.IssueToken, cfg.AdminTokenTTL))
		return
	}

	if cfg.DatabaseURI == "" {
		sugar.Fatalw("configuration error", "error", config.ErrNoDatabase.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	flat, err := tariff.NewFlat(cfg.TariffPeriodDays, cfg.TariffPeriodPriceMinor)
	if err != nil {
		sugar.Fatalw("tariff configuration error", "error", err.Error())
	}

	policy := lifecycle.Policy{
		Location:         cfg.Location(),
		ExpiringSoonDays: cfg.ExpiringSoonDays,
		PaymentSoonDays:  cfg.PaymentSoonDays,
		BillingCycleDays: cfg.TariffPeriodDays,
	}
	engine := lifecycle.NewEngine(repo, flat, policy, logger)

	if !cfg.GatewayConfigured() {
		sugar.Warn("payment gateway is not configured, payment creation will fail")
	}
	gw := gateway.NewClient(gateway.Config{
		BaseURL:         cfg.GatewayURL,
		TerminalKey:     cfg.TerminalKey,
		Password:        cfg.TerminalPassword,
		Timeout:         cfg.GatewayTimeout,
		RetryMax:        cfg.GatewayRetries,
		NotificationURL: cfg.NotificationURL,
		SuccessURL:      cfg.SuccessURL,
		FailURL:         cfg.FailURL,
	}, logger)

	svc := service.NewService(repo, gw, engine, service.Config{
		Currency:        cfg.Currency,
		MinPaymentMinor: cfg.MinPaymentMinor,
	}, logger)

	var sink notifier.Sink = mailer.Nop{Logger: logger.Named("mailer")}
	if cfg.SMTPHost != "" {
		sink = mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger)
	} else {
		sugar.Warn("SMTP_HOST is not set, reminders will be logged and recorded as failed")
	}

	n := notifier.New(repo, sink, policy, notifier.Config{
		Offsets: cfg.ReminderOffsets,
		LockTTL: cfg.NotifyLockTTL,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NotifyOnce {
		res, err := n.Run(ctx)
		if err != nil {
			sugar.Fatalw("notification run failed", "error", err.Error())
		}
		sugar.Infow("notification run finished",
			"attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
		return
	}

	if cfg.NotifyEnabled {
		sched, err := notifier.NewScheduler(n, cfg.NotifySchedule, cfg.Location(), cfg.NotifyLockTTL, logger)
		if err != nil {
			sugar.Fatalw("scheduler configuration error", "error", err.Error())
		}
		sched.Start()
		defer sched.Stop()
		sugar.Infow("reminder scheduler started", "schedule", cfg.NotifySchedule, "next", sched.Next())
	}

	if cfg.AdminSecret == "" {
		sugar.Warn("ADMIN_SECRET is not set, admin API will reject every request")
	}

	h := handler.NewHandler(svc, n, logger, auth, cfg.WebhookPrefixes())

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting cellrent server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

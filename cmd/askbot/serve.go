package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/askbot/internal/audit"
	"github.com/DukeRupert/askbot/internal/bot"
	"github.com/DukeRupert/askbot/internal/media"
	"github.com/DukeRupert/askbot/internal/ops"
	"github.com/DukeRupert/askbot/internal/service"
	"github.com/DukeRupert/askbot/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, the ops server and the usage reporter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	st, health, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("AI provider initialization failed: %w", err)
	}

	archive, err := storage.New(cfg.StorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	var recorder service.Recorder
	if cfg.AuditEnabled {
		r, err := audit.New(st, archive, cfg.AuditConfig(), logger)
		if err != nil {
			return fmt.Errorf("audit recorder initialization failed: %w", err)
		}
		r.Start()
		defer r.Stop()
		recorder = r
	}

	assistant, err := service.New(service.Config{
		Store:          st,
		Provider:       provider,
		Policy:         cfg.QuotaPolicy,
		Catalogue:      cfg.Catalogue,
		Images:         media.NewProcessor(0, 0),
		Recorder:       recorder,
		Location:       cfg.Location,
		RequestTimeout: cfg.AIRequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}

	reporter, err := service.NewReporter(st, cfg.ReportSchedule, cfg.Location, logger)
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("telegram initialization failed: %w", err)
	}
	logger.Info("Authorized on Telegram", "account", api.Self.UserName)

	dispatcher, err := bot.New(api, assistant, bot.Config{
		PaymentsMode: cfg.PaymentsMode,
		Locale:       cfg.Locale,
		FloodRate:    cfg.FloodRate,
		FloodBurst:   cfg.FloodBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("bot initialization failed: %w", err)
	}

	opsServer := ops.New(ops.Config{
		Addr:            cfg.OpsAddr,
		MetricsUsername: cfg.MetricsUsername,
		MetricsPassword: cfg.MetricsPassword,
	}, health, logger)

	logger.Info("Starting askbot",
		"env", cfg.Env,
		"store", cfg.DatabaseDriver,
		"provider", provider.Name(),
		"storage", cfg.StorageProvider,
		"timezone", cfg.Location.String(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return opsServer.Run(ctx)
	})

	g.Go(func() error {
		reporter.Start()
		<-ctx.Done()
		reporter.Stop()
		return nil
	})

	g.Go(func() error {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)

		go func() {
			<-ctx.Done()
			api.StopReceivingUpdates()
		}()

		return dispatcher.Run(ctx, updates)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"topup-bot/internal/alert"
	"topup-bot/internal/cache"
	"topup-bot/internal/config"
	"topup-bot/internal/httpserver"
	"topup-bot/internal/intent"
	"topup-bot/internal/ledger"
	"topup-bot/internal/logging"
	"topup-bot/internal/metrics"
	"topup-bot/internal/poller"
	"topup-bot/internal/reconcile"
	"topup-bot/internal/repo"
	"topup-bot/internal/router"
	"topup-bot/internal/service"
	"topup-bot/internal/telegram"
	"topup-bot/internal/wa"
)

const (
	flagEnvFile    = "env-file"
	flagListenAddr = "listen-addr"
	flagLogLevel   = "log-level"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "topupd",
		Short:         "Top-up order backend with Telegram review bots",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString(flagEnvFile)
			cfg, err := loadConfig(cmd, v, envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().String(flagEnvFile, ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (overrides HTTP_LISTEN_ADDR)")
	cmd.Flags().String(flagLogLevel, "", "log level (overrides LOG_LEVEL)")
	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, envFile string) (config.Config, error) {
	_ = godotenv.Load(envFile)

	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		return config.Config{}, err
	}
	if f := cmd.Flags().Lookup(flagListenAddr); f != nil && f.Changed {
		v.Set("HTTP_LISTEN_ADDR", f.Value.String())
	}
	if f := cmd.Flags().Lookup(flagLogLevel); f != nil && f.Changed {
		v.Set("LOG_LEVEL", f.Value.String())
	}
	return config.Load(v)
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting topup-bot", "store", cfg.StoreDriver)

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	backend, err := repo.Open(ctx, repo.OpenConfig{
		Driver:      cfg.StoreDriver,
		Path:        cfg.StorePath,
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		Redis: cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		},
		RedisKey: cfg.RedisKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	store, err := repo.NewStore(ctx, backend, logger, metricRegistry)
	if err != nil {
		backend.Close()
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed closing store", "error", err)
		}
	}()

	sheets := ledger.NewSheets(ledger.Config{
		SheetID:         cfg.SheetID,
		CredentialsJSON: cfg.GoogleSAKeyJSON,
		CredentialsPath: cfg.GoogleSACredPath,
		RetryInterval:   cfg.LedgerRetryInterval,
		BreakerDelay:    cfg.LedgerBreakerDelay,
	}, logger, metricRegistry)

	tg := telegram.New(telegram.Config{
		BaseURL:     cfg.TelegramBaseURL,
		SendTimeout: cfg.SendTimeout,
		PollWait:    cfg.PollWait,
	}, nil, logger, metricRegistry)

	sinks := []alert.Sink{alert.NewTelegramSink(tg, cfg.NotifyBot.Token, cfg.NotifyBot.Chat)}
	waCfg := wa.Config{StorePath: cfg.WhatsAppStorePath, LogLevel: cfg.WhatsAppLogLevel, AlertJID: cfg.WhatsAppAlertJID}
	if waCfg.Enabled() {
		waClient, err := wa.New(ctx, waCfg, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		if err := waClient.Start(ctx); err != nil {
			logger.Error("whatsapp alerts unavailable", "error", err)
		} else {
			sinks = append(sinks, waClient)
		}
	}
	alerts := alert.NewDispatcher(cfg.AlertTimeout, logger, metricRegistry, sinks...)

	reconciler := reconcile.New(store, sheets, alerts, logger, metricRegistry)
	replies := router.New(store, intent.NewClassifier(nil), reconciler, logger, metricRegistry)
	polls := poller.New(store, tg, poller.Config{Interval: cfg.PollInterval, Wait: cfg.PollWait}, logger, metricRegistry)

	svc := service.New(store, sheets, reconciler, tg, service.Config{
		Order:       channel(cfg.OrderBot),
		Balance:     channel(cfg.BalanceBot),
		LoginReport: channel(cfg.LoginReportBot),
		Help:        channel(cfg.HelpBot),
		Offers:      channel(cfg.OffersBot),
		SendTimeout: cfg.SendTimeout,
	}, logger, metricRegistry)
	defer svc.Wait()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, svc, httpserver.Options{
		BasePath: cfg.PublicBasePath,
		Debug:    cfg.DebugEndpoints,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sheets.Run(gctx) })
	g.Go(func() error {
		return polls.Run(gctx,
			poller.Bot{Name: "admin", Token: cfg.AdminBot.Token, Handler: replies.HandleAdmin},
			poller.Bot{Name: "order", Token: cfg.OrderBot.Token, Handler: replies.HandleUpdate},
			poller.Bot{Name: "balance", Token: cfg.BalanceBot.Token, Handler: replies.HandleUpdate},
			poller.Bot{Name: "login_report", Token: cfg.LoginReportBot.Token, Handler: replies.HandleUpdate},
			poller.Bot{Name: "help", Token: cfg.HelpBot.Token, Handler: replies.HandleUpdate},
			poller.Bot{Name: "offers", Token: cfg.OffersBot.Token, Handler: replies.HandleUpdate},
			poller.Bot{Name: "notify", Token: cfg.NotifyBot.Token, Handler: replies.HandleUpdate},
		)
	})
	g.Go(func() error {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if perr := store.Persist(context.Background()); perr != nil {
		logger.Error("final persist failed", "error", perr)
	}
	if err != nil {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

func channel(b config.Bot) service.Channel {
	return service.Channel{Token: b.Token, ChatID: b.Chat}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kirillm/crystalbot/internal/agent"
	"github.com/kirillm/crystalbot/internal/ai"
	"github.com/kirillm/crystalbot/internal/api"
	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/config"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/exchange"
	"github.com/kirillm/crystalbot/internal/notify"
	"github.com/kirillm/crystalbot/internal/orchestrator"
	"github.com/kirillm/crystalbot/internal/policy"
	"github.com/kirillm/crystalbot/internal/storage"
	"github.com/kirillm/crystalbot/internal/strategy"
	"github.com/kirillm/crystalbot/pkg/utils"
)

func newRunCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading cycle",
		Long: `Start the decision cycle in the configured MODE (paper or live).
Stops gracefully on SIGINT/SIGTERM; exits with an error if the audit log
becomes unwritable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*debug)
			if err != nil {
				return err
			}
			if err := cfg.ValidateRun(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTrading(ctx, cfg, logger)
		},
	}
}

// runTrading собирает компоненты и крутит планировщик до отмены ctx
func runTrading(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	logger.Info("🚀 Starting Crystalbot v%s in %s mode", Version, cfg.Mode)
	logger.Info("📊 Pairs: %v, timeframe: %s, strategy: %s", cfg.Pairs, cfg.Timeframe, cfg.Strategy)
	logger.Info("🛡️ Risk profile %s: %.1f%% per trade, %d positions, %.0f%% min cash",
		cfg.Risk.ProfileName, cfg.Risk.MaxRiskPerTrade*100, cfg.Risk.MaxPositions, cfg.Risk.MinCashPercent)

	var db *storage.PostgresStorage
	if cfg.Database.URL != "" {
		var err error
		db, err = storage.NewPostgresStorage(ctx, cfg.Database.URL,
			cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("✅ PostgreSQL mirror connected")
	}

	var chainOpts []audit.Option
	if db != nil {
		chainOpts = append(chainOpts, audit.WithMirror(db))
	}
	chain, err := openChain(cfg, logger, chainOpts...)
	if err != nil {
		return err
	}
	if ok, err := chain.Verify(); err != nil {
		return err
	} else if !ok {
		logger.Warn("⚠️  Audit chain at %s is BROKEN, new entries continue from the last hash", chain.Path())
	}

	binanceClient := exchange.NewBinanceClient(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet, cfg.Schedule.CallTimeout)
	market := exchange.NewMarketFailover(binanceClient, exchange.DefaultCacheTTL, logger)

	var (
		account domain.Account     = binanceClient
		trading domain.SpotTrading = binanceClient
	)
	if cfg.Mode == domain.ModePaper {
		paper := exchange.NewPaperExchange(market, cfg.Paper.StartingBalance, logger)
		account, trading = paper, paper
		logger.Info("📝 Paper trading with %.2f USDT", cfg.Paper.StartingBalance)
	}

	killSwitch := policy.NewKillSwitch(logger)
	guard := policy.NewGuard(cfg.Risk, account, market, trading, killSwitch, logger)

	persona, err := ai.LoadPersona(cfg.AI.PersonaPath)
	if err != nil {
		return err
	}
	oracle := ai.NewClient(ai.ClientConfig{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		MaxTokens:      cfg.AI.MaxTokens,
		Timeout:        cfg.AI.Timeout,
		MaxRetries:     cfg.Schedule.MaxRetries,
		RetryBaseDelay: cfg.Schedule.RetryBaseDelay,
		RatePerMin:     cfg.AI.RatePerMin,
	}, logger)

	sessions := orchestrator.NewSessionRecorder(filepath.Join(cfg.DataDir, sessionsDir), logger)
	loop, err := agent.NewLoop(oracle, persona,
		agent.Deps{Market: market, Account: account, Risk: guard},
		agent.Config{
			MaxTurns:    cfg.Schedule.MaxTurns,
			Timeframe:   cfg.Timeframe,
			SeriesLimit: cfg.Schedule.SeriesLimit,
			ToolTimeout: cfg.Schedule.CallTimeout,
		},
		agent.WithRecorder(sessions),
		agent.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	strat, err := strategy.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}

	deps := orchestrator.Deps{
		Market:   market,
		Account:  account,
		Strategy: strat,
		Decider:  loop,
		Gate:     guard,
		Audit:    chain,
		Sessions: sessions,
		Notifier: notifier,
	}
	if db != nil {
		deps.Mirror = db
	}

	sched, err := orchestrator.New(orchestrator.Config{
		Mode:           cfg.Mode,
		Pairs:          cfg.Pairs,
		Timeframe:      cfg.Timeframe,
		SeriesLimit:    cfg.Schedule.SeriesLimit,
		Interval:       cfg.Schedule.CycleInterval,
		Cooldown:       cfg.Schedule.CooldownInterval,
		CallTimeout:    cfg.Schedule.CallTimeout,
		MaxRetries:     cfg.Schedule.MaxRetries,
		RetryBaseDelay: cfg.Schedule.RetryBaseDelay,
		HistoryTurns:   cfg.Schedule.HistoryTurns,
		NotifyTimeout:  cfg.Schedule.NotifyTimeout,
	}, deps, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if cfg.APIPort > 0 {
		var cycles api.CycleStore
		if db != nil {
			cycles = db
		}
		server := api.NewServer(logger, cfg.Mode, sched, chain, killSwitch, cycles, cfg.APIPort)
		g.Go(func() error { return server.Start(gctx) })
	}

	err = g.Wait()
	logger.Info("👋 Crystalbot stopped")
	return err
}

// buildNotifier каналы уведомлений из конфигурации, nil если ни один не задан
func buildNotifier(cfg *config.Config, logger *utils.Logger) (notify.Notifier, error) {
	var channels notify.Multi

	if cfg.Notify.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Telegram notifier: %w", err)
		}
		channels = append(channels, tg)
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Schedule.NotifyTimeout, logger))
		logger.Info("🔔 Webhook notifications enabled")
	}
	if cfg.Notify.DiscordURL != "" {
		channels = append(channels, notify.NewDiscord(cfg.Notify.DiscordURL, cfg.Schedule.NotifyTimeout, logger))
		logger.Info("🔔 Discord notifications enabled")
	}

	if len(channels) == 0 {
		return nil, nil
	}
	return channels, nil
}

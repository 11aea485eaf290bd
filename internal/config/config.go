package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/policy"
	"github.com/kirillm/crystalbot/internal/strategy"
)

// Config содержит все настройки приложения
type Config struct {
	Mode      string
	Pairs     []string
	Timeframe string
	Strategy  string
	Params    strategy.Config
	DataDir   string
	Schedule  ScheduleConfig
	Risk      policy.RiskConfig
	AI        AIConfig
	Binance   BinanceConfig
	Paper     PaperConfig
	Notify    NotifyConfig
	Database  DatabaseConfig
	APIPort   int
	LogLevel  string
	LogFormat string
}

// ScheduleConfig тайминги цикла и внешних вызовов
type ScheduleConfig struct {
	CycleInterval    time.Duration
	CooldownInterval time.Duration
	MaxTurns         int
	CallTimeout      time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	SeriesLimit      int
	HistoryTurns     int
	NotifyTimeout    time.Duration
}

type AIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Timeout     time.Duration
	RatePerMin  int
	PersonaPath string
}

type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

type PaperConfig struct {
	StartingBalance float64
}

type NotifyConfig struct {
	TelegramBotToken string
	TelegramChatID   int64
	WebhookURL       string
	DiscordURL       string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Load загружает конфигурацию из .env файла и окружения
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	p := &parser{}

	risk := policy.DefaultRiskConfig()
	if path := getEnv("RISK_PROFILE_PATH", ""); path != "" {
		profile, err := policy.LoadProfile(path, getEnv("RISK_PROFILE", "moderate"))
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_PROFILE_PATH: %w", err)
		}
		risk = profile
	}
	risk.MaxRiskPerTrade = p.getFloat("RISK_MAX_RISK_PER_TRADE", risk.MaxRiskPerTrade)
	risk.MaxPositions = p.getInt("RISK_MAX_POSITIONS", risk.MaxPositions)
	risk.MinCashPercent = p.getFloat("RISK_MIN_CASH_PERCENT", risk.MinCashPercent)
	risk.MaxLeverage = p.getFloat("RISK_MAX_LEVERAGE", risk.MaxLeverage)
	risk.DefaultStopLossPct = p.getFloat("RISK_DEFAULT_STOP_LOSS_PCT", risk.DefaultStopLossPct)
	risk.MaxSlippagePct = p.getFloat("RISK_MAX_SLIPPAGE_PCT", risk.MaxSlippagePct)

	params := strategy.DefaultConfig()
	params.Momentum.RSIBuyThreshold = p.getFloat("MOMENTUM_RSI_BUY", params.Momentum.RSIBuyThreshold)
	params.Momentum.RSISellThreshold = p.getFloat("MOMENTUM_RSI_SELL", params.Momentum.RSISellThreshold)
	params.Momentum.RequireMACDConfirm = p.getBool("MOMENTUM_MACD_CONFIRM", params.Momentum.RequireMACDConfirm)
	params.MeanReversion.RSIBuyThreshold = p.getFloat("MEAN_REVERSION_RSI_BUY", params.MeanReversion.RSIBuyThreshold)
	params.MeanReversion.RSISellThreshold = p.getFloat("MEAN_REVERSION_RSI_SELL", params.MeanReversion.RSISellThreshold)
	params.DCA.BaseAmount = p.getFloat("DCA_AMOUNT", params.DCA.BaseAmount)
	params.DCA.Interval = p.getDuration("DCA_INTERVAL", params.DCA.Interval)
	params.DCA.DipMultiplier = p.getFloat("DCA_DIP_MULTIPLIER", params.DCA.DipMultiplier)
	params.DCA.DipThreshold = p.getFloat("DCA_DIP_THRESHOLD", params.DCA.DipThreshold)
	params.Grid.Lower = p.getFloat("GRID_LOWER", params.Grid.Lower)
	params.Grid.Upper = p.getFloat("GRID_UPPER", params.Grid.Upper)
	params.Grid.Levels = p.getInt("GRID_LEVELS", params.Grid.Levels)
	params.Grid.SpacingPercent = p.getFloat("GRID_SPACING_PERCENT", params.Grid.SpacingPercent)
	params.Grid.TotalInvestment = p.getFloat("GRID_TOTAL_INVESTMENT", params.Grid.TotalInvestment)

	config := &Config{
		Mode:      strings.ToLower(getEnv("MODE", domain.ModePaper)),
		Pairs:     splitList(getEnv("TRADING_PAIRS", "BTCUSDT,ETHUSDT")),
		Timeframe: getEnv("TIMEFRAME", "1h"),
		Strategy:  strings.ToLower(getEnv("STRATEGY", "momentum")),
		Params:    params,
		DataDir:   getEnv("DATA_DIR", "data"),
		Schedule: ScheduleConfig{
			CycleInterval:    p.getDuration("CYCLE_INTERVAL", 60*time.Second),
			CooldownInterval: p.getDuration("COOLDOWN_INTERVAL", 60*time.Second),
			MaxTurns:         p.getInt("MAX_TURNS", 8),
			CallTimeout:      p.getDuration("CALL_TIMEOUT", 30*time.Second),
			MaxRetries:       p.getInt("MAX_RETRIES", 3),
			RetryBaseDelay:   p.getDuration("RETRY_BASE_DELAY", time.Second),
			SeriesLimit:      p.getInt("SERIES_LIMIT", 100),
			HistoryTurns:     p.getInt("HISTORY_TURNS", 20),
			NotifyTimeout:    p.getDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Risk: risk,
		AI: AIConfig{
			APIKey:      getEnv("AI_API_KEY", ""),
			BaseURL:     getEnv("AI_BASE_URL", "https://api.anthropic.com"),
			Model:       getEnv("AI_MODEL", "claude-sonnet-4-5-20250929"),
			MaxTokens:   p.getInt("AI_MAX_TOKENS", 4096),
			Timeout:     p.getDuration("AI_TIMEOUT", 60*time.Second),
			RatePerMin:  p.getInt("AI_RATE_PER_MIN", 30),
			PersonaPath: getEnv("PERSONA_PATH", "SOUL.md"),
		},
		Binance: BinanceConfig{
			APIKey:    getEnv("BINANCE_API_KEY", ""),
			APISecret: getEnv("BINANCE_API_SECRET", ""),
			Testnet:   p.getBool("BINANCE_TESTNET", false),
		},
		Paper: PaperConfig{
			StartingBalance: p.getFloat("PAPER_BALANCE", 10000),
		},
		Notify: NotifyConfig{
			TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:   p.getInt64("TELEGRAM_CHAT_ID", 0),
			WebhookURL:       getEnv("WEBHOOK_URL", ""),
			DiscordURL:       getEnv("DISCORD_WEBHOOK_URL", ""),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    p.getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    p.getInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: p.getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		APIPort:   p.getInt("API_PORT", 0),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет согласованность конфигурации. Ключи внешних
// сервисов проверяет ValidateRun: для verify/history/report они не нужны.
func (c *Config) Validate() error {
	if c.Mode != domain.ModePaper && c.Mode != domain.ModeLive {
		return fmt.Errorf("MODE must be %q or %q, got %q", domain.ModePaper, domain.ModeLive, c.Mode)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("TRADING_PAIRS is required")
	}
	if _, err := strategy.New(c.Strategy, c.Params); err != nil {
		return fmt.Errorf("invalid STRATEGY: %w", err)
	}
	if c.Schedule.MaxTurns < 1 {
		return fmt.Errorf("MAX_TURNS must be positive")
	}
	if c.Schedule.CycleInterval <= 0 || c.Schedule.CooldownInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL and COOLDOWN_INTERVAL must be positive")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be in [0,65535], got %d", c.APIPort)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("invalid risk config: %w", err)
	}
	return nil
}

// ValidateRun обязательные поля для запуска торгового цикла
func (c *Config) ValidateRun() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("AI_API_KEY is required")
	}
	if c.Mode == domain.ModeLive {
		if c.Binance.APIKey == "" {
			return fmt.Errorf("BINANCE_API_KEY is required in live mode")
		}
		if c.Binance.APISecret == "" {
			return fmt.Errorf("BINANCE_API_SECRET is required in live mode")
		}
	}
	if c.Notify.TelegramBotToken != "" && c.Notify.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser запоминает первую ошибку разбора
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) getInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

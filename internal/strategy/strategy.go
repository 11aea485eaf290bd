package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

// Strategy types
const (
	TypeMomentum      = "momentum"
	TypeMeanReversion = "mean_reversion"
	TypeDCA           = "dca"
	TypeGrid          = "grid"
)

// Signal рекомендация стратегии. Это подсказка для оракула, а не ордер.
type Signal struct {
	Strategy   string        `json:"strategy"`
	Action     domain.Action `json:"action"`
	Pair       string        `json:"pair"`
	Strength   float64       `json:"strength"`
	Reason     string        `json:"reason"`
	Amount     float64       `json:"amount_usdt,omitempty"`
	StopLoss   *float64      `json:"stop_loss,omitempty"`
	TakeProfit *float64      `json:"take_profit,omitempty"`
}

// Strategy единый контракт всех стратегий
type Strategy interface {
	Name() string
	Evaluate(a analysis.Analysis, p domain.PortfolioSnapshot) Signal
}

// FillObserver стратегии с состоянием получают только подтвержденные исполнения
type FillObserver interface {
	OnFill(pair string, side domain.Action, price, quantity float64, at time.Time)
}

// Config параметры всех стратегий
type Config struct {
	Momentum      MomentumConfig
	MeanReversion MeanReversionConfig
	DCA           DCAConfig
	Grid          GridConfig
}

// DefaultConfig параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Momentum:      MomentumConfig{RSIBuyThreshold: 40, RSISellThreshold: 70, RequireMACDConfirm: true},
		MeanReversion: MeanReversionConfig{RSIBuyThreshold: 35, RSISellThreshold: 65},
		DCA:           DCAConfig{BaseAmount: 100, Interval: 24 * time.Hour, DipMultiplier: 1.5, DipThreshold: -5},
		Grid:          GridConfig{Levels: 10, SpacingPercent: 1, TotalInvestment: 1000, Proximity: 0.001},
	}
}

// New создает стратегию по имени из конфигурации
func New(name string, cfg Config) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TypeMomentum:
		return NewMomentum(cfg.Momentum), nil
	case TypeMeanReversion, "meanreversion", "mean-reversion":
		return NewMeanReversion(cfg.MeanReversion), nil
	case TypeDCA:
		return NewDCA(cfg.DCA, nil), nil
	case TypeGrid:
		return NewGrid(cfg.Grid), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func hold(strategy, pair, format string, v ...any) Signal {
	return Signal{
		Strategy: strategy,
		Action:   domain.ActionHold,
		Pair:     pair,
		Reason:   fmt.Sprintf(format, v...),
	}
}

// priceRef nil для нулевой цены
func priceRef(price, factor float64) *float64 {
	if price <= 0 {
		return nil
	}
	return domain.Float(price * factor)
}

// Describe строка сигнала для контекста оракула
func (s Signal) Describe() string {
	line := fmt.Sprintf("%s: %s (strength %.2f) %s", s.Strategy, s.Action, s.Strength, s.Reason)
	if s.Amount > 0 {
		line += fmt.Sprintf(", suggested $%.2f", s.Amount)
	}
	if s.StopLoss != nil {
		line += fmt.Sprintf(", SL %.4f", *s.StopLoss)
	}
	if s.TakeProfit != nil {
		line += fmt.Sprintf(", TP %.4f", *s.TakeProfit)
	}
	return line
}

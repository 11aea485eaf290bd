package policy

import (
	"fmt"

	"github.com/kirillm/crystalbot/internal/domain"
)

// RiskConfig жесткие лимиты риск-менеджмента
type RiskConfig struct {
	ProfileName        string  `yaml:"profile_name"`
	MaxRiskPerTrade    float64 `yaml:"max_risk_per_trade"`    // доля портфеля на сделку
	MaxPositions       int     `yaml:"max_positions"`         // одновременно открытых позиций
	MinCashPercent     float64 `yaml:"min_cash_percent"`      // минимум стейблкоинов, %
	MaxLeverage        float64 `yaml:"max_leverage"`          // только 1x для спота
	DefaultStopLossPct float64 `yaml:"default_stop_loss_pct"` // доля от цены входа
	MaxSlippagePct     float64 `yaml:"max_slippage_pct"`      // 0 отключает проверку
}

// DefaultRiskConfig лимиты по умолчанию
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ProfileName:        "default",
		MaxRiskPerTrade:    0.02,
		MaxPositions:       5,
		MinCashPercent:     30.0,
		MaxLeverage:        1,
		DefaultStopLossPct: 0.03,
		MaxSlippagePct:     1.0,
	}
}

// Validate проверяет согласованность лимитов
func (c RiskConfig) Validate() error {
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 1 {
		return fmt.Errorf("max_risk_per_trade must be in (0,1], got %v", c.MaxRiskPerTrade)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions)
	}
	if c.MinCashPercent < 0 || c.MinCashPercent >= 100 {
		return fmt.Errorf("min_cash_percent must be in [0,100), got %v", c.MinCashPercent)
	}
	if c.DefaultStopLossPct <= 0 || c.DefaultStopLossPct >= 1 {
		return fmt.Errorf("default_stop_loss_pct must be in (0,1), got %v", c.DefaultStopLossPct)
	}
	if c.MaxSlippagePct < 0 {
		return fmt.Errorf("max_slippage_pct must not be negative, got %v", c.MaxSlippagePct)
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be at least 1, got %v", c.MaxLeverage)
	}
	return nil
}

// TradeRequest предложение сделки для риск-гейта.
// Amount всегда в валюте котировки (USDT).
type TradeRequest struct {
	Action         domain.Action
	Pair           string
	Amount         float64
	EntryPrice     float64
	PortfolioValue float64
	OpenPositions  int
}

package policy

import (
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kirillm/crystalbot/internal/domain"
)

const approvedReason = "Trade approved within risk parameters"

// Evaluate детерминированная проверка предложения. Правила применяются строго
// по порядку, первое нарушенное правило отклоняет сделку:
//  1. лимит открытых позиций
//  2. размер позиции из риска на сделку и стоп-лосса
//  3. минимальный остаток кэша
//  4. итоговая сумма = min(запрошено, лимит по риску, лимит по кэшу)
//  5. стоп-лосс от цены входа
func Evaluate(req TradeRequest, cfg RiskConfig) domain.RiskVerdict {
	if req.Action == domain.ActionHold {
		return domain.RiskVerdict{Approved: true, Reason: "hold requires no risk check"}
	}
	if !req.Action.Valid() {
		return reject("unknown action %q", req.Action)
	}
	if !finite(req.Amount) || !finite(req.EntryPrice) || !finite(req.PortfolioValue) {
		return reject("non-finite input: amount=%v entry=%v portfolio=%v", req.Amount, req.EntryPrice, req.PortfolioValue)
	}
	if req.Amount <= 0 {
		return reject("requested amount must be positive, got %.8f", req.Amount)
	}
	if req.PortfolioValue <= 0 {
		return reject("portfolio value must be positive, got %.8f", req.PortfolioValue)
	}

	// 1. Max positions
	if req.OpenPositions >= cfg.MaxPositions {
		return reject("Max positions (%d) reached", cfg.MaxPositions)
	}

	pv := decimal.NewFromFloat(req.PortfolioValue)
	amount := decimal.NewFromFloat(req.Amount)
	stopPct := decimal.NewFromFloat(cfg.DefaultStopLossPct)

	// 2. Max risk per trade
	maxRiskAmount := pv.Mul(decimal.NewFromFloat(cfg.MaxRiskPerTrade))
	maxPositionBySize := maxRiskAmount.Div(stopPct)

	// 3. Min cash
	minCashAdjusted := amount
	minCash := pv.Mul(decimal.NewFromFloat(cfg.MinCashPercent)).Div(decimal.NewFromInt(100))
	if pv.Sub(amount).LessThan(minCash) {
		minCashAdjusted = pv.Sub(minCash)
		if !minCashAdjusted.IsPositive() {
			return reject("Would violate min cash rule (%s%%)", decimal.NewFromFloat(cfg.MinCashPercent).String())
		}
	}

	// 4. Final size
	approved := decimal.Min(amount, maxPositionBySize, minCashAdjusted)

	// 5. Stop-loss
	entry := decimal.NewFromFloat(req.EntryPrice)
	stopLoss, _ := entry.Mul(decimal.NewFromInt(1).Sub(stopPct)).Float64()

	approvedFloat, _ := approved.Float64()
	reason := approvedReason
	if approved.LessThan(amount) {
		reason = fmt.Sprintf("%s (resized %.2f -> %.2f)", approvedReason, req.Amount, approvedFloat)
	}

	return domain.RiskVerdict{
		Approved:       true,
		AdjustedAmount: approvedFloat,
		StopLossPrice:  domain.Float(stopLoss),
		Reason:         reason,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func reject(format string, v ...any) domain.RiskVerdict {
	return domain.RiskVerdict{Approved: false, Reason: fmt.Sprintf(format, v...)}
}

// LoadProfile загружает профиль риска из YAML (секция risk_profiles)
func LoadProfile(path, profileName string) (RiskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RiskConfig{}, err
	}

	var config struct {
		RiskProfiles map[string]RiskConfig `yaml:"risk_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return RiskConfig{}, err
	}

	// По умолчанию используем moderate
	if profileName == "" {
		profileName = "moderate"
	}

	profile, ok := config.RiskProfiles[profileName]
	if !ok {
		return RiskConfig{}, fmt.Errorf("risk profile %s not found", profileName)
	}

	profile.ProfileName = profileName
	if err := profile.Validate(); err != nil {
		return RiskConfig{}, fmt.Errorf("risk profile %s: %w", profileName, err)
	}
	return profile, nil
}

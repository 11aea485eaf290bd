package strategy

import (
	"fmt"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

type MeanReversionConfig struct {
	RSIBuyThreshold  float64
	RSISellThreshold float64
}

// MeanReversion торгует возврат к средней полосе Боллинджера
type MeanReversion struct {
	cfg MeanReversionConfig
}

func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	return &MeanReversion{cfg: cfg}
}

func (m *MeanReversion) Name() string { return TypeMeanReversion }

func (m *MeanReversion) Evaluate(a analysis.Analysis, _ domain.PortfolioSnapshot) Signal {
	price := a.CurrentPrice

	if a.BBPosition == analysis.BBBelowLower && a.RSI < m.cfg.RSIBuyThreshold {
		tp := priceRef(price, 1.03)
		if a.BBMiddle > 0 {
			tp = domain.Float(a.BBMiddle)
		}
		return Signal{
			Strategy:   TypeMeanReversion,
			Action:     domain.ActionBuy,
			Pair:       a.Pair,
			Strength:   0.8,
			Reason:     fmt.Sprintf("Mean reversion buy: price %s, RSI=%.2f oversold", a.BBPosition, a.RSI),
			StopLoss:   priceRef(price, 0.96),
			TakeProfit: tp,
		}
	}

	if a.BBPosition == analysis.BBAboveUpper && a.RSI > m.cfg.RSISellThreshold {
		return Signal{
			Strategy: TypeMeanReversion,
			Action:   domain.ActionSell,
			Pair:     a.Pair,
			Strength: 0.8,
			Reason:   fmt.Sprintf("Mean reversion sell: price %s, RSI=%.2f overbought", a.BBPosition, a.RSI),
		}
	}

	return hold(TypeMeanReversion, a.Pair, "No mean reversion signal: BB=%s, RSI=%.2f", a.BBPosition, a.RSI)
}

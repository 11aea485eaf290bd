package strategy

import (
	"fmt"
	"math"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

type MomentumConfig struct {
	RSIBuyThreshold    float64
	RSISellThreshold   float64
	RequireMACDConfirm bool
}

// Momentum покупает на восстановлении RSI при бычьем MACD, продает на перекупленности
type Momentum struct {
	cfg MomentumConfig
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg}
}

func (m *Momentum) Name() string { return TypeMomentum }

func (m *Momentum) Evaluate(a analysis.Analysis, _ domain.PortfolioSnapshot) Signal {
	price := a.CurrentPrice

	if a.RSI < m.cfg.RSIBuyThreshold && (a.Bullish() || !m.cfg.RequireMACDConfirm) {
		strength := math.Min((m.cfg.RSIBuyThreshold-a.RSI)/30, 1)
		if a.HighVolume() {
			strength = math.Min(strength+0.2, 1)
		}
		return Signal{
			Strategy:   TypeMomentum,
			Action:     domain.ActionBuy,
			Pair:       a.Pair,
			Strength:   strength,
			Reason:     fmt.Sprintf("Momentum buy: RSI=%.2f recovering, MACD %s, volume %s", a.RSI, a.MACDSignal, a.VolumeTrend),
			StopLoss:   priceRef(price, 0.97),
			TakeProfit: priceRef(price, 1.06),
		}
	}

	if a.RSI > m.cfg.RSISellThreshold && (a.Bearish() || !m.cfg.RequireMACDConfirm) {
		return Signal{
			Strategy: TypeMomentum,
			Action:   domain.ActionSell,
			Pair:     a.Pair,
			Strength: math.Min((a.RSI-m.cfg.RSISellThreshold)/30, 1),
			Reason:   fmt.Sprintf("Momentum sell: RSI=%.2f overbought, MACD %s", a.RSI, a.MACDSignal),
		}
	}

	return hold(TypeMomentum, a.Pair, "No momentum signal: RSI=%.2f, MACD=%s", a.RSI, a.MACDSignal)
}

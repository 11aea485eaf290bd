package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

type DCAConfig struct {
	BaseAmount    float64
	Interval      time.Duration
	DipMultiplier float64
	DipThreshold  float64 // % изменения за 24ч, ниже которого сумма увеличивается
}

// DCA регулярные покупки с увеличением суммы на просадках.
// Таймер сбрасывается только подтвержденной покупкой, а не сигналом.
type DCA struct {
	cfg     DCAConfig
	mu      sync.Mutex
	lastBuy map[string]time.Time
	nowFn   func() time.Time
}

func NewDCA(cfg DCAConfig, nowFn func() time.Time) *DCA {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DCA{
		cfg:     cfg,
		lastBuy: make(map[string]time.Time),
		nowFn:   nowFn,
	}
}

func (d *DCA) Name() string { return TypeDCA }

func (d *DCA) Evaluate(a analysis.Analysis, _ domain.PortfolioSnapshot) Signal {
	now := d.nowFn()

	d.mu.Lock()
	last, bought := d.lastBuy[a.Pair]
	d.mu.Unlock()

	if bought {
		if elapsed := now.Sub(last); elapsed < d.cfg.Interval {
			left := d.cfg.Interval - elapsed
			return hold(TypeDCA, a.Pair, "DCA: next buy in %.1f hours", left.Hours())
		}
	}

	amount := d.cfg.BaseAmount
	var reason string
	if a.Change24h < d.cfg.DipThreshold {
		amount *= d.cfg.DipMultiplier
		reason = fmt.Sprintf("DCA buy (dip mode): %.2f%% 24h change, amount $%.2f", a.Change24h, amount)
	} else {
		reason = fmt.Sprintf("DCA buy (regular): scheduled interval reached, amount $%.2f", amount)
	}

	return Signal{
		Strategy: TypeDCA,
		Action:   domain.ActionBuy,
		Pair:     a.Pair,
		Strength: 0.6,
		Reason:   reason,
		Amount:   amount,
		StopLoss: priceRef(a.CurrentPrice, 0.95),
	}
}

// OnFill фиксирует время подтвержденной покупки
func (d *DCA) OnFill(pair string, side domain.Action, _, quantity float64, at time.Time) {
	if side != domain.ActionBuy || quantity <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBuy[pair] = at
}

package agent

import (
	"fmt"
	"strings"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/strategy"
)

// MarketContext наблюдения цикла, из которых строится первое сообщение
type MarketContext struct {
	Analyses  []analysis.Analysis
	Signals   []strategy.Signal
	Portfolio *domain.PortfolioSnapshot
}

// raw анализ по парам для RawAnalysis решения
func (mc MarketContext) raw() map[string]any {
	if len(mc.Analyses) == 0 {
		return nil
	}
	out := make(map[string]any, len(mc.Analyses))
	for _, a := range mc.Analyses {
		out[a.Pair] = a
	}
	return out
}

// BuildMarketUpdate текст пользовательского сообщения цикла
func BuildMarketUpdate(mc MarketContext) string {
	var b strings.Builder
	b.WriteString("## Market Update\n\n")

	for _, a := range mc.Analyses {
		b.WriteString(a.Summary())
		b.WriteString("\n")
	}

	if len(mc.Signals) > 0 {
		b.WriteString("## Strategy Signals\n")
		for _, s := range mc.Signals {
			fmt.Fprintf(&b, "- %s %s\n", s.Pair, s.Describe())
		}
		b.WriteString("\n")
	}

	if p := mc.Portfolio; p != nil {
		b.WriteString("## Portfolio\n")
		fmt.Fprintf(&b, "Total value: $%.2f\n", p.TotalValue)
		fmt.Fprintf(&b, "Cash: $%.2f\n", p.CashValue)
		fmt.Fprintf(&b, "Open positions: %d\n\n", p.OpenPositions)
	}

	b.WriteString("Based on this data, analyze the market and decide your action. ")
	b.WriteString("Use the available tools to execute trades or gather more information. ")
	b.WriteString("ALWAYS explain your reasoning in detail.\n")
	return b.String()
}

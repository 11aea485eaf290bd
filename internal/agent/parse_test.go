package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/strategy"
)

func TestTerminalDecision(t *testing.T) {
	proposal := &domain.Decision{Action: domain.ActionSell, Pair: "ETHUSDT", Amount: 0.5, Confidence: 0.5, Reasoning: "proposed"}
	buyProposal := &domain.Decision{Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 300, Confidence: 0.5, Reasoning: "proposed"}

	tests := []struct {
		name        string
		text        string
		proposal    *domain.Decision
		wantAction  domain.Action
		wantPair    string
		wantAmount  float64
		wantConf    float64
		wantOutcome domain.Outcome
	}{
		{
			name:        "bare json object",
			text:        `Selling into strength. {"action":"SELL","pair":"ETHUSDT","amount":1.5,"confidence":0.7}`,
			wantAction:  domain.ActionSell,
			wantPair:    "ETHUSDT",
			wantAmount:  1.5,
			wantConf:    0.7,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "hold json",
			text:        `Nothing compelling. {"action":"HOLD","confidence":0.9}`,
			wantAction:  domain.ActionHold,
			wantConf:    0.9,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "plain text without proposal",
			text:        "Market is choppy, staying out.",
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "plain text with proposal",
			text:        "Taking profit as planned.",
			proposal:    proposal,
			wantAction:  domain.ActionSell,
			wantPair:    "ETHUSDT",
			wantAmount:  0.5,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "broken json",
			text:        `Decision: {"action": BUY, "pair": "BTCUSDT"}`,
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeMalformed,
		},
		{
			name:        "broken json with proposal stays on hold",
			text:        `{"action": "HOLD", "reason": cancel}`,
			proposal:    buyProposal,
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeMalformed,
		},
		{
			name:        "incomplete opposite action ignores proposal",
			text:        `{"action":"SELL","confidence":0.9}`,
			proposal:    buyProposal,
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeMalformed,
		},
		{
			name:        "unknown action",
			text:        `{"action":"SHORT","pair":"BTCUSDT","amount":10}`,
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeMalformed,
		},
		{
			name:        "trade without amount falls back to proposal",
			text:        `{"action":"SELL","confidence":0.6}`,
			proposal:    proposal,
			wantAction:  domain.ActionSell,
			wantPair:    "ETHUSDT",
			wantAmount:  0.5,
			wantConf:    0.6,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "trade without pair and no proposal",
			text:        `{"action":"BUY","amount":100}`,
			wantAction:  domain.ActionHold,
			wantConf:    0.5,
			wantOutcome: domain.OutcomeMalformed,
		},
		{
			name:        "confidence is clamped",
			text:        `{"action":"BUY","pair":"BTCUSDT","amount":100,"confidence":7}`,
			wantAction:  domain.ActionBuy,
			wantPair:    "BTCUSDT",
			wantAmount:  100,
			wantConf:    1,
			wantOutcome: domain.OutcomeOK,
		},
		{
			name:        "last object wins",
			text:        `Example: {"action":"HOLD"} Final: {"action":"BUY","pair":"SOLUSDT","amount":50,"confidence":0.55}`,
			wantAction:  domain.ActionBuy,
			wantPair:    "SOLUSDT",
			wantAmount:  50,
			wantConf:    0.55,
			wantOutcome: domain.OutcomeOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := terminalDecision(tt.text, tt.proposal)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantPair, d.Pair)
			assert.Equal(t, tt.wantAmount, d.Amount)
			assert.Equal(t, tt.wantConf, d.Confidence)
			assert.Equal(t, tt.wantOutcome, d.Outcome)
			assert.NotEmpty(t, d.Reasoning)
		})
	}
}

func TestJSONObjects_IgnoresBracesInStrings(t *testing.T) {
	objs := jsonObjects(`note {"reasoning":"support at {low}","action":"HOLD"} tail } {"a":1}`)

	require.Len(t, objs, 2)
	assert.Equal(t, `{"reasoning":"support at {low}","action":"HOLD"}`, objs[0])
	assert.Equal(t, `{"a":1}`, objs[1])
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"action":"HOLD"}`, extractJSON("text\n```json\n{\"action\":\"HOLD\"}\n```\nmore"))
	assert.Equal(t, `{"x":1}`, extractJSON("```\n{\"x\":1}\n```"))
	assert.Empty(t, extractJSON("no fence"))
	assert.Empty(t, extractJSON("```json\n{unterminated"))
}

func TestBuildMarketUpdate(t *testing.T) {
	msg := BuildMarketUpdate(MarketContext{
		Analyses: []analysis.Analysis{
			{Pair: "BTCUSDT", CurrentPrice: 50000, RSI: 28.5, MACDSignal: "bullish", BBPosition: analysis.BBBelowLower, VolumeTrend: analysis.VolumeAboveAverage, Change24h: -3.2},
		},
		Signals: []strategy.Signal{
			{Strategy: strategy.TypeMomentum, Action: domain.ActionBuy, Pair: "BTCUSDT", Strength: 0.7, Reason: "oversold"},
		},
		Portfolio: &domain.PortfolioSnapshot{TotalValue: 10000, CashValue: 7000, OpenPositions: 2},
	})

	assert.Contains(t, msg, "## Market Update\n\n### BTCUSDT\nPrice: $50000.00\nRSI(14): 28.50\n")
	assert.Contains(t, msg, "24h Change: -3.20%")
	assert.Contains(t, msg, "- BTCUSDT momentum: BUY (strength 0.70) oversold")
	assert.Contains(t, msg, "Open positions: 2")
	assert.Contains(t, msg, "ALWAYS explain your reasoning in detail.\n")
}

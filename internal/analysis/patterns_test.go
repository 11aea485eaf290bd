package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kirillm/crystalbot/internal/domain"
)

func candle(open, high, low, close float64) domain.Bar {
	return domain.Bar{Open: open, High: high, Low: low, Close: close, Volume: 100}
}

func names(patterns []Pattern) []string {
	var out []string
	for _, p := range patterns {
		out = append(out, p.Name)
	}
	return out
}

func TestPatterns(t *testing.T) {
	filler := candle(100, 101, 99, 100)

	tests := []struct {
		name string
		bars []domain.Bar
		want []string
	}{
		{
			name: "too few bars",
			bars: []domain.Bar{filler, candle(100, 105, 95, 100.1)},
		},
		{
			name: "doji",
			bars: []domain.Bar{filler, candle(99, 100.5, 98.5, 100), candle(100, 105, 95, 100.5)},
			want: []string{PatternDoji},
		},
		{
			name: "hammer",
			bars: []domain.Bar{filler, candle(98, 100.5, 97.5, 100), candle(100, 102.5, 94, 102)},
			want: []string{PatternHammer},
		},
		{
			name: "dragonfly is doji and hammer",
			bars: []domain.Bar{filler, candle(99, 100.5, 98.5, 100), candle(100, 100.25, 95, 100.2)},
			want: []string{PatternDoji, PatternHammer},
		},
		{
			name: "bullish engulfing",
			bars: []domain.Bar{filler, candle(105, 105.5, 99.5, 100), candle(99, 107, 98.5, 106)},
			want: []string{PatternBullishEngulfing},
		},
		{
			name: "bearish engulfing",
			bars: []domain.Bar{filler, candle(100, 105.5, 99.5, 105), candle(106, 106.5, 98.5, 99)},
			want: []string{PatternBearishEngulfing},
		},
		{
			name: "flat candle",
			bars: []domain.Bar{filler, filler, candle(100, 100, 100, 100)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Patterns(tt.bars)))
		})
	}
}

func TestAnalysis_SummaryListsPatterns(t *testing.T) {
	a := Analysis{Pair: "ETHUSDT", CurrentPrice: 2000, Patterns: []Pattern{
		{Name: PatternDoji, Signal: "indecision", Confidence: 0.7},
		{Name: PatternHammer, Signal: "bullish_reversal", Confidence: 0.65},
	}}

	assert.Contains(t, a.Summary(), "Patterns: doji (indecision), hammer (bullish_reversal)\n")
	assert.NotContains(t, Analysis{Pair: "ETHUSDT"}.Summary(), "Patterns:")
}

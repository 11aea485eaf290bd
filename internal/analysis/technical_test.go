package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/domain"
)

func series(n int, price func(i int) float64, volume func(i int) float64) []domain.Bar {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		p := price(i)
		bars[i] = domain.Bar{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     p,
			High:     p * 1.01,
			Low:      p * 0.99,
			Close:    p,
			Volume:   volume(i),
		}
	}
	return bars
}

func flatVolume(int) float64 { return 100 }

func TestAnalyze_InsufficientData(t *testing.T) {
	_, err := Analyze("BTCUSDT", "1h", series(10, func(i int) float64 { return 100 }, flatVolume))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyze_Uptrend(t *testing.T) {
	bars := series(60, func(i int) float64 { return 100 + 0.05*float64(i*i) }, func(i int) float64 {
		if i == 59 {
			return 500
		}
		return 100
	})

	a, err := Analyze("BTCUSDT", "1h", bars)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", a.Pair)
	assert.InDelta(t, 100+0.05*59*59, a.CurrentPrice, 1e-9)
	assert.Greater(t, a.RSI, 70.0)
	assert.Equal(t, "overbought", a.RSISignal)
	assert.True(t, a.Bullish())
	assert.True(t, a.HighVolume())
	assert.Greater(t, a.Change24h, 0.0)
	require.NotNil(t, a.EMA50)
	assert.Greater(t, a.EMA20, *a.EMA50)
	assert.Greater(t, a.ATR, 0.0)
}

func TestAnalyze_Downtrend(t *testing.T) {
	bars := series(40, func(i int) float64 { return 1000 - 0.2*float64(i*i) }, flatVolume)

	a, err := Analyze("ETHUSDT", "1h", bars)
	require.NoError(t, err)

	assert.Less(t, a.RSI, 30.0)
	assert.Equal(t, "oversold", a.RSISignal)
	assert.True(t, a.Bearish())
	assert.False(t, a.HighVolume())
	assert.Nil(t, a.EMA50)
	assert.Less(t, a.Change24h, 0.0)
}

func TestAnalyze_Change24hLookback(t *testing.T) {
	bars := series(60, func(i int) float64 { return 100 + float64(i) }, flatVolume)

	a, err := Analyze("BTCUSDT", "1h", bars)
	require.NoError(t, err)

	// 159 против 135 двадцать четыре свечи назад
	assert.InDelta(t, 17.78, a.Change24h, 1e-9)
}

func TestBBPosition(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		want  string
	}{
		{"above", 111, BBAboveUpper},
		{"below", 89, BBBelowLower},
		{"quarter", 95, "middle (25%)"},
		{"center", 100, "middle (50%)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bbPosition(tt.price, 110, 90))
		})
	}
}

func TestAnalysis_Summary(t *testing.T) {
	a := Analysis{Pair: "BTCUSDT", CurrentPrice: 65000.5, RSI: 42.1, MACDSignal: "bullish", BBPosition: "middle (40%)", VolumeTrend: VolumeBelowAverage, Change24h: -1.25}

	s := a.Summary()

	assert.Contains(t, s, "### BTCUSDT")
	assert.Contains(t, s, "Price: $65000.50")
	assert.Contains(t, s, "RSI(14): 42.10")
	assert.Contains(t, s, "24h Change: -1.25%")
}

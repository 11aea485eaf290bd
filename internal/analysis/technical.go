package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"

	"github.com/kirillm/crystalbot/internal/domain"
)

// MinBars минимум свечей для расчета всех индикаторов (MACD 26+9)
const MinBars = 35

var ErrInsufficientData = errors.New("insufficient bars for analysis")

// Bollinger positions
const (
	BBAboveUpper = "above_upper"
	BBBelowLower = "below_lower"
)

// Volume trends
const (
	VolumeAboveAverage = "above_average"
	VolumeBelowAverage = "below_average"
)

// Analysis снимок технических индикаторов по паре
type Analysis struct {
	Pair          string    `json:"symbol"`
	Timeframe     string    `json:"timeframe"`
	CurrentPrice  float64   `json:"current_price"`
	RSI           float64   `json:"rsi"`
	RSISignal     string    `json:"rsi_signal"`
	MACD          float64   `json:"macd"`
	MACDSignal    string    `json:"macd_signal"`
	MACDLine      float64   `json:"macd_signal_line"`
	MACDHistogram float64   `json:"macd_histogram"`
	BBUpper       float64   `json:"bb_upper"`
	BBLower       float64   `json:"bb_lower"`
	BBMiddle      float64   `json:"bb_middle"`
	BBPosition    string    `json:"bb_position"`
	VolumeTrend   string    `json:"volume_trend"`
	Change24h     float64   `json:"change_24h"`
	EMA20         float64   `json:"ema_20"`
	EMA50         *float64  `json:"ema_50,omitempty"`
	ATR           float64   `json:"atr"`
	StochK        float64   `json:"stoch_k"`
	StochD        float64   `json:"stoch_d"`
	Patterns      []Pattern `json:"patterns,omitempty"`
}

// Bullish MACD выше сигнальной линии
func (a Analysis) Bullish() bool { return a.MACDSignal == "bullish" }

// Bearish MACD ниже сигнальной линии
func (a Analysis) Bearish() bool { return a.MACDSignal == "bearish" }

// HighVolume объем выше 20-периодной средней
func (a Analysis) HighVolume() bool { return a.VolumeTrend == VolumeAboveAverage }

// Analyze рассчитывает индикаторы по последней свече ряда
func Analyze(pair, timeframe string, bars []domain.Bar) (Analysis, error) {
	if len(bars) < MinBars {
		return Analysis{}, fmt.Errorf("%s: got %d bars, need %d: %w", pair, len(bars), MinBars, ErrInsufficientData)
	}

	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	price := closes[n-1]
	a := Analysis{Pair: pair, Timeframe: timeframe, CurrentPrice: price}

	// RSI
	a.RSI = round(last(talib.Rsi(closes, 14)), 2)
	switch {
	case a.RSI < 30:
		a.RSISignal = "oversold"
	case a.RSI > 70:
		a.RSISignal = "overbought"
	default:
		a.RSISignal = "neutral"
	}

	// MACD
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	a.MACD = round(last(macd), 4)
	a.MACDLine = round(last(signal), 4)
	a.MACDHistogram = round(last(hist), 4)
	if a.MACD > a.MACDLine {
		a.MACDSignal = "bullish"
	} else {
		a.MACDSignal = "bearish"
	}

	// Bollinger Bands
	upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	a.BBUpper = round(last(upper), 2)
	a.BBMiddle = round(last(middle), 2)
	a.BBLower = round(last(lower), 2)
	a.BBPosition = bbPosition(price, a.BBUpper, a.BBLower)

	// Volume trend
	volSMA := last(talib.Sma(volumes, 20))
	if volumes[n-1] > volSMA {
		a.VolumeTrend = VolumeAboveAverage
	} else {
		a.VolumeTrend = VolumeBelowAverage
	}

	// 24h change, 24 свечи назад для часового таймфрейма
	lookback := 24
	if n-1 < lookback {
		lookback = n - 1
	}
	if ref := closes[n-1-lookback]; ref != 0 {
		a.Change24h = round((price-ref)/ref*100, 2)
	}

	a.EMA20 = round(last(talib.Ema(closes, 20)), 2)
	if n >= 50 {
		a.EMA50 = domain.Float(round(last(talib.Ema(closes, 50)), 2))
	}

	a.ATR = round(last(talib.Atr(highs, lows, closes, 14)), 2)

	k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
	a.StochK = round(last(k), 2)
	a.StochD = round(last(d), 2)

	a.Patterns = Patterns(bars)

	return a, nil
}

func bbPosition(price, upper, lower float64) string {
	switch {
	case price > upper:
		return BBAboveUpper
	case price < lower:
		return BBBelowLower
	case upper == lower:
		return "middle (50%)"
	default:
		pct := (price - lower) / (upper - lower)
		return fmt.Sprintf("middle (%d%%)", int(math.Round(pct*100)))
	}
}

// Summary строка для контекста оракула
func (a Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", a.Pair)
	fmt.Fprintf(&b, "Price: $%s\n", formatPrice(a.CurrentPrice))
	fmt.Fprintf(&b, "RSI(14): %.2f\n", a.RSI)
	fmt.Fprintf(&b, "MACD Signal: %s\n", a.MACDSignal)
	fmt.Fprintf(&b, "Bollinger: %s\n", a.BBPosition)
	fmt.Fprintf(&b, "Volume trend: %s\n", a.VolumeTrend)
	fmt.Fprintf(&b, "24h Change: %.2f%%\n", a.Change24h)
	if len(a.Patterns) > 0 {
		fmt.Fprintf(&b, "Patterns: %s\n", formatPatterns(a.Patterns))
	}
	return b.String()
}

func formatPrice(p float64) string {
	if p >= 1 {
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%.8f", p)
}

func last(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

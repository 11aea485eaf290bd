package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/kirillm/crystalbot/internal/domain"
)

// Candlestick patterns
const (
	PatternDoji             = "doji"
	PatternHammer           = "hammer"
	PatternBullishEngulfing = "bullish_engulfing"
	PatternBearishEngulfing = "bearish_engulfing"
)

// minPatternBars меньше трех свечей паттерны не ищутся
const minPatternBars = 3

// Pattern свечной паттерн на последней свече
type Pattern struct {
	Name       string  `json:"pattern"`
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
}

// Patterns ищет doji, hammer и поглощения на последней свече ряда
func Patterns(bars []domain.Bar) []Pattern {
	if len(bars) < minPatternBars {
		return nil
	}

	var out []Pattern
	cur := bars[len(bars)-1]
	prev := bars[len(bars)-2]

	body := math.Abs(cur.Close - cur.Open)
	wick := cur.High - cur.Low

	if wick > 0 && body/wick < 0.1 {
		out = append(out, Pattern{Name: PatternDoji, Signal: "indecision", Confidence: 0.7})
	}

	if wick > 0 {
		lowerWick := min(cur.Open, cur.Close) - cur.Low
		upperWick := cur.High - max(cur.Open, cur.Close)
		if lowerWick > body*2 && upperWick < body*0.5 {
			out = append(out, Pattern{Name: PatternHammer, Signal: "bullish_reversal", Confidence: 0.65})
		}
	}

	switch {
	case cur.Close > cur.Open && prev.Close < prev.Open &&
		cur.Open <= prev.Close && cur.Close >= prev.Open:
		out = append(out, Pattern{Name: PatternBullishEngulfing, Signal: "bullish_reversal", Confidence: 0.75})
	case cur.Close < cur.Open && prev.Close > prev.Open &&
		cur.Open >= prev.Close && cur.Close <= prev.Open:
		out = append(out, Pattern{Name: PatternBearishEngulfing, Signal: "bearish_reversal", Confidence: 0.75})
	}

	return out
}

func formatPatterns(patterns []Pattern) string {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = fmt.Sprintf("%s (%s)", p.Name, p.Signal)
	}
	return strings.Join(parts, ", ")
}

package report

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/domain"
)

func clockAt(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func seedChain(t *testing.T) (*audit.Chain, []string) {
	t.Helper()
	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

	chain, err := audit.Open(t.TempDir(), audit.WithClock(clockAt(day1, day1.Add(time.Hour), day2)))
	require.NoError(t, err)

	ctx := context.Background()
	var hashes []string
	for _, d := range []domain.Decision{
		{Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 100, Reasoning: "breakout above resistance", Confidence: 0.8},
		domain.Hold("no edge", 0.5, domain.OutcomeOK),
		{Action: domain.ActionSell, Pair: "ETHUSDT", Amount: 0.25, Reasoning: "overbought", Confidence: 0.65},
	} {
		h, err := chain.Append(ctx, d)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return chain, hashes
}

func TestGenerator_Daily(t *testing.T) {
	chain, _ := seedChain(t)
	g := NewGenerator(chain)

	got, err := g.Daily("2025-03-01")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "# Trading Report - 2025-03-01\n\n"))
	assert.Contains(t, got, "**Total decisions:** 2")
	assert.Contains(t, got, "**Trade decisions:** 1")
	assert.NotContains(t, got, "Trades executed")
	assert.Contains(t, got, "**Hold decisions:** 1")
	assert.Contains(t, got, "### BUY BTCUSDT")
	assert.Contains(t, got, "- **Amount:** 100\n")
	assert.Contains(t, got, "- **Confidence:** 0.8\n")
	assert.NotContains(t, got, "ETHUSDT")
	assert.Contains(t, got, "**Audit chain integrity:** VALID")
}

func TestGenerator_DailyEmptyAndDefaultDate(t *testing.T) {
	chain, _ := seedChain(t)
	g := NewGenerator(chain)
	g.nowFn = func() time.Time { return time.Date(2025, 3, 2, 23, 0, 0, 0, time.UTC) }

	got, err := g.Daily("")
	require.NoError(t, err)
	assert.Contains(t, got, "### SELL ETHUSDT")
	assert.Contains(t, got, "- **Amount:** 0.25\n")

	got, err = g.Daily("2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, "# Trading Report - 2024-01-01\n\nNo trades today.", got)

	_, err = g.Daily("yesterday")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGenerator_DailyBrokenChain(t *testing.T) {
	chain, _ := seedChain(t)

	data, err := os.ReadFile(chain.Path())
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"amount":100`, `"amount":1000`, 1)
	require.NoError(t, os.WriteFile(chain.Path(), []byte(tampered), 0o644))

	got, err := NewGenerator(chain).Daily("2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, got, "**Audit chain integrity:** BROKEN")
}

func TestGenerator_Trade(t *testing.T) {
	chain, hashes := seedChain(t)
	g := NewGenerator(chain)

	got, err := g.Trade(hashes[2])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "# Trade Report\n\n"))
	assert.Contains(t, got, "- **Hash:** "+hashes[2])
	assert.Contains(t, got, "- **Action:** SELL")
	assert.Contains(t, got, "- **Pair:** ETHUSDT")
	assert.Contains(t, got, "## Reasoning\n\noverbought\n")

	got, err = g.Trade("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "Trade with hash deadbeef not found.", got)
}

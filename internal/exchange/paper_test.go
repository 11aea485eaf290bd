package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

type fakeMarket struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *fakeMarket) set(pair string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[pair] = price
}

func (f *fakeMarket) GetSeries(_ context.Context, pair, _ string, _ int) ([]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	price, ok := f.prices[pair]
	if !ok {
		return nil, nil
	}
	return []domain.Bar{{Close: price}}, nil
}

func newPaper(t *testing.T) (*PaperExchange, *fakeMarket) {
	t.Helper()
	market := &fakeMarket{prices: map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 2000}}
	return NewPaperExchange(market, 10000, utils.NewLogger("error")), market
}

func TestPaper_BuyAndSell(t *testing.T) {
	p, _ := newPaper(t)
	ctx := context.Background()

	res := p.Buy(ctx, "BTCUSDT", 1000, domain.OrderTypeMarket, nil)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, domain.ActionBuy, res.Side)
	assert.InDelta(t, 0.01998, res.ExecutedQty, 1e-9)
	assert.Equal(t, 50000.0, res.Price)
	assert.NotEmpty(t, res.OrderID)
	assert.InDelta(t, 9000, p.Balance("USDT"), 1e-9)

	res = p.Sell(ctx, "BTCUSDT", 0.01, domain.OrderTypeMarket, nil)
	require.True(t, res.OK(), res.Message)
	assert.InDelta(t, 9000+0.01*50000*0.999, p.Balance("USDT"), 1e-6)
	assert.InDelta(t, 0.00998, p.Balance("BTC"), 1e-9)
}

func TestPaper_Rejections(t *testing.T) {
	p, market := newPaper(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() domain.ExecutionResult
		want string
	}{
		{"zero amount", func() domain.ExecutionResult { return p.Buy(ctx, "BTCUSDT", 0, domain.OrderTypeMarket, nil) }, "positive"},
		{"insufficient cash", func() domain.ExecutionResult { return p.Buy(ctx, "BTCUSDT", 20000, domain.OrderTypeMarket, nil) }, "insufficient USDT"},
		{"nothing to sell", func() domain.ExecutionResult { return p.Sell(ctx, "ETHUSDT", 1, domain.OrderTypeMarket, nil) }, "insufficient ETH"},
		{"limit without price", func() domain.ExecutionResult { return p.Buy(ctx, "BTCUSDT", 100, domain.OrderTypeLimit, nil) }, "limit_price"},
		{"resting limit buy", func() domain.ExecutionResult {
			return p.Buy(ctx, "BTCUSDT", 100, domain.OrderTypeLimit, domain.Float(40000))
		}, "resting"},
		{"unknown pair", func() domain.ExecutionResult { return p.Buy(ctx, "XYZUSDT", 100, domain.OrderTypeMarket, nil) }, "no price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.run()
			assert.False(t, res.OK())
			assert.Contains(t, res.Message, tt.want)
		})
	}

	market.err = errors.New("boom")
	res := p.Buy(ctx, "BTCUSDT", 100, domain.OrderTypeMarket, nil)
	assert.False(t, res.OK())
	assert.Equal(t, 10000.0, p.Balance("USDT"))
}

func TestPaper_MarketableLimitFillsAtMarket(t *testing.T) {
	p, _ := newPaper(t)

	res := p.Buy(context.Background(), "ETHUSDT", 200, domain.OrderTypeLimit, domain.Float(2100))

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 2000.0, res.Price)
}

func TestPaper_PortfolioValuation(t *testing.T) {
	p, market := newPaper(t)
	ctx := context.Background()

	require.True(t, p.Buy(ctx, "BTCUSDT", 1000, domain.OrderTypeMarket, nil).OK())
	require.True(t, p.Buy(ctx, "ETHUSDT", 500, domain.OrderTypeMarket, nil).OK())
	market.set("BTCUSDT", 55000)

	snap, err := p.GetPortfolio(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.OpenPositions)
	assert.InDelta(t, 8500, snap.CashValue, 1e-6)
	assert.InDelta(t, 0.01998*55000, snap.Balances["BTC"].Value, 1e-6)
	assert.InDelta(t, 8500+0.01998*55000+0.24975*2000, snap.TotalValue, 1e-6)
}

func TestPaper_StopLossTriggersOnValuation(t *testing.T) {
	p, market := newPaper(t)
	ctx := context.Background()

	buy := p.Buy(ctx, "ETHUSDT", 1000, domain.OrderTypeMarket, nil)
	require.True(t, buy.OK())

	res := p.SetStopLoss(ctx, "ETHUSDT", 1900, buy.ExecutedQty)
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, 1, p.StopCount())

	// выше стопа ничего не происходит
	snap, err := p.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OpenPositions)
	assert.Equal(t, 1, p.StopCount())

	market.set("ETHUSDT", 1850)
	snap, err = p.GetPortfolio(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.OpenPositions)
	assert.Equal(t, 0, p.StopCount())
	assert.Zero(t, p.Balance("ETH"))
	assert.InDelta(t, 9000+buy.ExecutedQty*1900*0.999, snap.CashValue, 1e-6)
}

func TestPaper_StopLossNeedsHoldings(t *testing.T) {
	p, _ := newPaper(t)

	res := p.SetStopLoss(context.Background(), "BTCUSDT", 45000, 1)

	assert.False(t, res.OK())
	assert.Contains(t, res.Message, "insufficient BTC")
}

func TestBaseAsset(t *testing.T) {
	tests := map[string]string{
		"BTCUSDT":  "BTC",
		"eth/usdt": "ETH",
		"SOL-USDC": "SOL",
		"BNBFDUSD": "BNB",
		"USDT":     "USDT",
		"DOGEBUSD": "DOGE",
	}
	for pair, want := range tests {
		assert.Equal(t, want, baseAsset(pair), pair)
	}
}

package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/domain"
)

type MockAccount struct{ mock.Mock }

func (m *MockAccount) GetPortfolio(ctx context.Context) (domain.PortfolioSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.PortfolioSnapshot), args.Error(1)
}

type MockMarket struct{ mock.Mock }

func (m *MockMarket) GetSeries(ctx context.Context, pair, interval string, limit int) ([]domain.Bar, error) {
	args := m.Called(ctx, pair, interval, limit)
	bars, _ := args.Get(0).([]domain.Bar)
	return bars, args.Error(1)
}

type MockTrading struct{ mock.Mock }

func (m *MockTrading) Buy(ctx context.Context, pair string, amount float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	return m.Called(ctx, pair, amount, orderType, limitPrice).Get(0).(domain.ExecutionResult)
}

func (m *MockTrading) Sell(ctx context.Context, pair string, quantity float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	return m.Called(ctx, pair, quantity, orderType, limitPrice).Get(0).(domain.ExecutionResult)
}

func (m *MockTrading) SetStopLoss(ctx context.Context, pair string, stopPrice, quantity float64) domain.ExecutionResult {
	return m.Called(ctx, pair, stopPrice, quantity).Get(0).(domain.ExecutionResult)
}

func newTestGuard() (*Guard, *MockAccount, *MockMarket, *MockTrading) {
	acc := &MockAccount{}
	mkt := &MockMarket{}
	trd := &MockTrading{}
	return NewGuard(DefaultRiskConfig(), acc, mkt, trd, nil, nil), acc, mkt, trd
}

func portfolio(total float64, open int) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{TotalValue: total, CashValue: total, OpenPositions: open}
}

func TestGuard_ReviewBuyUsesLastClose(t *testing.T) {
	g, acc, mkt, _ := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 2), nil)
	mkt.On("GetSeries", mock.Anything, "BTCUSDT", "1m", 1).Return([]domain.Bar{{Close: 100}}, nil)

	a, err := g.Review(context.Background(), domain.Decision{Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 2000})
	require.NoError(t, err)

	assert.True(t, a.Verdict().Approved)
	assert.True(t, a.Executable())
	require.NotNil(t, a.Decision().StopLoss)
	assert.InDelta(t, 97.0, *a.Decision().StopLoss, 1e-9)
}

func TestGuard_ReviewSellConvertsQuantity(t *testing.T) {
	g, acc, _, _ := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 1), nil)

	// 80 единиц по 100 = 8000 USDT, режется до 6666.67 USDT = 66.67 единиц
	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionSell, Pair: "ETHUSDT", Amount: 80, Price: domain.Float(100),
	})
	require.NoError(t, err)

	assert.True(t, a.Verdict().Approved)
	assert.InDelta(t, 66.6667, a.Decision().Amount, 1e-3)
	assert.Nil(t, a.Decision().StopLoss)
}

func TestGuard_ReviewRejectedBecomesHold(t *testing.T) {
	g, acc, _, trd := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 5), nil)

	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 100, Price: domain.Float(100),
	})
	require.NoError(t, err)

	assert.False(t, a.Verdict().Approved)
	assert.Equal(t, domain.ActionHold, a.Decision().Action)
	assert.False(t, a.Executable())

	_, err = g.Execute(context.Background(), a)
	assert.ErrorIs(t, err, domain.ErrRiskRejected)
	trd.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGuard_ReviewStopLoss(t *testing.T) {
	tests := []struct {
		name string
		stop float64
		want float64
	}{
		{name: "requested stop above market is dropped", stop: 1e6, want: 97},
		{name: "stop at entry is dropped", stop: 100, want: 97},
		{name: "tighter stop below entry is kept", stop: 99, want: 99},
		{name: "looser stop gives way to risk stop", stop: 80, want: 97},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, acc, _, _ := newTestGuard()
			acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 0), nil)

			a, err := g.Review(context.Background(), domain.Decision{
				Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 1000, Price: domain.Float(100), StopLoss: domain.Float(tt.stop),
			})
			require.NoError(t, err)
			require.NotNil(t, a.Decision().StopLoss)
			assert.InDelta(t, tt.want, *a.Decision().StopLoss, 1e-9)
		})
	}
}

func TestGuard_ReviewSellOverflowIsRejected(t *testing.T) {
	g, acc, _, _ := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 1), nil)

	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionSell, Pair: "ETHUSDT", Amount: 1e308, Price: domain.Float(100),
	})
	require.NoError(t, err)

	assert.False(t, a.Verdict().Approved)
	assert.Contains(t, a.Verdict().Reason, "non-finite input")
	assert.False(t, a.Executable())
}

func TestGuard_ReviewPortfolioError(t *testing.T) {
	g, acc, _, _ := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(domain.PortfolioSnapshot{}, domain.ErrProviderUnavailable)

	_, err := g.Review(context.Background(), domain.Decision{Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 10})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestGuard_ExecuteBuyPlacesStopLoss(t *testing.T) {
	g, acc, _, trd := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 0), nil)
	trd.On("Buy", mock.Anything, "BTCUSDT", 2000.0, domain.OrderTypeLimit, mock.Anything).
		Return(domain.ExecutionResult{Status: domain.ExecStatusSuccess, OrderID: "1", ExecutedQty: 20, Price: 100})
	trd.On("SetStopLoss", mock.Anything, "BTCUSDT", 97.0, 20.0).
		Return(domain.ExecutionResult{Status: domain.ExecStatusSuccess, OrderID: "2"})

	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 2000, Price: domain.Float(100),
	})
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, res.OK())
	trd.AssertExpectations(t)
}

func TestGuard_ExecuteBlockedByKillSwitch(t *testing.T) {
	g, acc, _, trd := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 0), nil)

	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 100, Price: domain.Float(100),
	})
	require.NoError(t, err)

	g.KillSwitch().Activate("manual")
	res, err := g.Execute(context.Background(), a)

	assert.True(t, errors.Is(err, domain.ErrKillSwitchActive))
	assert.False(t, res.OK())
	trd.AssertNotCalled(t, "Buy", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	g.KillSwitch().Deactivate()
	active, _, _ := g.KillSwitch().Status()
	assert.False(t, active)
}

func TestGuard_ExecuteSlippageTripsKillSwitch(t *testing.T) {
	g, acc, _, trd := newTestGuard()
	acc.On("GetPortfolio", mock.Anything).Return(portfolio(10000, 0), nil)
	trd.On("Buy", mock.Anything, "BTCUSDT", 100.0, domain.OrderTypeLimit, mock.Anything).
		Return(domain.ExecutionResult{Status: domain.ExecStatusSuccess, OrderID: "1", ExecutedQty: 0.95, Price: 105})
	trd.On("SetStopLoss", mock.Anything, "BTCUSDT", 97.0, 0.95).
		Return(domain.ExecutionResult{Status: domain.ExecStatusSuccess, OrderID: "2"})

	a, err := g.Review(context.Background(), domain.Decision{
		Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 100, Price: domain.Float(100),
	})
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Contains(t, res.Message, "slippage exceeds threshold")
	assert.True(t, g.KillSwitch().IsActive())
}

func TestSlippageGuard_Check(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		actual    float64
		expected  float64
		wantErr   bool
	}{
		{"within threshold", 1.0, 100.5, 100, false},
		{"above threshold", 1.0, 98.5, 100, true},
		{"disabled", 0, 150, 100, false},
		{"no expected price", 1.0, 150, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSlippageGuard(tt.threshold).Check(tt.actual, tt.expected)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSlippageTooHigh)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.InDelta(t, 1.5, Slippage(98.5, 100), 1e-9)
}

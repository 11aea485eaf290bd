package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

const (
	quoteAsset   = "USDT"
	paperFeeRate = 0.001 // комиссия taker как на Binance
)

type stopOrder struct {
	ID        string
	Pair      string
	StopPrice float64
	Quantity  float64
}

// PaperExchange бумажная биржа: балансы в памяти, цены из реального
// источника свечей. Исполняет только ордера, которые исполнились бы сразу.
type PaperExchange struct {
	market domain.MarketData
	logger *utils.Logger
	nowFn  func() time.Time

	mu       sync.Mutex
	balances map[string]float64
	stops    []stopOrder
}

func NewPaperExchange(market domain.MarketData, startingBalance float64, logger *utils.Logger) *PaperExchange {
	return &PaperExchange{
		market:   market,
		logger:   logger,
		nowFn:    time.Now,
		balances: map[string]float64{quoteAsset: startingBalance},
	}
}

// GetSeries проксирует источник свечей
func (p *PaperExchange) GetSeries(ctx context.Context, pair, interval string, limit int) ([]domain.Bar, error) {
	return p.market.GetSeries(ctx, pair, interval, limit)
}

func (p *PaperExchange) lastPrice(ctx context.Context, pair string) (float64, error) {
	bars, err := p.market.GetSeries(ctx, pair, "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return 0, fmt.Errorf("no price for %s", pair)
	}
	return bars[len(bars)-1].Close, nil
}

func (p *PaperExchange) Buy(ctx context.Context, pair string, amountQuote float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	if amountQuote <= 0 {
		return domain.ExecError("amount must be positive")
	}
	price, err := p.lastPrice(ctx, pair)
	if err != nil {
		return domain.ExecError("buy %s failed: %v", pair, err)
	}
	if orderType == domain.OrderTypeLimit {
		if limitPrice == nil || *limitPrice <= 0 {
			return domain.ExecError("limit order requires limit_price")
		}
		if *limitPrice < price {
			return domain.ExecError("limit %.8f below market %.8f: paper exchange does not keep resting orders", *limitPrice, price)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[quoteAsset] < amountQuote {
		return domain.ExecError("insufficient %s balance: have %.2f, need %.2f", quoteAsset, p.balances[quoteAsset], amountQuote)
	}

	qty := amountQuote * (1 - paperFeeRate) / price
	p.balances[quoteAsset] -= amountQuote
	p.balances[baseAsset(pair)] += qty

	p.logger.Info("📝 PAPER BUY %s: %.8f @ %.8f ($%.2f)", pair, qty, price, amountQuote)
	return p.filled(pair, domain.ActionBuy, qty, price)
}

func (p *PaperExchange) Sell(ctx context.Context, pair string, quantity float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	if quantity <= 0 {
		return domain.ExecError("quantity must be positive")
	}
	price, err := p.lastPrice(ctx, pair)
	if err != nil {
		return domain.ExecError("sell %s failed: %v", pair, err)
	}
	if orderType == domain.OrderTypeLimit {
		if limitPrice == nil || *limitPrice <= 0 {
			return domain.ExecError("limit order requires limit_price")
		}
		if *limitPrice > price {
			return domain.ExecError("limit %.8f above market %.8f: paper exchange does not keep resting orders", *limitPrice, price)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sellLocked(pair, quantity, price); err != nil {
		return domain.ExecError("sell %s failed: %v", pair, err)
	}

	p.logger.Info("📝 PAPER SELL %s: %.8f @ %.8f", pair, quantity, price)
	return p.filled(pair, domain.ActionSell, quantity, price)
}

// SetStopLoss запоминает стоп. Срабатывание проверяется при оценке портфеля.
func (p *PaperExchange) SetStopLoss(_ context.Context, pair string, stopPrice, quantity float64) domain.ExecutionResult {
	if stopPrice <= 0 || quantity <= 0 {
		return domain.ExecError("stop price and quantity must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if held := p.balances[baseAsset(pair)]; held < quantity {
		return domain.ExecError("insufficient %s balance for stop-loss: have %.8f, need %.8f", baseAsset(pair), held, quantity)
	}

	order := stopOrder{ID: uuid.NewString(), Pair: pair, StopPrice: stopPrice, Quantity: quantity}
	p.stops = append(p.stops, order)

	return domain.ExecutionResult{
		Status:      domain.ExecStatusSuccess,
		OrderID:     order.ID,
		Pair:        pair,
		Side:        domain.ActionSell,
		ExecutedQty: 0,
		Price:       stopPrice,
		Message:     "stop-loss placed",
		ExecutedAt:  p.nowFn().UTC(),
	}
}

// GetPortfolio оценивает балансы по последним ценам и исполняет сработавшие стопы
func (p *PaperExchange) GetPortfolio(ctx context.Context) (domain.PortfolioSnapshot, error) {
	p.mu.Lock()
	pairs := make(map[string]struct{})
	for asset, qty := range p.balances {
		if qty > 0 && !domain.Stablecoins[asset] {
			pairs[asset+quoteAsset] = struct{}{}
		}
	}
	for _, s := range p.stops {
		pairs[s.Pair] = struct{}{}
	}
	p.mu.Unlock()

	prices := make(map[string]float64, len(pairs))
	for pair := range pairs {
		price, err := p.lastPrice(ctx, pair)
		if err != nil {
			return domain.PortfolioSnapshot{}, fmt.Errorf("price %s: %w", pair, err)
		}
		prices[pair] = price
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.triggerStopsLocked(prices)

	balances := make(map[string]domain.AssetBalance, len(p.balances))
	for asset, qty := range p.balances {
		if qty <= 0 {
			continue
		}
		balances[asset] = domain.AssetBalance{Asset: asset, Free: qty}
	}
	return valuePortfolio(balances, func(asset string) float64 {
		return prices[asset+quoteAsset]
	}), nil
}

func (p *PaperExchange) triggerStopsLocked(prices map[string]float64) {
	kept := p.stops[:0]
	for _, s := range p.stops {
		price, ok := prices[s.Pair]
		if !ok || price > s.StopPrice {
			kept = append(kept, s)
			continue
		}
		qty := min(s.Quantity, p.balances[baseAsset(s.Pair)])
		if qty <= 0 {
			continue
		}
		if err := p.sellLocked(s.Pair, qty, s.StopPrice); err != nil {
			p.logger.Warn("⚠️  Stop-loss %s not executed: %v", s.ID, err)
			continue
		}
		p.logger.Warn("🛑 PAPER STOP-LOSS %s: sold %.8f @ %.8f (market %.8f)", s.Pair, qty, s.StopPrice, price)
	}
	p.stops = kept
}

func (p *PaperExchange) sellLocked(pair string, quantity, price float64) error {
	base := baseAsset(pair)
	if p.balances[base] < quantity {
		return fmt.Errorf("insufficient %s balance: have %.8f, need %.8f", base, p.balances[base], quantity)
	}
	p.balances[base] -= quantity
	if p.balances[base] < 1e-12 {
		delete(p.balances, base)
	}
	p.balances[quoteAsset] += quantity * price * (1 - paperFeeRate)
	return nil
}

func (p *PaperExchange) filled(pair string, side domain.Action, qty, price float64) domain.ExecutionResult {
	return domain.ExecutionResult{
		Status:      domain.ExecStatusSuccess,
		OrderID:     uuid.NewString(),
		Pair:        pair,
		Side:        side,
		ExecutedQty: qty,
		Price:       price,
		Message:     "FILLED",
		ExecutedAt:  p.nowFn().UTC(),
	}
}

// Balance текущий остаток актива
func (p *PaperExchange) Balance(asset string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset]
}

// StopCount число активных стопов
func (p *PaperExchange) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stops)
}

// baseAsset BTCUSDT -> BTC
func baseAsset(pair string) string {
	pair = normalizeSymbol(pair)
	for stable := range domain.Stablecoins {
		if strings.HasSuffix(pair, stable) && len(pair) > len(stable) {
			return strings.TrimSuffix(pair, stable)
		}
	}
	return pair
}

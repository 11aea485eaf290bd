package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/kirillm/crystalbot/internal/domain"
)

// dustValue позиции дешевле этого значения не считаются открытыми
const dustValue = 1.0

// BinanceClient спотовый клиент Binance: свечи, балансы, ордера
type BinanceClient struct {
	client  *binance.Client
	timeout time.Duration
}

// NewBinanceClient создает клиент. Пустые ключи допустимы для публичных данных.
func NewBinanceClient(apiKey, apiSecret string, testnet bool, timeout time.Duration) *BinanceClient {
	binance.UseTestnet = testnet
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BinanceClient{
		client:  binance.NewClient(apiKey, apiSecret),
		timeout: timeout,
	}
}

// GetSeries загружает последние limit свечей
func (b *BinanceClient) GetSeries(ctx context.Context, pair, interval string, limit int) ([]domain.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	klines, err := b.client.NewKlinesService().
		Symbol(normalizeSymbol(pair)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", pair, interval, wrapUnavailable(err))
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		bars = append(bars, domain.Bar{
			OpenTime:    time.UnixMilli(k.OpenTime).UTC(),
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			CloseTime:   time.UnixMilli(k.CloseTime).UTC(),
			QuoteVolume: parseFloat(k.QuoteAssetVolume),
			Trades:      k.TradeNum,
		})
	}
	return bars, nil
}

// GetPortfolio балансы с оценкой в USDT по текущим ценам
func (b *BinanceClient) GetPortfolio(ctx context.Context) (domain.PortfolioSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("account: %w", wrapUnavailable(err))
	}

	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("prices: %w", wrapUnavailable(err))
	}
	priceMap := make(map[string]float64, len(prices))
	for _, p := range prices {
		priceMap[p.Symbol] = parseFloat(p.Price)
	}

	balances := make(map[string]domain.AssetBalance)
	for _, bal := range account.Balances {
		ab := domain.AssetBalance{
			Asset:  bal.Asset,
			Free:   parseFloat(bal.Free),
			Locked: parseFloat(bal.Locked),
		}
		if ab.Total() == 0 {
			continue
		}
		balances[bal.Asset] = ab
	}

	return valuePortfolio(balances, func(asset string) float64 {
		return priceMap[asset+"USDT"]
	}), nil
}

// valuePortfolio оценивает балансы и считает открытые позиции
func valuePortfolio(balances map[string]domain.AssetBalance, priceOf func(asset string) float64) domain.PortfolioSnapshot {
	snap := domain.PortfolioSnapshot{
		Balances: make(map[string]domain.AssetBalance, len(balances)),
		TakenAt:  time.Now().UTC(),
	}
	for asset, ab := range balances {
		if domain.Stablecoins[asset] {
			ab.Value = ab.Total()
			snap.CashValue += ab.Value
		} else {
			ab.Value = ab.Total() * priceOf(asset)
			if ab.Value >= dustValue {
				snap.OpenPositions++
			}
		}
		snap.TotalValue += ab.Value
		snap.Balances[asset] = ab
	}
	return snap
}

// Buy покупка на сумму amountQuote USDT
func (b *BinanceClient) Buy(ctx context.Context, pair string, amountQuote float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	svc := b.client.NewCreateOrderService().
		Symbol(normalizeSymbol(pair)).
		Side(binance.SideTypeBuy)

	if orderType == domain.OrderTypeLimit {
		if limitPrice == nil || *limitPrice <= 0 {
			return domain.ExecError("limit order requires limit_price")
		}
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(formatQty(amountQuote / *limitPrice)).
			Price(formatQty(*limitPrice))
	} else {
		svc = svc.Type(binance.OrderTypeMarket).QuoteOrderQty(formatQty(amountQuote))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.ExecError("buy %s failed: %v", pair, err)
	}
	return orderResult(pair, domain.ActionBuy, resp)
}

// Sell продажа quantity единиц базового актива
func (b *BinanceClient) Sell(ctx context.Context, pair string, quantity float64, orderType domain.OrderType, limitPrice *float64) domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	svc := b.client.NewCreateOrderService().
		Symbol(normalizeSymbol(pair)).
		Side(binance.SideTypeSell).
		Quantity(formatQty(quantity))

	if orderType == domain.OrderTypeLimit {
		if limitPrice == nil || *limitPrice <= 0 {
			return domain.ExecError("limit order requires limit_price")
		}
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQty(*limitPrice))
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return domain.ExecError("sell %s failed: %v", pair, err)
	}
	return orderResult(pair, domain.ActionSell, resp)
}

// SetStopLoss стоп-лимит ордер на продажу. Лимит на 0.5% ниже стопа,
// чтобы ордер исполнился при проскальзывании.
func (b *BinanceClient) SetStopLoss(ctx context.Context, pair string, stopPrice, quantity float64) domain.ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.NewCreateOrderService().
		Symbol(normalizeSymbol(pair)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeStopLossLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatQty(quantity)).
		StopPrice(formatQty(stopPrice)).
		Price(formatQty(stopPrice * 0.995)).
		Do(ctx)
	if err != nil {
		return domain.ExecError("stop-loss %s failed: %v", pair, err)
	}

	res := orderResult(pair, domain.ActionSell, resp)
	res.Price = stopPrice
	res.Message = "stop-loss placed"
	return res
}

func orderResult(pair string, side domain.Action, resp *binance.CreateOrderResponse) domain.ExecutionResult {
	res := domain.ExecutionResult{
		Status:      domain.ExecStatusSuccess,
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Pair:        pair,
		Side:        side,
		ExecutedQty: parseFloat(resp.ExecutedQuantity),
		Price:       parseFloat(resp.Price),
		ExecutedAt:  time.UnixMilli(resp.TransactTime).UTC(),
		Message:     string(resp.Status),
	}

	// у рыночных ордеров цена в fills
	if len(resp.Fills) > 0 {
		var qty, notional float64
		for _, f := range resp.Fills {
			q := parseFloat(f.Quantity)
			qty += q
			notional += q * parseFloat(f.Price)
		}
		if qty > 0 {
			res.Price = notional / qty
		}
	}
	return res
}

func normalizeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(pair, "/", ""), "-", ""))
}

func formatQty(v float64) string {
	return decimal.NewFromFloat(v).Truncate(8).String()
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

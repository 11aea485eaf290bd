package ai

// Имена инструментов
const (
	ToolSpotBuy        = "execute_spot_buy"
	ToolSpotSell       = "execute_spot_sell"
	ToolSetStopLoss    = "set_stop_loss"
	ToolGetPortfolio   = "get_portfolio"
	ToolMarketAnalysis = "get_market_analysis"
)

// Timeframes допустимые таймфреймы для get_market_analysis
var Timeframes = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

// TradingTools фиксированный набор инструментов оракула
func TradingTools() []Tool {
	return []Tool{
		{
			Name:        ToolSpotBuy,
			Description: "Buy a cryptocurrency on the Binance spot market",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":      map[string]any{"type": "string", "description": "Trading pair, e.g. BTCUSDT"},
					"amount_usdt": map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Amount in USDT to invest"},
					"order_type":  map[string]any{"type": "string", "enum": []string{"market", "limit"}, "description": "Order type"},
					"limit_price": map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Limit price (only for limit orders)"},
				},
				"required": []string{"symbol", "amount_usdt", "order_type"},
			},
		},
		{
			Name:        ToolSpotSell,
			Description: "Sell a cryptocurrency on the Binance spot market",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":      map[string]any{"type": "string", "description": "Trading pair, e.g. BTCUSDT"},
					"amount":      map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Amount of the asset to sell"},
					"order_type":  map[string]any{"type": "string", "enum": []string{"market", "limit"}},
					"limit_price": map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Limit price"},
				},
				"required": []string{"symbol", "amount", "order_type"},
			},
		},
		{
			Name:        ToolSetStopLoss,
			Description: "Attach a stop-loss to a BUY of the same symbol in your final decision. Placed for the filled quantity after the buy executes",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":     map[string]any{"type": "string"},
					"stop_price": map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Stop activation price"},
					"amount":     map[string]any{"type": "number", "exclusiveMinimum": 0, "description": "Ignored: the filled quantity is protected"},
				},
				"required": []string{"symbol", "stop_price"},
			},
		},
		{
			Name:        ToolGetPortfolio,
			Description: "View current portfolio: balances, open positions, P&L",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolMarketAnalysis,
			Description: "Get detailed technical analysis for a pair",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol":    map[string]any{"type": "string", "description": "Pair to analyze"},
					"timeframe": map[string]any{"type": "string", "enum": Timeframes, "description": "Analysis timeframe"},
				},
				"required": []string{"symbol"},
			},
		},
	}
}

package domain

import "context"

// MarketData источник рыночных данных
type MarketData interface {
	GetSeries(ctx context.Context, pair, interval string, limit int) ([]Bar, error)
}

// SpotTrading спотовая торговля. Ошибки биржи возвращаются в ExecutionResult.
type SpotTrading interface {
	Buy(ctx context.Context, pair string, amountQuote float64, orderType OrderType, limitPrice *float64) ExecutionResult
	Sell(ctx context.Context, pair string, quantity float64, orderType OrderType, limitPrice *float64) ExecutionResult
	SetStopLoss(ctx context.Context, pair string, stopPrice, quantity float64) ExecutionResult
}

// Account доступ к балансам
type Account interface {
	GetPortfolio(ctx context.Context) (PortfolioSnapshot, error)
}

// AuditMirrorRepository вторичная копия записей аудита и итогов циклов
type AuditMirrorRepository interface {
	SaveAuditEntry(ctx context.Context, entry AuditEntry) error
	SaveCycle(ctx context.Context, record *CycleRecord) error
	GetRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}

package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// Approval решение, прошедшее риск-гейт. Создается только через Guard.Review,
// поэтому исполнить непроверенное решение невозможно.
type Approval struct {
	decision domain.Decision
	verdict  domain.RiskVerdict
	entry    float64
}

// Decision риск-скорректированное решение
func (a Approval) Decision() domain.Decision { return a.decision }

// Verdict вердикт риск-гейта
func (a Approval) Verdict() domain.RiskVerdict { return a.verdict }

// Executable true если решение одобрено и требует ордера
func (a Approval) Executable() bool {
	return a.verdict.Approved && a.decision.IsTrade() && a.decision.Amount > 0
}

// Guard связывает риск-гейт с портфелем, ценой и исполнением
type Guard struct {
	cfg        RiskConfig
	account    domain.Account
	market     domain.MarketData
	trading    domain.SpotTrading
	killSwitch *KillSwitch
	slippage   *SlippageGuard
	logger     *utils.Logger
}

// NewGuard создает guard
func NewGuard(cfg RiskConfig, account domain.Account, market domain.MarketData, trading domain.SpotTrading, ks *KillSwitch, logger *utils.Logger) *Guard {
	if logger == nil {
		logger = utils.Default()
	}
	if ks == nil {
		ks = NewKillSwitch(logger)
	}
	return &Guard{
		cfg:        cfg,
		account:    account,
		market:     market,
		trading:    trading,
		killSwitch: ks,
		slippage:   NewSlippageGuard(cfg.MaxSlippagePct),
		logger:     logger,
	}
}

// Config текущие лимиты
func (g *Guard) Config() RiskConfig { return g.cfg }

// KillSwitch аварийный выключатель исполнения
func (g *Guard) KillSwitch() *KillSwitch { return g.killSwitch }

// Review прогоняет решение через риск-гейт. SELL задается количеством актива,
// поэтому для проверки переводится в USDT по цене входа и обратно.
func (g *Guard) Review(ctx context.Context, d domain.Decision) (Approval, error) {
	if !d.IsTrade() {
		return Approval{decision: d, verdict: Evaluate(TradeRequest{Action: domain.ActionHold}, g.cfg)}, nil
	}

	portfolio, err := g.account.GetPortfolio(ctx)
	if err != nil {
		return Approval{}, fmt.Errorf("failed to get portfolio: %w", err)
	}

	entry, err := g.entryPrice(ctx, d)
	if err != nil {
		return Approval{}, err
	}

	if d.StopLoss != nil && (d.Action != domain.ActionBuy || *d.StopLoss >= entry) {
		g.logger.Warn("⚠️  Stop-loss %.8f for %s %s dropped (entry %.8f)", *d.StopLoss, d.Action, d.Pair, entry)
		d.StopLoss = nil
	}

	verdict := g.evaluate(d.Action, d.Pair, d.Amount, entry, portfolio)
	g.logger.Info("🛡️ Risk gate %s %s %.8f: approved=%v adjusted=%.8f (%s)",
		d.Action, d.Pair, d.Amount, verdict.Approved, verdict.AdjustedAmount, verdict.Reason)

	return Approval{decision: d.WithVerdict(verdict), verdict: verdict, entry: entry}, nil
}

// Preview проверка без исполнения, для ответа оракулу на торговый инструмент
func (g *Guard) Preview(ctx context.Context, d domain.Decision) (domain.RiskVerdict, error) {
	a, err := g.Review(ctx, d)
	if err != nil {
		return domain.RiskVerdict{}, err
	}
	return a.verdict, nil
}

func (g *Guard) evaluate(action domain.Action, pair string, amount, entry float64, p domain.PortfolioSnapshot) domain.RiskVerdict {
	quote := amount
	if action == domain.ActionSell {
		quote = amount * entry
	}

	verdict := Evaluate(TradeRequest{
		Action:         action,
		Pair:           pair,
		Amount:         quote,
		EntryPrice:     entry,
		PortfolioValue: p.TotalValue,
		OpenPositions:  p.OpenPositions,
	}, g.cfg)

	if action == domain.ActionSell && verdict.Approved {
		verdict.AdjustedAmount = verdict.AdjustedAmount / entry
		verdict.StopLossPrice = nil
	}
	return verdict
}

func (g *Guard) entryPrice(ctx context.Context, d domain.Decision) (float64, error) {
	if d.Price != nil && *d.Price > 0 {
		return *d.Price, nil
	}
	bars, err := g.market.GetSeries(ctx, d.Pair, "1m", 1)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", d.Pair, err)
	}
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return 0, fmt.Errorf("no price for %s: %w", d.Pair, domain.ErrProviderUnavailable)
	}
	return bars[len(bars)-1].Close, nil
}

// Execute отправляет одобренное решение на биржу и ставит стоп-лосс после покупки
func (g *Guard) Execute(ctx context.Context, a Approval) (domain.ExecutionResult, error) {
	if !a.Executable() {
		return domain.ExecutionResult{}, fmt.Errorf("decision is not executable: %w", domain.ErrRiskRejected)
	}
	if g.killSwitch.IsActive() {
		_, reason, _ := g.killSwitch.Status()
		return domain.ExecError("kill switch active: %s", reason), domain.ErrKillSwitchActive
	}

	d := a.decision
	orderType := domain.OrderTypeMarket
	if d.Price != nil {
		orderType = domain.OrderTypeLimit
	}

	var result domain.ExecutionResult
	switch d.Action {
	case domain.ActionBuy:
		result = g.trading.Buy(ctx, d.Pair, d.Amount, orderType, d.Price)
	case domain.ActionSell:
		result = g.trading.Sell(ctx, d.Pair, d.Amount, orderType, d.Price)
	}
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now().UTC()
	}

	if !result.OK() {
		g.logger.Error("❌ %s %s failed: %s", d.Action, d.Pair, result.Message)
		return result, nil
	}

	g.logger.Info("✅ %s %s executed: order=%s qty=%.8f price=%.8f",
		d.Action, d.Pair, result.OrderID, result.ExecutedQty, result.Price)

	// ордер уже исполнен, поэтому сильное проскальзывание останавливает
	// только следующие сделки
	if err := g.slippage.Check(result.Price, a.entry); err != nil {
		g.logger.Warn("⚠️  %s %s: %v", d.Action, d.Pair, err)
		g.killSwitch.Activate(fmt.Sprintf("%s %s: %v", d.Action, d.Pair, err))
		result.Message = err.Error()
	}

	if d.Action == domain.ActionBuy && d.StopLoss != nil && result.ExecutedQty > 0 {
		sl := g.trading.SetStopLoss(ctx, d.Pair, *d.StopLoss, result.ExecutedQty)
		if !sl.OK() {
			g.logger.Warn("⚠️  Stop-loss for %s not placed: %s", d.Pair, sl.Message)
			result.Message = fmt.Sprintf("stop-loss not placed: %s", sl.Message)
		} else {
			g.logger.Info("🛑 Stop-loss for %s at %.8f (order %s)", d.Pair, *d.StopLoss, sl.OrderID)
		}
	}

	return result, nil
}

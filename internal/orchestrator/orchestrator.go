package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/crystalbot/internal/agent"
	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/conversation"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/notify"
	"github.com/kirillm/crystalbot/internal/policy"
	"github.com/kirillm/crystalbot/internal/strategy"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// Decider источник решения цикла
type Decider interface {
	Decide(ctx context.Context, mc agent.MarketContext, history []domain.ConversationTurn) (domain.Decision, error)
}

// Gate риск-гейт и единственный путь к исполнению
type Gate interface {
	Review(ctx context.Context, d domain.Decision) (policy.Approval, error)
	Execute(ctx context.Context, a policy.Approval) (domain.ExecutionResult, error)
}

// Auditor журнал решений
type Auditor interface {
	Append(ctx context.Context, d domain.Decision) (string, error)
}

// CycleMirror необязательная копия итогов циклов
type CycleMirror interface {
	SaveCycle(ctx context.Context, record *domain.CycleRecord) error
}

// Config параметры планировщика
type Config struct {
	Mode           string
	Pairs          []string
	Timeframe      string
	SeriesLimit    int
	Interval       time.Duration
	Cooldown       time.Duration
	CallTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	HistoryTurns   int
	NotifyTimeout  time.Duration
}

// Deps компоненты цикла. Notifier и Mirror необязательны.
type Deps struct {
	Market   domain.MarketData
	Account  domain.Account
	Strategy strategy.Strategy
	Decider  Decider
	Gate     Gate
	Audit    Auditor
	Sessions *SessionRecorder
	Notifier notify.Notifier
	Mirror   CycleMirror
}

// CycleReport итог одного цикла
type CycleReport struct {
	ID         string
	SessionID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Decision   domain.Decision
	Verdict    *domain.RiskVerdict
	Execution  *domain.ExecutionResult
	AuditHash  string
	Err        error
}

// Degraded цикл завершился HOLD из-за сбоя
func (r CycleReport) Degraded() bool { return r.Err != nil }

// Executed ордер отправлен и исполнен
func (r CycleReport) Executed() bool { return r.Execution != nil && r.Execution.OK() }

func (r CycleReport) record(mode string) *domain.CycleRecord {
	rec := &domain.CycleRecord{
		CycleID:    r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Mode:       mode,
		Action:     string(r.Decision.Action),
		Pair:       r.Decision.Pair,
		Amount:     r.Decision.Amount,
		Confidence: r.Decision.Confidence,
		Outcome:    string(r.Decision.Outcome),
		Approved:   r.Verdict != nil && r.Verdict.Approved,
		Executed:   r.Executed(),
		AuditHash:  r.AuditHash,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Scheduler запускает один цикл решения за интервал. Циклы не пересекаются:
// следующий начинается через interval после окончания предыдущего.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *utils.Logger
	nowFn  func() time.Time

	notifyWG sync.WaitGroup

	mu     sync.RWMutex
	last   CycleReport
	cycles int
}

// New создает планировщик
func New(cfg Config, deps Deps, logger *utils.Logger) (*Scheduler, error) {
	if deps.Market == nil || deps.Account == nil || deps.Decider == nil || deps.Gate == nil || deps.Audit == nil {
		return nil, fmt.Errorf("scheduler: market, account, decider, gate and audit are required: %w", domain.ErrInvalidInput)
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("scheduler: no trading pairs: %w", domain.ErrInvalidInput)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.SeriesLimit <= 0 {
		cfg.SeriesLimit = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = utils.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	return &Scheduler{cfg: cfg, deps: deps, logger: logger, nowFn: time.Now}, nil
}

// Run крутит циклы до отмены ctx (возвращает nil) или до фатальной
// ошибки журнала аудита (возвращает ошибку с domain.ErrAuditWrite).
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("🚀 Scheduler started in %s mode (interval: %v, cooldown: %v, pairs: %v)",
		s.cfg.Mode, s.cfg.Interval, s.cfg.Cooldown, s.cfg.Pairs)
	defer s.notifyWG.Wait()

	for {
		if ctx.Err() != nil {
			s.logger.Info("🛑 Scheduler stopped")
			return nil
		}

		report, err := s.RunCycle(ctx)
		if errors.Is(err, domain.ErrAuditWrite) {
			s.logger.Error("💀 Audit log is not writable, stopping: %v", err)
			return err
		}

		wait := s.cfg.Interval
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("🛑 Scheduler stopped, cycle %s abandoned", report.ID)
				return nil
			}
			s.logger.Error("❌ Cycle %s degraded: %v (cooldown %v)", report.ID, err, s.cfg.Cooldown)
			wait = s.cfg.Cooldown
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("🛑 Scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle один полный цикл: контекст -> решение -> риск-гейт -> аудит ->
// исполнение -> уведомление. Ошибка означает деградированный цикл,
// который все равно записан в журнал; исключение только отмена ctx до
// появления решения и сбой записи журнала.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString(), StartedAt: s.nowFn().UTC()}
	s.logger.Info("🧠 Starting cycle %s (mode: %s)", report.ID, s.cfg.Mode)

	var history []domain.ConversationTurn
	if rec := s.deps.Sessions; rec != nil {
		history = rec.History(s.cfg.HistoryTurns)
		if err := rec.Start(conversation.NewSessionID(report.StartedAt)); err != nil {
			s.logger.Warn("⚠️  Failed to start conversation session: %v", err)
		}
		report.SessionID = rec.SessionID()
	}

	approval, err := s.decide(ctx, history)
	if err != nil {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			report.FinishedAt = s.nowFn().UTC()
			return report, ctx.Err()
		}
		report.Err = err
		outcome := domain.OutcomeDegraded
		if errors.Is(err, domain.ErrProviderUnavailable) {
			outcome = domain.OutcomeProviderUnavailable
		}
		report.Decision = domain.Hold(fmt.Sprintf("cycle degraded: %v", err), 0, outcome)
	} else {
		report.Decision = approval.Decision()
		v := approval.Verdict()
		report.Verdict = &v
	}

	// запись в журнал не прерывается отменой: решение уже принято
	hash, err := s.deps.Audit.Append(context.WithoutCancel(ctx), report.Decision)
	if err != nil {
		report.FinishedAt = s.nowFn().UTC()
		return report, fmt.Errorf("cycle %s: %w", report.ID, err)
	}
	report.AuditHash = hash
	s.logger.Info("🔗 Audit %s: %s %s %.8f", shortHash(hash), report.Decision.Action, report.Decision.Pair, report.Decision.Amount)

	if report.Err == nil && approval.Executable() {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("⚠️  Execution skipped, shutting down")
		} else {
			s.execute(ctx, approval, &report)
		}
	}

	report.FinishedAt = s.nowFn().UTC()
	s.remember(report)
	s.notify(ctx, report)
	s.mirror(ctx, report)

	s.logger.Info("📊 Cycle %s complete in %v: %s (%s)",
		report.ID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.Decision.Action, report.Decision.Outcome)
	return report, report.Err
}

func (s *Scheduler) remember(r CycleReport) {
	s.mu.Lock()
	s.last = r
	s.cycles++
	s.mu.Unlock()
}

// LastReport итог последнего записанного в журнал цикла и число таких циклов
func (s *Scheduler) LastReport() (CycleReport, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.cycles
}

// decide шаги, сбой которых деградирует цикл до HOLD. Паника тоже.
func (s *Scheduler) decide(ctx context.Context, history []domain.ConversationTurn) (approval policy.Approval, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("💥 Panic in cycle: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	mc, err := s.gatherContext(ctx)
	if err != nil {
		return policy.Approval{}, err
	}

	if err := ctx.Err(); err != nil {
		return policy.Approval{}, err
	}
	decision, err := s.deps.Decider.Decide(ctx, mc, history)
	if err != nil {
		return policy.Approval{}, fmt.Errorf("decision loop: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return policy.Approval{}, err
	}
	approval, err = withRetry(ctx, s.cfg.MaxRetries+1, s.cfg.RetryBaseDelay, s.cfg.CallTimeout,
		func(c context.Context) (policy.Approval, error) { return s.deps.Gate.Review(c, decision) })
	if err != nil {
		return policy.Approval{}, fmt.Errorf("risk review: %w", err)
	}
	return approval, nil
}

// gatherContext свечи и анализ по каждой паре, портфель и сигналы стратегии.
// Пара без данных пропускается; цикл деградирует только если данных нет совсем.
func (s *Scheduler) gatherContext(ctx context.Context) (agent.MarketContext, error) {
	var (
		mc      agent.MarketContext
		lastErr error
	)

	for _, pair := range s.cfg.Pairs {
		if err := ctx.Err(); err != nil {
			return mc, err
		}
		bars, err := withRetry(ctx, s.cfg.MaxRetries+1, s.cfg.RetryBaseDelay, s.cfg.CallTimeout,
			func(c context.Context) ([]domain.Bar, error) {
				return s.deps.Market.GetSeries(c, pair, s.cfg.Timeframe, s.cfg.SeriesLimit)
			})
		if err != nil {
			s.logger.Warn("⚠️  No market data for %s: %v", pair, err)
			lastErr = err
			continue
		}
		a, err := analysis.Analyze(pair, s.cfg.Timeframe, bars)
		if err != nil {
			s.logger.Warn("⚠️  Analysis failed for %s: %v", pair, err)
			lastErr = err
			continue
		}
		mc.Analyses = append(mc.Analyses, a)
	}
	if len(mc.Analyses) == 0 {
		return mc, fmt.Errorf("no market data for any pair: %w", lastErr)
	}

	if err := ctx.Err(); err != nil {
		return mc, err
	}
	portfolio, err := withRetry(ctx, s.cfg.MaxRetries+1, s.cfg.RetryBaseDelay, s.cfg.CallTimeout, s.deps.Account.GetPortfolio)
	if err != nil {
		if ctx.Err() != nil {
			return mc, ctx.Err()
		}
		s.logger.Warn("⚠️  Portfolio unavailable, deciding without it: %v", err)
	} else {
		mc.Portfolio = &portfolio
		s.logger.Info("💼 Portfolio: $%.2f total, $%.2f cash, %d open position(s)",
			portfolio.TotalValue, portfolio.CashValue, portfolio.OpenPositions)
	}

	if s.deps.Strategy != nil {
		for _, a := range mc.Analyses {
			sig := s.deps.Strategy.Evaluate(a, portfolio)
			mc.Signals = append(mc.Signals, sig)
			s.logger.Debug("📈 %s %s", a.Pair, sig.Describe())
		}
	}
	return mc, nil
}

func (s *Scheduler) execute(ctx context.Context, approval policy.Approval, report *CycleReport) {
	execCtx, cancel := context.WithTimeout(ctx, 2*s.cfg.CallTimeout)
	defer cancel()

	result, err := s.deps.Gate.Execute(execCtx, approval)
	report.Execution = &result
	if err != nil {
		if errors.Is(err, domain.ErrKillSwitchActive) {
			s.logger.Warn("⛔ Execution blocked: %s", result.Message)
		} else {
			s.logger.Error("❌ Execution failed: %v", err)
		}
		return
	}
	if !result.Filled() {
		if result.OK() {
			s.logger.Info("⏳ Order %s accepted but not filled yet (%s)", result.OrderID, result.Message)
		}
		return
	}

	if fo, ok := s.deps.Strategy.(strategy.FillObserver); ok {
		d := approval.Decision()
		fo.OnFill(d.Pair, d.Action, result.Price, result.ExecutedQty, result.ExecutedAt)
	}
}

// notify отправка в фоне. Сбой доставки только логируется.
func (s *Scheduler) notify(ctx context.Context, report CycleReport) {
	event := eventFor(report)

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.Notify(nctx, event); err != nil {
			s.logger.Warn("⚠️  Notification failed: %v", err)
		}
	}()
}

func eventFor(r CycleReport) notify.Event {
	d := r.Decision
	e := notify.Event{
		Kind:      notify.KindDecision,
		Summary:   fmt.Sprintf("%s %s %.8f (confidence %.2f)", d.Action, d.Pair, d.Amount, d.Confidence),
		CycleID:   r.ID,
		Decision:  &d,
		Execution: r.Execution,
		AuditHash: r.AuditHash,
		At:        r.FinishedAt,
	}

	switch {
	case r.Err != nil:
		e.Kind = notify.KindDegraded
		e.Summary = r.Err.Error()
	case d.Outcome == domain.OutcomeRejected:
		e.Kind = notify.KindRejected
	case r.Execution != nil && !r.Execution.OK():
		e.Kind = notify.KindError
		e.Summary = fmt.Sprintf("%s %s failed: %s", d.Action, d.Pair, r.Execution.Message)
	case r.Execution != nil:
		e.Kind = notify.KindTrade
	}
	return e
}

func (s *Scheduler) mirror(ctx context.Context, report CycleReport) {
	if s.deps.Mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()
	if err := s.deps.Mirror.SaveCycle(mctx, report.record(s.cfg.Mode)); err != nil {
		s.logger.Warn("⚠️  Failed to save cycle to database: %v", err)
		return
	}
	s.logger.Debug("💾 Cycle %s saved to database", report.ID)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

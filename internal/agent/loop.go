package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/crystalbot/internal/ai"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// Oracle источник предложений (LLM с вызовом инструментов)
type Oracle interface {
	Complete(ctx context.Context, req ai.Request) (ai.Response, error)
}

// RiskPreviewer проверка предложения риск-гейтом без исполнения
type RiskPreviewer interface {
	Preview(ctx context.Context, d domain.Decision) (domain.RiskVerdict, error)
}

// Recorder журнал диалога. Loop добавляет ходы по мере появления и
// сохраняет их в конце цикла.
type Recorder interface {
	Append(turn domain.ConversationTurn)
	Persist() error
}

// Deps внешние провайдеры для инструментов. Исполнения среди них нет:
// ордера выставляет только гейт после финального решения.
type Deps struct {
	Market  domain.MarketData
	Account domain.Account
	Risk    RiskPreviewer
}

type Config struct {
	MaxTurns    int
	Timeframe   string
	SeriesLimit int
	ToolTimeout time.Duration
}

// Loop конечный автомат диалога с оракулом:
// ожидание ответа -> вызов инструментов -> ожидание ответа ... -> финальный ответ.
// Число обращений к оракулу ограничено MaxTurns.
type Loop struct {
	oracle   Oracle
	persona  string
	tools    []ai.Tool
	schemas  *schemaSet
	deps     Deps
	cfg      Config
	recorder Recorder
	logger   *utils.Logger
	nowFn    func() time.Time
}

// Option настройка Loop
type Option func(*Loop)

// WithRecorder сохранять ходы в журнал диалога
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

// WithLogger задает логгер
func WithLogger(logger *utils.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func NewLoop(oracle Oracle, persona string, deps Deps, cfg Config, opts ...Option) (*Loop, error) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 8
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.SeriesLimit <= 0 {
		cfg.SeriesLimit = 100
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}

	tools := ai.TradingTools()
	schemas, err := compileSchemas(tools)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tool schemas: %w", err)
	}

	l := &Loop{
		oracle:  oracle,
		persona: persona,
		tools:   tools,
		schemas: schemas,
		deps:    deps,
		cfg:     cfg,
		logger:  utils.Default(),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Decide проводит один цикл диалога и возвращает решение.
// Ошибка возвращается только при отказе оракула или отмене контекста;
// исчерпание лимита ходов дает HOLD с OutcomeTurnLimit.
func (l *Loop) Decide(ctx context.Context, mc MarketContext, history []domain.ConversationTurn) (domain.Decision, error) {
	turns := make([]domain.ConversationTurn, 0, len(history)+2*l.cfg.MaxTurns+1)
	for _, t := range history {
		if t.Replayable() {
			turns = append(turns, t)
		}
	}

	seed := domain.ConversationTurn{
		Role:      domain.RoleUser,
		Content:   []domain.ContentBlock{domain.TextBlock(BuildMarketUpdate(mc))},
		Timestamp: l.nowFn().UTC(),
	}
	turns = l.push(turns, seed)
	defer l.persist()

	var (
		proposal *domain.Decision
		stop     *stopRequest
	)

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return domain.Decision{}, err
		}

		resp, err := l.oracle.Complete(ctx, ai.Request{
			System:   l.persona,
			Tools:    l.tools,
			Messages: turns,
		})
		if err != nil {
			return domain.Decision{}, fmt.Errorf("oracle call %d: %w", turn, err)
		}

		turns = l.push(turns, domain.ConversationTurn{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			Timestamp: l.nowFn().UTC(),
		})

		uses := resp.ToolUses()
		if resp.StopReason != ai.StopToolUse || len(uses) == 0 {
			d := attachStop(terminalDecision(resp.Text(), proposal), stop)
			d.RawAnalysis = mc.raw()
			l.logger.Info("🧠 Decision after %d turn(s): %s %s %.8f (confidence %.2f, %s)",
				turn, d.Action, d.Pair, d.Amount, d.Confidence, d.Outcome)
			return d, nil
		}

		l.logger.Debug("🔧 Turn %d: %d tool call(s)", turn, len(uses))
		results, proposed, stopped := l.dispatch(ctx, uses)
		if proposed != nil {
			proposal = proposed
		}
		if stopped != nil {
			stop = stopped
		}

		turns = l.push(turns, domain.ConversationTurn{
			Role:      domain.RoleUser,
			Content:   results,
			Timestamp: l.nowFn().UTC(),
		})
	}

	l.logger.Warn("⚠️  Turn limit (%d) exceeded, holding", l.cfg.MaxTurns)
	d := domain.Hold("turn limit exceeded", 0, domain.OutcomeTurnLimit)
	d.RawAnalysis = mc.raw()
	return d, nil
}

func (l *Loop) push(turns []domain.ConversationTurn, t domain.ConversationTurn) []domain.ConversationTurn {
	if l.recorder != nil {
		l.recorder.Append(t)
	}
	return append(turns, t)
}

func (l *Loop) persist() {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Persist(); err != nil {
		l.logger.Warn("⚠️  Failed to persist conversation: %v", err)
	}
}

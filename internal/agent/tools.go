package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kirillm/crystalbot/internal/ai"
	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

type schemaSet struct {
	byName map[string]*jsonschema.Schema
}

func compileSchemas(tools []ai.Tool) (*schemaSet, error) {
	set := &schemaSet{byName: make(map[string]*jsonschema.Schema, len(tools))}
	for _, t := range tools {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, err
		}
		url := t.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		set.byName[t.Name] = schema
	}
	return set, nil
}

// validate проверяет вход инструмента по его схеме
func (s *schemaSet) validate(name string, input json.RawMessage) error {
	schema, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("invalid input for %s: %w", name, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("invalid input for %s: %v", name, err)
	}
	return nil
}

type toolOutcome struct {
	block    domain.ContentBlock
	proposal *domain.Decision
	stop     *stopRequest
}

// stopRequest стоп-лосс, запрошенный оракулом. Ордер не выставляется:
// стоп прикрепляется к финальной покупке той же пары и ставится
// гейтом после исполнения покупки.
type stopRequest struct {
	Pair      string
	StopPrice float64
}

// dispatch выполняет все вызовы хода параллельно и дожидается всех.
// Порядок результатов совпадает с порядком запросов; из нескольких
// торговых предложений побеждает последнее.
func (l *Loop) dispatch(ctx context.Context, uses []domain.ContentBlock) ([]domain.ContentBlock, *domain.Decision, *stopRequest) {
	outcomes := make([]toolOutcome, len(uses))

	g, gctx := errgroup.WithContext(ctx)
	for i, use := range uses {
		g.Go(func() error {
			outcomes[i] = l.runTool(gctx, use)
			return nil
		})
	}
	_ = g.Wait()

	blocks := make([]domain.ContentBlock, len(outcomes))
	var (
		proposal *domain.Decision
		stop     *stopRequest
	)
	for i, o := range outcomes {
		blocks[i] = o.block
		if o.proposal != nil {
			proposal = o.proposal
		}
		if o.stop != nil {
			stop = o.stop
		}
	}
	return blocks, proposal, stop
}

func (l *Loop) runTool(ctx context.Context, use domain.ContentBlock) (out toolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("❌ Tool %s panic: %v", use.Name, r)
			out = toolOutcome{block: errorResult(use.ID, "tool %s failed: %v", use.Name, r)}
		}
	}()

	if err := l.schemas.validate(use.Name, use.Input); err != nil {
		l.logger.Warn("⚠️  Tool call rejected: %v", err)
		return toolOutcome{block: errorResult(use.ID, "%v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	var (
		result   any
		proposal *domain.Decision
		stop     *stopRequest
		err      error
	)

	switch use.Name {
	case ai.ToolSpotBuy:
		result, proposal, err = l.proposeBuy(ctx, use.Input)
	case ai.ToolSpotSell:
		result, proposal, err = l.proposeSell(ctx, use.Input)
	case ai.ToolSetStopLoss:
		result, stop, err = l.proposeStopLoss(use.Input)
	case ai.ToolGetPortfolio:
		result, err = l.deps.Account.GetPortfolio(ctx)
	case ai.ToolMarketAnalysis:
		result, err = l.marketAnalysis(ctx, use.Input)
	default:
		return toolOutcome{block: errorResult(use.ID, "unknown tool: %s", use.Name)}
	}

	if err != nil {
		l.logger.Warn("⚠️  Tool %s failed: %v", use.Name, err)
		return toolOutcome{block: errorResult(use.ID, "%v", err)}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return toolOutcome{block: errorResult(use.ID, "failed to encode result: %v", err)}
	}

	isErr := false
	if er, ok := result.(domain.ExecutionResult); ok && !er.OK() {
		isErr = true
	}

	return toolOutcome{
		block: domain.ContentBlock{
			Type:      domain.BlockToolResult,
			ToolUseID: use.ID,
			Content:   string(payload),
			IsError:   isErr,
		},
		proposal: proposal,
		stop:     stop,
	}
}

func errorResult(toolUseID, format string, v ...any) domain.ContentBlock {
	payload, _ := json.Marshal(map[string]string{
		"status":  domain.ExecStatusError,
		"message": fmt.Sprintf(format, v...),
	})
	return domain.ContentBlock{
		Type:      domain.BlockToolResult,
		ToolUseID: toolUseID,
		Content:   string(payload),
		IsError:   true,
	}
}

type buyInput struct {
	Symbol     string   `json:"symbol"`
	AmountUSDT float64  `json:"amount_usdt"`
	OrderType  string   `json:"order_type"`
	LimitPrice *float64 `json:"limit_price"`
}

type sellInput struct {
	Symbol     string   `json:"symbol"`
	Amount     float64  `json:"amount"`
	OrderType  string   `json:"order_type"`
	LimitPrice *float64 `json:"limit_price"`
}

type stopLossInput struct {
	Symbol    string  `json:"symbol"`
	StopPrice float64 `json:"stop_price"`
	Amount    float64 `json:"amount"`
}

type analysisInput struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// proposalResult ответ оракулу на торговый инструмент: ордер не
// выставляется, пока решение не станет финальным и не пройдет гейт
type proposalResult struct {
	Status         string   `json:"status"`
	Action         string   `json:"action"`
	Symbol         string   `json:"symbol"`
	Approved       bool     `json:"approved"`
	AdjustedAmount float64  `json:"adjusted_amount"`
	StopLossPrice  *float64 `json:"stop_loss_price,omitempty"`
	Reason         string   `json:"reason"`
	Note           string   `json:"note"`
}

const proposalNote = "Order is not placed yet: it is executed after your final decision passes the risk gate."

func (l *Loop) proposeBuy(ctx context.Context, input json.RawMessage) (any, *domain.Decision, error) {
	var in buyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, nil, err
	}
	price, err := limitPrice(in.OrderType, in.LimitPrice)
	if err != nil {
		return nil, nil, err
	}
	d := domain.Decision{
		Action:     domain.ActionBuy,
		Pair:       normalizePair(in.Symbol),
		Amount:     in.AmountUSDT,
		Price:      price,
		Reasoning:  "proposed via " + ai.ToolSpotBuy,
		Confidence: 0.5,
		Outcome:    domain.OutcomeOK,
	}
	return l.preview(ctx, d)
}

func (l *Loop) proposeSell(ctx context.Context, input json.RawMessage) (any, *domain.Decision, error) {
	var in sellInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, nil, err
	}
	price, err := limitPrice(in.OrderType, in.LimitPrice)
	if err != nil {
		return nil, nil, err
	}
	d := domain.Decision{
		Action:     domain.ActionSell,
		Pair:       normalizePair(in.Symbol),
		Amount:     in.Amount,
		Price:      price,
		Reasoning:  "proposed via " + ai.ToolSpotSell,
		Confidence: 0.5,
		Outcome:    domain.OutcomeOK,
	}
	return l.preview(ctx, d)
}

func (l *Loop) preview(ctx context.Context, d domain.Decision) (any, *domain.Decision, error) {
	if l.deps.Risk == nil {
		return nil, nil, fmt.Errorf("risk gate is not configured")
	}
	v, err := l.deps.Risk.Preview(ctx, d)
	if err != nil {
		return nil, nil, fmt.Errorf("risk preview failed: %w", err)
	}
	return proposalResult{
		Status:         "proposed",
		Action:         string(d.Action),
		Symbol:         d.Pair,
		Approved:       v.Approved,
		AdjustedAmount: v.AdjustedAmount,
		StopLossPrice:  v.StopLossPrice,
		Reason:         v.Reason,
		Note:           proposalNote,
	}, &d, nil
}

func limitPrice(orderType string, price *float64) (*float64, error) {
	if domain.OrderType(orderType) != domain.OrderTypeLimit {
		return nil, nil
	}
	if price == nil || *price <= 0 {
		return nil, fmt.Errorf("limit order requires limit_price")
	}
	return domain.Float(*price), nil
}

type stopResult struct {
	Status    string  `json:"status"`
	Symbol    string  `json:"symbol"`
	StopPrice float64 `json:"stop_price"`
	Note      string  `json:"note"`
}

const stopLossNote = "Stop-loss is not placed yet: it is attached to a BUY of this symbol in your final decision " +
	"and placed for the filled quantity after the buy passes the risk gate."

func (l *Loop) proposeStopLoss(input json.RawMessage) (any, *stopRequest, error) {
	var in stopLossInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, nil, err
	}
	stop := &stopRequest{Pair: normalizePair(in.Symbol), StopPrice: in.StopPrice}
	return stopResult{
		Status:    "proposed",
		Symbol:    stop.Pair,
		StopPrice: stop.StopPrice,
		Note:      stopLossNote,
	}, stop, nil
}

// attachStop переносит запрошенный стоп на покупку той же пары
func attachStop(d domain.Decision, stop *stopRequest) domain.Decision {
	if stop == nil || d.Action != domain.ActionBuy || d.Pair != stop.Pair || d.StopLoss != nil {
		return d
	}
	d.StopLoss = domain.Float(stop.StopPrice)
	return d
}

func (l *Loop) marketAnalysis(ctx context.Context, input json.RawMessage) (any, error) {
	var in analysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	tf := in.Timeframe
	if tf == "" {
		tf = l.cfg.Timeframe
	}
	pair := normalizePair(in.Symbol)

	bars, err := l.deps.Market.GetSeries(ctx, pair, tf, l.cfg.SeriesLimit)
	if err != nil {
		return nil, err
	}
	return analysis.Analyze(pair, tf, bars)
}

func normalizePair(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "-", "").Replace(s)
}

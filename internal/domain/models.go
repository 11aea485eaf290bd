package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Decision итоговое решение цикла. После создания не изменяется:
// производные решения строятся через With* методы.
type Decision struct {
	Action      Action         `json:"action"`
	Pair        string         `json:"pair"`
	Amount      float64        `json:"amount"`
	Price       *float64       `json:"price,omitempty"` // nil = market
	StopLoss    *float64       `json:"stop_loss,omitempty"`
	TakeProfit  *float64       `json:"take_profit,omitempty"`
	Reasoning   string         `json:"reasoning"`
	Confidence  float64        `json:"confidence"`
	RawAnalysis map[string]any `json:"raw_analysis,omitempty"`
	Outcome     Outcome        `json:"outcome,omitempty"`
}

// Hold создает HOLD решение с указанной причиной
func Hold(reasoning string, confidence float64, outcome Outcome) Decision {
	return Decision{
		Action:     ActionHold,
		Reasoning:  reasoning,
		Confidence: clampConfidence(confidence),
		Outcome:    outcome,
	}
}

// WithVerdict применяет вердикт риск-гейта. Отклоненное предложение
// превращается в HOLD, сохраняя исходное намерение в обосновании.
func (d Decision) WithVerdict(v RiskVerdict) Decision {
	out := d
	if !v.Approved {
		out.Action = ActionHold
		out.Amount = 0
		out.Price = nil
		out.StopLoss = nil
		out.TakeProfit = nil
		out.Outcome = OutcomeRejected
		out.Reasoning = fmt.Sprintf("%s\n[risk] rejected %s %s %.2f: %s",
			d.Reasoning, d.Action, d.Pair, d.Amount, v.Reason)
		return out
	}

	out.Amount = v.AdjustedAmount
	// из двух стопов остается более близкий к цене
	if v.StopLossPrice != nil && (out.StopLoss == nil || *v.StopLossPrice > *out.StopLoss) {
		out.StopLoss = Float(*v.StopLossPrice)
	}
	if v.Reason != "" {
		out.Reasoning = fmt.Sprintf("%s\n[risk] %s", d.Reasoning, v.Reason)
	}
	return out
}

// WithReasoning возвращает копию с другим обоснованием
func (d Decision) WithReasoning(reasoning string) Decision {
	out := d
	out.Reasoning = reasoning
	return out
}

// IsTrade true для BUY и SELL
func (d Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ClampConfidence ограничивает уверенность диапазоном [0,1]
func ClampConfidence(c float64) float64 {
	return clampConfidence(c)
}

// Float возвращает указатель на копию значения
func Float(v float64) *float64 {
	return &v
}

// RiskVerdict результат проверки риск-гейтом
type RiskVerdict struct {
	Approved       bool     `json:"approved"`
	AdjustedAmount float64  `json:"adjusted_amount"`
	StopLossPrice  *float64 `json:"stop_loss_price,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// ContentBlock элемент содержимого хода диалога
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock создает текстовый блок
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ConversationTurn один ход диалога с оракулом
type ConversationTurn struct {
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// Replayable ход пригоден для повторной отправки оракулу
func (t ConversationTurn) Replayable() bool {
	return t.Role != "" && len(t.Content) > 0
}

// Text склеивает текстовые блоки хода
func (t ConversationTurn) Text() string {
	var s string
	for _, b := range t.Content {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// AuditEntry запись цепочки аудита
type AuditEntry struct {
	Timestamp  string  `json:"timestamp"`
	Action     string  `json:"action"`
	Pair       string  `json:"pair"`
	Amount     float64 `json:"amount"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	PrevHash   string  `json:"prev_hash"`
	Hash       string  `json:"hash"`
}

// AssetBalance баланс одного актива
type AssetBalance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Value  float64 `json:"value_usdt"`
}

// Total free + locked
func (b AssetBalance) Total() float64 {
	return b.Free + b.Locked
}

// PortfolioSnapshot снимок портфеля на момент запроса
type PortfolioSnapshot struct {
	Balances      map[string]AssetBalance `json:"balances"`
	TotalValue    float64                 `json:"total_value_usdt"`
	CashValue     float64                 `json:"cash_usdt"`
	OpenPositions int                     `json:"open_positions"`
	TakenAt       time.Time               `json:"taken_at"`
}

// Bar одна свеча
type Bar struct {
	OpenTime    time.Time `json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	CloseTime   time.Time `json:"close_time"`
	QuoteVolume float64   `json:"quote_volume"`
	Trades      int64     `json:"trades"`
}

// ExecutionResult результат торговой операции. Ошибки биржи
// возвращаются значением, а не error.
type ExecutionResult struct {
	Status      string    `json:"status"`
	OrderID     string    `json:"order_id,omitempty"`
	Pair        string    `json:"symbol,omitempty"`
	Side        Action    `json:"side,omitempty"`
	ExecutedQty float64   `json:"executed_qty,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Message     string    `json:"message,omitempty"`
	ExecutedAt  time.Time `json:"executed_at,omitempty"`
}

// OK true если операция успешна
func (r ExecutionResult) OK() bool {
	return r.Status == ExecStatusSuccess
}

// Filled true если ордер принят и хотя бы частично исполнен.
// Лимитный ордер в стакане (NEW) успешен, но не исполнен.
func (r ExecutionResult) Filled() bool {
	return r.OK() && r.ExecutedQty > 0
}

// ExecError создает неуспешный результат
func ExecError(format string, v ...any) ExecutionResult {
	return ExecutionResult{Status: ExecStatusError, Message: fmt.Sprintf(format, v...)}
}

// CycleRecord итог одного цикла для зеркала в БД
type CycleRecord struct {
	ID         int64     `db:"id"`
	CycleID    string    `db:"cycle_id"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Mode       string    `db:"mode"`
	Action     string    `db:"action"`
	Pair       string    `db:"pair"`
	Amount     float64   `db:"amount"`
	Confidence float64   `db:"confidence"`
	Outcome    string    `db:"outcome"`
	Approved   bool      `db:"approved"`
	Executed   bool      `db:"executed"`
	AuditHash  string    `db:"audit_hash"`
	Error      string    `db:"error"`
}

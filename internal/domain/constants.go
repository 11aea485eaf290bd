package domain

// Action торговое действие решения
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid сообщает, является ли значение одним из известных действий
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// Outcome как было получено решение
type Outcome string

const (
	OutcomeOK                  Outcome = "ok"
	OutcomeDegraded            Outcome = "degraded"
	OutcomeTurnLimit           Outcome = "turn_limit"
	OutcomeMalformed           Outcome = "malformed"
	OutcomeProviderUnavailable Outcome = "provider_unavailable"
	OutcomeRejected            Outcome = "rejected"
)

// Order types
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Execution statuses
const (
	ExecStatusSuccess = "success"
	ExecStatusError   = "error"
)

// Run modes
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// GenesisHash предыдущий хеш первой записи цепочки
const GenesisHash = "genesis"

// Stablecoins учитываются как кэш при расчете портфеля
var Stablecoins = map[string]bool{
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"FDUSD": true,
	"DAI":   true,
}

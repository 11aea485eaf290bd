package agent

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kirillm/crystalbot/internal/domain"
)

const defaultConfidence = 0.5

// terminalDecision строит решение из финального текста оракула.
// Порядок: JSON с полем action -> последнее торговое предложение цикла -> HOLD.
// Нераспознанный финальный JSON всегда дает HOLD, предложение при этом не исполняется.
func terminalDecision(text string, proposal *domain.Decision) domain.Decision {
	text = strings.TrimSpace(text)
	obj, attempted := extractDecisionJSON(text)

	if obj.Exists() {
		if d, ok := decisionFromJSON(obj, text, proposal); ok {
			return d
		}
		attempted = true
	}

	if attempted {
		return domain.Hold(text, defaultConfidence, domain.OutcomeMalformed)
	}

	if proposal != nil {
		d := proposal.WithReasoning(text)
		if d.Reasoning == "" {
			d.Reasoning = proposal.Reasoning
		}
		d.Outcome = domain.OutcomeOK
		return d
	}

	return domain.Hold(text, defaultConfidence, domain.OutcomeOK)
}

func decisionFromJSON(obj gjson.Result, text string, proposal *domain.Decision) (domain.Decision, bool) {
	action := domain.Action(strings.ToUpper(strings.TrimSpace(obj.Get("action").String())))
	if !action.Valid() {
		return domain.Decision{}, false
	}

	confidence := defaultConfidence
	if c := obj.Get("confidence"); c.Exists() && c.Type == gjson.Number {
		confidence = domain.ClampConfidence(c.Float())
	}

	reasoning := text
	if r := strings.TrimSpace(obj.Get("reasoning").String()); r != "" && !strings.Contains(text, r) {
		reasoning = strings.TrimSpace(text + "\n" + r)
	}

	if action == domain.ActionHold {
		return domain.Hold(reasoning, confidence, domain.OutcomeOK), true
	}

	d := domain.Decision{
		Action:     action,
		Pair:       normalizePair(obj.Get("pair").String()),
		Amount:     obj.Get("amount").Float(),
		Price:      optionalFloat(obj.Get("price")),
		StopLoss:   optionalFloat(obj.Get("stop_loss")),
		TakeProfit: optionalFloat(obj.Get("take_profit")),
		Reasoning:  reasoning,
		Confidence: confidence,
		Outcome:    domain.OutcomeOK,
	}

	// неполный финальный ответ дополняется предложением того же направления
	if proposal != nil && proposal.Action == action {
		if d.Pair == "" {
			d.Pair = proposal.Pair
		}
		if d.Amount <= 0 && d.Pair == proposal.Pair {
			d.Amount = proposal.Amount
			if d.Price == nil {
				d.Price = proposal.Price
			}
		}
	}

	if d.Pair == "" || d.Amount <= 0 {
		return domain.Decision{}, false
	}
	return d, true
}

func optionalFloat(r gjson.Result) *float64 {
	if r.Type != gjson.Number || r.Float() <= 0 {
		return nil
	}
	return domain.Float(r.Float())
}

// extractDecisionJSON ищет JSON объект с полем action: сначала в блоке
// ```json```, затем последний сбалансированный объект в тексте.
// attempted = в тексте был объект с action, но разобрать его не удалось.
func extractDecisionJSON(text string) (gjson.Result, bool) {
	attempted := false
	candidates := append([]string{extractJSON(text)}, jsonObjects(text)...)

	var found gjson.Result
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if !strings.HasPrefix(c, "{") {
			continue
		}
		if !gjson.Valid(c) {
			if strings.Contains(c, `"action"`) {
				attempted = true
			}
			continue
		}
		if obj := gjson.Parse(c); obj.Get("action").Exists() {
			found = obj
		}
	}
	if found.Exists() {
		return found, false
	}
	return gjson.Result{}, attempted
}

// extractJSON извлекает содержимое первого блока ```...```
func extractJSON(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	body := text[start+3:]
	body = strings.TrimPrefix(body, "json")
	end := strings.Index(body, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(body[:end])
}

// jsonObjects сбалансированные объекты верхнего уровня в тексте, с учетом строк
func jsonObjects(text string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

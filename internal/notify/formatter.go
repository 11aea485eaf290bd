package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/crystalbot/internal/domain"
)

const (
	maxReasonLength  = 200
	maxMessageLength = 4096
)

var actionEmoji = map[domain.Action]string{
	domain.ActionBuy:  "🟢",
	domain.ActionSell: "🔴",
	domain.ActionHold: "⏸️",
}

// escape экранирует свободный текст (ответ модели, ошибки биржи), иначе
// непарный _ или * ломает разбор Markdown и сообщение не доставляется
func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// FormatEvent текст уведомления в Markdown
func FormatEvent(e Event) string {
	var sb strings.Builder

	switch e.Kind {
	case KindError:
		sb.WriteString("⚠️ *Error*\n```")
		sb.WriteString(strings.ReplaceAll(e.Summary, "`", "'"))
		sb.WriteString("```")
		return sb.String()
	case KindDegraded:
		sb.WriteString("⚠️ *Degraded cycle*\n")
	case KindRejected:
		sb.WriteString("🛡️ *Rejected by risk gate*\n")
	}

	if d := e.Decision; d != nil {
		emoji, ok := actionEmoji[d.Action]
		if !ok {
			emoji = "❓"
		}
		title := string(d.Action)
		if d.Pair != "" {
			title += " " + d.Pair
		}
		sb.WriteString(fmt.Sprintf("%s *%s*\n", emoji, escape(title)))
		sb.WriteString(fmt.Sprintf("Amount: `%s`\n", formatAmount(d.Amount)))
		sb.WriteString(fmt.Sprintf("Confidence: `%.2f`\n", d.Confidence))
		if d.StopLoss != nil {
			sb.WriteString(fmt.Sprintf("Stop-loss: `%s`\n", formatAmount(*d.StopLoss)))
		}
		sb.WriteString(fmt.Sprintf("Reason: %s\n", escape(truncate(d.Reasoning, maxReasonLength))))
	} else if e.Summary != "" {
		sb.WriteString(escape(e.Summary))
		sb.WriteString("\n")
	}

	if r := e.Execution; r != nil {
		if r.OK() {
			sb.WriteString(fmt.Sprintf("✅ Order `%s`: %s @ %s\n", r.OrderID, formatAmount(r.ExecutedQty), formatAmount(r.Price)))
		} else {
			sb.WriteString(fmt.Sprintf("❌ Order failed: %s\n", escape(r.Message)))
		}
	}

	if e.AuditHash != "" {
		sb.WriteString(fmt.Sprintf("Audit: `%s`\n", shortHash(e.AuditHash)))
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatAmount(v float64) string {
	if v != 0 && v < 1 && v > -1 {
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", v), "0"), ".")
	}
	return fmt.Sprintf("%.2f", v)
}

// truncate обрезает по рунам, чтобы не ломать UTF-8
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}

// splitMessage разбивает длинное сообщение на части по строкам
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		for len(line) > maxLength {
			if currentMessage != "" {
				messages = append(messages, currentMessage)
				currentMessage = ""
			}
			messages = append(messages, line[:maxLength])
			line = line[maxLength:]
		}
		if currentMessage != "" && len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}

package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/crystalbot/internal/domain"
)

const dateLayout = "2006-01-02"

// Source журнал, из которого строятся отчеты
type Source interface {
	History(pair string, limit int) ([]domain.AuditEntry, error)
	FindByHash(hash string) (domain.AuditEntry, error)
	Verify() (bool, error)
}

// Generator читаемые отчеты по журналу аудита
type Generator struct {
	src   Source
	nowFn func() time.Time
}

func NewGenerator(src Source) *Generator {
	return &Generator{src: src, nowFn: time.Now}
}

// Daily отчет за день (UTC). Пустая дата = сегодня.
func (g *Generator) Daily(date string) (string, error) {
	if date == "" {
		date = g.nowFn().UTC().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", fmt.Errorf("date %q: %w", date, domain.ErrInvalidInput)
	}

	history, err := g.src.History("", 0)
	if err != nil {
		return "", err
	}

	var day []domain.AuditEntry
	for _, e := range history {
		if strings.HasPrefix(e.Timestamp, date) {
			day = append(day, e)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Trading Report - %s\n\n", date)
	if len(day) == 0 {
		sb.WriteString("No trades today.")
		return sb.String(), nil
	}

	var trades []domain.AuditEntry
	for _, e := range day {
		if e.Action != string(domain.ActionHold) {
			trades = append(trades, e)
		}
	}

	fmt.Fprintf(&sb, "**Total decisions:** %d\n\n", len(day))
	fmt.Fprintf(&sb, "**Trade decisions:** %d\n", len(trades))
	fmt.Fprintf(&sb, "**Hold decisions:** %d\n\n", len(day)-len(trades))

	if len(trades) > 0 {
		sb.WriteString("## Trades\n\n")
		for _, t := range trades {
			fmt.Fprintf(&sb, "### %s %s\n", t.Action, t.Pair)
			fmt.Fprintf(&sb, "- **Time:** %s\n", t.Timestamp)
			fmt.Fprintf(&sb, "- **Amount:** %s\n", formatNumber(t.Amount))
			fmt.Fprintf(&sb, "- **Confidence:** %s\n", formatNumber(t.Confidence))
			fmt.Fprintf(&sb, "- **Reasoning:** %s\n\n", t.Reasoning)
		}
	}

	valid, err := g.src.Verify()
	if err != nil {
		return "", err
	}
	integrity := "VALID"
	if !valid {
		integrity = "BROKEN"
	}
	fmt.Fprintf(&sb, "\n---\n**Audit chain integrity:** %s\n", integrity)

	return sb.String(), nil
}

// Trade отчет по одной записи. Неизвестный хэш не ошибка, а текст.
func (g *Generator) Trade(hash string) (string, error) {
	e, err := g.src.FindByHash(hash)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Sprintf("Trade with hash %s not found.", hash), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# Trade Report\n\n")
	fmt.Fprintf(&sb, "- **Hash:** %s\n", hash)
	fmt.Fprintf(&sb, "- **Action:** %s\n", e.Action)
	fmt.Fprintf(&sb, "- **Pair:** %s\n", e.Pair)
	fmt.Fprintf(&sb, "- **Amount:** %s\n", formatNumber(e.Amount))
	fmt.Fprintf(&sb, "- **Time:** %s\n", e.Timestamp)
	fmt.Fprintf(&sb, "- **Confidence:** %s\n\n", formatNumber(e.Confidence))
	fmt.Fprintf(&sb, "## Reasoning\n\n%s\n", e.Reasoning)
	return sb.String(), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/kirillm/crystalbot/internal/domain"
)

// Event kinds
const (
	KindDecision = "decision"
	KindTrade    = "trade"
	KindRejected = "rejected"
	KindDegraded = "degraded"
	KindError    = "error"
)

// Event уведомление о результате цикла
type Event struct {
	Kind      string                  `json:"kind"`
	Summary   string                  `json:"summary"`
	CycleID   string                  `json:"cycle_id,omitempty"`
	Decision  *domain.Decision        `json:"decision,omitempty"`
	Execution *domain.ExecutionResult `json:"execution,omitempty"`
	AuditHash string                  `json:"audit_hash,omitempty"`
	At        time.Time               `json:"-"`
}

// Notifier канал доставки уведомлений. Ошибки доставки не влияют на цикл.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi рассылает событие во все каналы
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop ничего не отправляет
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

package policy

import (
	"sync"
	"time"

	"github.com/kirillm/crystalbot/pkg/utils"
)

// KillSwitch аварийная остановка исполнения. Решения продолжают
// приниматься и записываться в аудит, но ордера не отправляются.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	logger      *utils.Logger
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch(logger *utils.Logger) *KillSwitch {
	if logger == nil {
		logger = utils.Default()
	}
	return &KillSwitch{logger: logger}
}

// Activate активирует kill switch
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason

	ks.logger.Error("🚨 KILL SWITCH ACTIVATED: %s", reason)
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = false
	ks.reason = ""

	ks.logger.Info("✅ Kill switch deactivated")
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// Status возвращает состояние, причину и время активации
func (ks *KillSwitch) Status() (bool, string, time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active, ks.reason, ks.activatedAt
}

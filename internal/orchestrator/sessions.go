package orchestrator

import (
	"sync"

	"github.com/kirillm/crystalbot/internal/conversation"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// SessionRecorder направляет ходы диалога в сессию текущего цикла.
// Каждый цикл пишет в свой файл session_<id>.jsonl.
type SessionRecorder struct {
	mu     sync.Mutex
	dir    string
	store  *conversation.Store
	logger *utils.Logger
}

func NewSessionRecorder(dir string, logger *utils.Logger) *SessionRecorder {
	return &SessionRecorder{dir: dir, logger: logger}
}

// Start открывает новую сессию. Ходы предыдущей остаются в ее файле.
func (r *SessionRecorder) Start(sessionID string) error {
	store, err := conversation.New(r.dir, sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
	return nil
}

// SessionID идентификатор текущей сессии, пусто до первого Start
func (r *SessionRecorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return ""
	}
	return r.store.SessionID()
}

func (r *SessionRecorder) Append(turn domain.ConversationTurn) {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()
	if store != nil {
		store.Append(turn)
	}
}

func (r *SessionRecorder) Persist() error {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Persist()
}

// History хвост предыдущей сессии для нового цикла. До первого Start
// читается последняя сессия с диска, чтобы память переживала рестарт.
func (r *SessionRecorder) History(limit int) []domain.ConversationTurn {
	if limit <= 0 {
		return nil
	}

	r.mu.Lock()
	store := r.store
	r.mu.Unlock()

	var turns []domain.ConversationTurn
	if store != nil {
		turns = store.Replayable()
	} else {
		ids, err := conversation.ListSessions(r.dir)
		if err != nil || len(ids) == 0 {
			return nil
		}
		last := ids[len(ids)-1]
		turns, err = conversation.Load(r.dir, last)
		if err != nil {
			r.logger.Warn("⚠️  Failed to resume session %s: %v", last, err)
			return nil
		}
		r.logger.Info("💬 Resumed %d turn(s) from session %s", len(turns), last)
	}
	return historyTail(turns, limit)
}

// historyTail обрезает историю по границам, которые оракул примет:
// конец на ответе ассистента без вызова инструментов, начало на
// пользовательском тексте, а не на результате инструмента.
func historyTail(turns []domain.ConversationTurn, limit int) []domain.ConversationTurn {
	end := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleAssistant && !hasBlock(turns[i], domain.BlockToolUse) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}
	turns = turns[:end+1]

	start := 0
	if len(turns) > limit {
		start = len(turns) - limit
	}
	for start < len(turns) && (turns[start].Role != domain.RoleUser || hasBlock(turns[start], domain.BlockToolResult)) {
		start++
	}

	out := make([]domain.ConversationTurn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

func hasBlock(t domain.ConversationTurn, blockType string) bool {
	for _, b := range t.Content {
		if b.Type == blockType {
			return true
		}
	}
	return false
}

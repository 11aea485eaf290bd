package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/crystalbot/internal/domain"
)

const sessionIDLayout = "20060102_150405"

// NewSessionID идентификатор сессии из времени старта цикла
func NewSessionID(t time.Time) string {
	return t.UTC().Format(sessionIDLayout)
}

// record строка файла сессии
type record struct {
	Timestamp time.Time             `json:"timestamp"`
	Role      string                `json:"role,omitempty"`
	Content   []domain.ContentBlock `json:"content,omitempty"`
}

// Store упорядоченная история диалога одной сессии с дозаписью в JSONL
type Store struct {
	mu        sync.Mutex
	dir       string
	sessionID string
	turns     []domain.ConversationTurn
	flushed   int
	nowFn     func() time.Time
}

// New создает хранилище для сессии sessionID в каталоге dir
func New(dir, sessionID string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{
		dir:       dir,
		sessionID: sessionID,
		nowFn:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SessionID текущий идентификатор
func (s *Store) SessionID() string { return s.sessionID }

// Path путь к файлу текущей сессии
func (s *Store) Path() string { return sessionPath(s.dir, s.sessionID) }

func sessionPath(dir, id string) string {
	return filepath.Join(dir, "session_"+id+".jsonl")
}

// Append добавляет ход. Пустая метка времени заполняется текущим временем.
func (s *Store) Append(turn domain.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.nowFn()
	}
	s.turns = append(s.turns, turn)
}

// Snapshot копия всех ходов
func (s *Store) Snapshot() []domain.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Replayable ходы, пригодные для отправки оракулу
func (s *Store) Replayable() []domain.ConversationTurn {
	return filterReplayable(s.Snapshot())
}

// Persist дописывает в файл ходы, еще не сохраненные ранее
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flushed >= len(s.turns) {
		return nil
	}

	f, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, turn := range s.turns[s.flushed:] {
		line, err := json.Marshal(record{Timestamp: turn.Timestamp, Role: turn.Role, Content: turn.Content})
		if err != nil {
			return fmt.Errorf("encode turn: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session file: %w", err)
	}

	s.flushed = len(s.turns)
	return nil
}

// Resume загружает ранее сохраненную сессию и делает ее текущей.
// Строки без role или content молча отбрасываются.
func (s *Store) Resume(sessionID string) ([]domain.ConversationTurn, error) {
	turns, err := Load(s.dir, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.turns = turns
	// загруженные ходы уже лежат в файле
	s.flushed = len(turns)

	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// Load читает сессию из файла без привязки к хранилищу
func Load(dir, sessionID string) ([]domain.ConversationTurn, error) {
	f, err := os.Open(sessionPath(dir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", sessionID, err)
	}
	defer f.Close()

	var turns []domain.ConversationTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		turn := domain.ConversationTurn{Role: r.Role, Content: r.Content, Timestamp: r.Timestamp}
		if turn.Replayable() {
			turns = append(turns, turn)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return turns, nil
}

// ListSessions идентификаторы всех сессий в каталоге, по возрастанию
func ListSessions(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "session_*.jsonl"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(base, "session_"), ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

func filterReplayable(turns []domain.ConversationTurn) []domain.ConversationTurn {
	out := make([]domain.ConversationTurn, 0, len(turns))
	for _, t := range turns {
		if t.Replayable() {
			out = append(out, t)
		}
	}
	return out
}

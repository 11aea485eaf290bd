package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// FileName имя журнала внутри каталога данных
const FileName = "audit.jsonl"

// requiredFields поля, без которых запись считается поврежденной
var requiredFields = []string{"timestamp", "action", "pair", "amount", "reasoning", "confidence", "prev_hash", "hash"}

// Mirror вторичная копия записей (например, PostgreSQL). Ошибки зеркала не
// влияют на цепочку.
type Mirror interface {
	SaveAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}

// Chain неизменяемый журнал решений, связанный хешами.
// Писатель один: Append сериализован мьютексом.
type Chain struct {
	mu     sync.Mutex
	path   string
	head   string
	nowFn  func() time.Time
	mirror Mirror
	logger *utils.Logger
}

// Option настройка цепочки
type Option func(*Chain)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.nowFn = now }
}

// WithMirror дублирует каждую запись во вторичное хранилище
func WithMirror(m Mirror) Option {
	return func(c *Chain) { c.mirror = m }
}

// WithLogger задает логгер
func WithLogger(l *utils.Logger) Option {
	return func(c *Chain) { c.logger = l }
}

// Open открывает журнал в dir. Голова цепочки восстанавливается по последней
// строке файла без чтения всей истории.
func Open(dir string, opts ...Option) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", errors.Join(domain.ErrAuditWrite, err))
	}

	c := &Chain{
		path:   filepath.Join(dir, FileName),
		nowFn:  func() time.Time { return time.Now().UTC() },
		logger: utils.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	head, err := readHead(c.path)
	if err != nil {
		return nil, err
	}
	c.head = head
	return c, nil
}

// Path путь к файлу журнала
func (c *Chain) Path() string { return c.path }

// Head текущий хеш головы цепочки
func (c *Chain) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Append записывает решение и продвигает голову. Ошибка записи оборачивает
// domain.ErrAuditWrite, голова при этом не меняется.
func (c *Chain) Append(ctx context.Context, d domain.Decision) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := domain.AuditEntry{
		Timestamp:  c.nowFn().UTC().Format(time.RFC3339Nano),
		Action:     string(d.Action),
		Pair:       d.Pair,
		Amount:     d.Amount,
		Reasoning:  d.Reasoning,
		Confidence: d.Confidence,
		PrevHash:   c.head,
	}

	fields, err := entryFields(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	hash, err := hashFields(fields)
	if err != nil {
		return "", fmt.Errorf("hash audit entry: %w", err)
	}
	entry.Hash = hash
	fields["hash"] = mustRaw(hash)

	line, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}

	if err := appendLine(c.path, line); err != nil {
		return "", fmt.Errorf("append %s: %w", c.path, errors.Join(domain.ErrAuditWrite, err))
	}
	c.head = hash

	if c.mirror != nil {
		if err := c.mirror.SaveAuditEntry(ctx, entry); err != nil {
			c.logger.Warn("⚠️  Failed to mirror audit entry %s: %v", hash[:12], err)
		}
	}

	return hash, nil
}

// VerifyReport подробный результат проверки
type VerifyReport struct {
	Valid       bool
	Entries     int
	BrokenIndex int // -1 если цепочка цела
	Reason      string
}

// Verify проходит весь журнал от genesis. Пустой журнал валиден.
func (c *Chain) Verify() (bool, error) {
	r, err := c.VerifyDetailed()
	if err != nil {
		return false, err
	}
	return r.Valid, nil
}

// VerifyDetailed как Verify, но сообщает индекс первой поврежденной записи
func (c *Chain) VerifyDetailed() (VerifyReport, error) {
	report := VerifyReport{Valid: true, BrokenIndex: -1}

	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	prev := domain.GenesisHash
	idx := 0
	err = scanLines(f, func(line []byte) bool {
		if reason := verifyLine(line, prev); reason != "" {
			report = VerifyReport{Valid: false, Entries: idx, BrokenIndex: idx, Reason: reason}
			return false
		}
		prev = gjson.GetBytes(line, "hash").String()
		idx++
		return true
	})
	if err != nil {
		return report, fmt.Errorf("read audit log: %w", err)
	}
	if report.Valid {
		report.Entries = idx
	}
	return report, nil
}

func verifyLine(line []byte, prev string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return fmt.Sprintf("invalid json: %v", err)
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return fmt.Sprintf("missing field %q", name)
		}
	}

	var stored, prevHash string
	if err := json.Unmarshal(fields["hash"], &stored); err != nil {
		return "hash is not a string"
	}
	if err := json.Unmarshal(fields["prev_hash"], &prevHash); err != nil {
		return "prev_hash is not a string"
	}
	if prevHash != prev {
		return fmt.Sprintf("prev_hash mismatch: want %s, got %s", prev, prevHash)
	}

	delete(fields, "hash")
	computed, err := hashFields(fields)
	if err != nil {
		return fmt.Sprintf("hash: %v", err)
	}
	if computed != stored {
		return "hash mismatch"
	}
	return ""
}

// History последние limit записей в хронологическом порядке,
// с фильтром по паре если он задан. limit <= 0 значит без ограничения.
func (c *Chain) History(pair string, limit int) ([]domain.AuditEntry, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []domain.AuditEntry
	err = scanLines(f, func(line []byte) bool {
		var e domain.AuditEntry
		if json.Unmarshal(line, &e) != nil {
			return true
		}
		if pair == "" || e.Pair == pair {
			entries = append(entries, e)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// FindByHash ищет запись по ее хешу
func (c *Chain) FindByHash(hash string) (domain.AuditEntry, error) {
	entries, err := c.History("", 0)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	for _, e := range entries {
		if e.Hash == hash {
			return e, nil
		}
	}
	return domain.AuditEntry{}, fmt.Errorf("audit entry %s: %w", hash, domain.ErrNotFound)
}

func entryFields(e domain.AuditEntry) (map[string]json.RawMessage, error) {
	values := map[string]any{
		"timestamp":  e.Timestamp,
		"action":     e.Action,
		"pair":       e.Pair,
		"amount":     e.Amount,
		"reasoning":  e.Reasoning,
		"confidence": e.Confidence,
		"prev_hash":  e.PrevHash,
	}
	fields := make(map[string]json.RawMessage, len(values)+1)
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = raw
	}
	return fields, nil
}

// hashFields SHA-256 от канонической формы: ключи по алфавиту, компактный JSON.
// encoding/json сортирует ключи map при сериализации.
func hashFields(fields map[string]json.RawMessage) (string, error) {
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func mustRaw(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func scanLines(r io.Reader, fn func(line []byte) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
	return scanner.Err()
}

// readHead читает хвост файла блоками с конца до первой полной строки
func readHead(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat audit log: %w", err)
	}

	size := info.Size()
	chunk := int64(4096)
	for {
		if chunk > size {
			chunk = size
		}
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, size-chunk); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read audit log tail: %w", err)
		}

		trimmed := bytes.TrimRight(buf, "\r\n\t ")
		if len(trimmed) == 0 {
			if chunk == size {
				return domain.GenesisHash, nil
			}
			chunk *= 2
			continue
		}

		nl := bytes.LastIndexByte(trimmed, '\n')
		if nl < 0 && chunk < size {
			chunk *= 2
			continue
		}
		last := trimmed[nl+1:]

		hash := gjson.GetBytes(last, "hash")
		if !hash.Exists() || hash.String() == "" {
			return "", fmt.Errorf("last audit entry has no hash: %w", domain.ErrChainIntegrity)
		}
		return hash.String(), nil
	}
}

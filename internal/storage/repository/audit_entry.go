package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/crystalbot/internal/domain"
)

// AuditEntryRepository копия цепочки аудита в БД
type AuditEntryRepository struct {
	db *sql.DB
}

// NewAuditEntryRepository создает новый репозиторий
func NewAuditEntryRepository(db *sql.DB) *AuditEntryRepository {
	return &AuditEntryRepository{db: db}
}

// Save сохраняет запись. Повтор по тому же hash игнорируется.
func (r *AuditEntryRepository) Save(ctx context.Context, e domain.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (hash, prev_hash, timestamp, action, pair, amount, reasoning, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hash) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		e.Hash,
		e.PrevHash,
		e.Timestamp,
		e.Action,
		e.Pair,
		e.Amount,
		e.Reasoning,
		e.Confidence,
	)
	return err
}

// GetByHash получает запись по хэшу
func (r *AuditEntryRepository) GetByHash(ctx context.Context, hash string) (*domain.AuditEntry, error) {
	query := `
		SELECT hash, prev_hash, timestamp, action, pair, amount, reasoning, confidence
		FROM audit_entries
		WHERE hash = $1
	`
	var e domain.AuditEntry
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&e.Hash,
		&e.PrevHash,
		&e.Timestamp,
		&e.Action,
		&e.Pair,
		&e.Amount,
		&e.Reasoning,
		&e.Confidence,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

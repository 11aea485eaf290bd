package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/crystalbot/internal/domain"
)

// CycleRepository итоги циклов
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository создает новый репозиторий
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

// Save сохраняет итог цикла
func (r *CycleRepository) Save(ctx context.Context, c *domain.CycleRecord) error {
	query := `
		INSERT INTO cycles (cycle_id, started_at, finished_at, mode, action, pair, amount, confidence, outcome, approved, executed, audit_hash, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		c.CycleID,
		c.StartedAt,
		c.FinishedAt,
		c.Mode,
		c.Action,
		c.Pair,
		c.Amount,
		c.Confidence,
		c.Outcome,
		c.Approved,
		c.Executed,
		c.AuditHash,
		c.Error,
	).Scan(&c.ID)
}

// GetRecent получает последние N циклов
func (r *CycleRepository) GetRecent(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	query := `
		SELECT id, cycle_id, started_at, finished_at, mode, action, pair, amount, confidence, outcome, approved, executed, audit_hash, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []domain.CycleRecord
	for rows.Next() {
		var c domain.CycleRecord
		err := rows.Scan(
			&c.ID,
			&c.CycleID,
			&c.StartedAt,
			&c.FinishedAt,
			&c.Mode,
			&c.Action,
			&c.Pair,
			&c.Amount,
			&c.Confidence,
			&c.Outcome,
			&c.Approved,
			&c.Executed,
			&c.AuditHash,
			&c.Error,
		)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}

	return cycles, rows.Err()
}

// GetStats количество циклов по исходу
func (r *CycleRepository) GetStats(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT outcome, COUNT(*) as count
		FROM cycles
		GROUP BY outcome
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		stats[outcome] = count
	}

	return stats, rows.Err()
}

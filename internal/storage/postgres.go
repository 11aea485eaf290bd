package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/storage/repository"
)

// PostgresStorage зеркало журнала аудита и итогов циклов в PostgreSQL.
// Источник истины остается audit.jsonl.
type PostgresStorage struct {
	db      *sql.DB
	entries *repository.AuditEntryRepository
	cycles  *repository.CycleRepository
}

var _ domain.AuditMirrorRepository = (*PostgresStorage)(nil)

func NewPostgresStorage(ctx context.Context, url string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &PostgresStorage{
		db:      db,
		entries: repository.NewAuditEntryRepository(db),
		cycles:  repository.NewCycleRepository(db),
	}

	if err := storage.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			hash CHAR(64) NOT NULL UNIQUE,
			prev_hash VARCHAR(64) NOT NULL,
			timestamp VARCHAR(40) NOT NULL,
			action VARCHAR(10) NOT NULL,
			pair VARCHAR(20) NOT NULL DEFAULT '',
			amount DECIMAL(28, 8) NOT NULL DEFAULT 0,
			reasoning TEXT,
			confidence NUMERIC(4,3),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id BIGSERIAL PRIMARY KEY,
			cycle_id VARCHAR(36) NOT NULL UNIQUE,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			mode VARCHAR(10) NOT NULL,
			action VARCHAR(10) NOT NULL,
			pair VARCHAR(20) NOT NULL DEFAULT '',
			amount DECIMAL(28, 8) NOT NULL DEFAULT 0,
			confidence NUMERIC(4,3),
			outcome VARCHAR(30) NOT NULL,
			approved BOOLEAN NOT NULL DEFAULT false,
			executed BOOLEAN NOT NULL DEFAULT false,
			audit_hash VARCHAR(64) NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_pair ON audit_entries(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_outcome ON cycles(outcome)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// ==================== AUDIT ====================

func (s *PostgresStorage) SaveAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	return s.entries.Save(ctx, entry)
}

func (s *PostgresStorage) GetAuditEntry(ctx context.Context, hash string) (*domain.AuditEntry, error) {
	return s.entries.GetByHash(ctx, hash)
}

// ==================== CYCLES ====================

func (s *PostgresStorage) SaveCycle(ctx context.Context, record *domain.CycleRecord) error {
	return s.cycles.Save(ctx, record)
}

func (s *PostgresStorage) GetRecentCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error) {
	return s.cycles.GetRecent(ctx, limit)
}

func (s *PostgresStorage) GetCycleStats(ctx context.Context) (map[string]int, error) {
	return s.cycles.GetStats(ctx)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

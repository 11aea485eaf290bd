package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/domain"
)

// Интеграционный тест: нужна живая БД в TEST_DATABASE_URL
func openTestStorage(t *testing.T) *PostgresStorage {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStorage(context.Background(), url, 2, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStorage_AuditEntry(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	hash := uuid.NewString() + uuid.NewString()[:28]
	entry := domain.AuditEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Action:     "BUY",
		Pair:       "BTCUSDT",
		Amount:     100,
		Reasoning:  "test",
		Confidence: 0.7,
		PrevHash:   "genesis",
		Hash:       hash,
	}
	require.NoError(t, s.SaveAuditEntry(ctx, entry))
	// повторная запись того же hash не ошибка
	require.NoError(t, s.SaveAuditEntry(ctx, entry))

	got, err := s.GetAuditEntry(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Pair)
	assert.Equal(t, "genesis", got.PrevHash)

	_, err = s.GetAuditEntry(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresStorage_Cycles(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := &domain.CycleRecord{
		CycleID:    uuid.NewString(),
		StartedAt:  time.Now().Add(time.Hour),
		FinishedAt: time.Now().Add(time.Hour + time.Second),
		Mode:       domain.ModePaper,
		Action:     "HOLD",
		Outcome:    string(domain.OutcomeDegraded),
		Error:      "oracle down",
	}
	require.NoError(t, s.SaveCycle(ctx, rec))
	assert.NotZero(t, rec.ID)

	recent, err := s.GetRecentCycles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, rec.CycleID, recent[0].CycleID)

	stats, err := s.GetCycleStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats[string(domain.OutcomeDegraded)], 1)
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/config"
	"github.com/kirillm/crystalbot/internal/conversation"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/notify"
	"github.com/kirillm/crystalbot/pkg/utils"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func dataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func seedAudit(t *testing.T, dir string) (*audit.Chain, []string) {
	t.Helper()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	chain, err := audit.Open(filepath.Join(dir, auditDir), audit.WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	var hashes []string
	for _, d := range []domain.Decision{
		{Action: domain.ActionBuy, Pair: "BTCUSDT", Amount: 250, Reasoning: "trend", Confidence: 0.7},
		{Action: domain.ActionSell, Pair: "ETHUSDT", Amount: 0.5, Reasoning: "target", Confidence: 0.6},
	} {
		h, err := chain.Append(context.Background(), d)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	return chain, hashes
}

func TestVerifyCmd(t *testing.T) {
	dir := dataDir(t)

	out, err := execute(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "VALID (0 entries)")

	chain, _ := seedAudit(t, dir)
	out, err = execute(t, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "VALID (2 entries)")

	data, err := os.ReadFile(chain.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(chain.Path(), []byte(strings.Replace(string(data), `"amount":250`, `"amount":2500`, 1)), 0o644))

	out, err = execute(t, "verify")
	assert.ErrorIs(t, err, domain.ErrChainIntegrity)
	assert.Contains(t, out, "BROKEN at entry 0")
}

func TestHistoryCmd(t *testing.T) {
	dir := dataDir(t)

	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No decisions recorded.")

	_, hashes := seedAudit(t, dir)
	out, err = execute(t, "history", "--pair", "ETHUSDT")
	require.NoError(t, err)
	assert.Contains(t, out, "SELL ETHUSDT")
	assert.Contains(t, out, "0.50000000")
	assert.Contains(t, out, hashes[1][:12])
	assert.NotContains(t, out, "BTCUSDT")
}

func TestReportCmd(t *testing.T) {
	dir := dataDir(t)
	_, hashes := seedAudit(t, dir)

	out, err := execute(t, "report", "--date", "2025-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "# Trading Report - 2025-03-01")
	assert.Contains(t, out, "**Trade decisions:** 2")

	out, err = execute(t, "report", "--hash", hashes[0])
	require.NoError(t, err)
	assert.Contains(t, out, "- **Pair:** BTCUSDT")

	_, err = execute(t, "report", "--date", "03/01/2025")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = execute(t, "report", "--date", "2025-03-01", "--hash", hashes[0])
	assert.Error(t, err)
}

func TestSessionsCmd(t *testing.T) {
	dir := dataDir(t)

	out, err := execute(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	store, err := conversation.New(filepath.Join(dir, sessionsDir), "20250301_120000")
	require.NoError(t, err)
	store.Append(domain.ConversationTurn{
		Role:      domain.RoleUser,
		Content:   []domain.ContentBlock{{Type: domain.BlockText, Text: "market update"}},
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, store.Persist())

	out, err = execute(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "20250301_120000  1 turn(s)")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "crystalbot v"+Version+"\n", out)
}

func TestRunCmd_RequiresAIKey(t *testing.T) {
	dataDir(t)
	t.Setenv("AI_API_KEY", "")

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_API_KEY is required")
}

func TestBuildNotifier(t *testing.T) {
	cfg := &config.Config{}
	n, err := buildNotifier(cfg, utils.NewLogger("error"))
	require.NoError(t, err)
	assert.Nil(t, n)

	cfg.Notify.WebhookURL = "http://127.0.0.1:1/hook"
	cfg.Schedule.NotifyTimeout = time.Second
	n, err = buildNotifier(cfg, utils.NewLogger("error"))
	require.NoError(t, err)
	require.IsType(t, notify.Multi{}, n)
	assert.Len(t, n.(notify.Multi), 1)

	cfg.Notify.DiscordURL = "http://127.0.0.1:1/discord"
	n, err = buildNotifier(cfg, utils.NewLogger("error"))
	require.NoError(t, err)
	assert.Len(t, n.(notify.Multi), 2)
}

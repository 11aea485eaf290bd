package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/config"
	"github.com/kirillm/crystalbot/internal/conversation"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/report"
	"github.com/kirillm/crystalbot/pkg/utils"
)

const (
	// Version версия бинаря
	Version = "0.3.0"

	auditDir    = "crystalbox"
	sessionsDir = "sessions"
)

// NewRootCmd корневая команда
func NewRootCmd() *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "crystalbot",
		Short: "Crystalbot - autonomous crypto trading agent",
		Long: `Crystalbot runs a periodic decision cycle: market context, a tool-calling
dialogue with the reasoning model, a hard risk gate and a hash-chained audit log
of every decision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd(&debug))
	rootCmd.AddCommand(newVerifyCmd(&debug))
	rootCmd.AddCommand(newHistoryCmd(&debug))
	rootCmd.AddCommand(newReportCmd(&debug))
	rootCmd.AddCommand(newSessionsCmd(&debug))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setup загружает конфигурацию и создает логгер процесса
func setup(debug bool) (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger := utils.NewLoggerWithFormat(level, cfg.LogFormat, os.Stderr)
	utils.SetDefault(logger)
	return cfg, logger, nil
}

func openChain(cfg *config.Config, logger *utils.Logger, opts ...audit.Option) (*audit.Chain, error) {
	opts = append([]audit.Option{audit.WithLogger(logger)}, opts...)
	return audit.Open(filepath.Join(cfg.DataDir, auditDir), opts...)
}

func newVerifyCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify integrity of the audit chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*debug)
			if err != nil {
				return err
			}
			chain, err := openChain(cfg, logger)
			if err != nil {
				return err
			}

			r, err := chain.VerifyDetailed()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !r.Valid {
				fmt.Fprintf(out, "❌ Audit chain BROKEN at entry %d: %s\n", r.BrokenIndex, r.Reason)
				return domain.ErrChainIntegrity
			}
			fmt.Fprintf(out, "✅ Audit chain VALID (%d entries)\n", r.Entries)
			return nil
		},
	}
}

func newHistoryCmd(debug *bool) *cobra.Command {
	var (
		pair  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent audited decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*debug)
			if err != nil {
				return err
			}
			chain, err := openChain(cfg, logger)
			if err != nil {
				return err
			}

			entries, err := chain.History(pair, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No decisions recorded.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-4s %-10s %14s  conf=%.2f  %s\n",
					e.Timestamp, e.Action, e.Pair, formatAmount(e.Amount), e.Confidence, shortHash(e.Hash))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "Filter by trading pair, e.g. BTCUSDT")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of entries to show (0 for all)")
	return cmd
}

func newReportCmd(debug *bool) *cobra.Command {
	var date, hash string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Daily report or a single trade report from the audit chain",
		Long: `Without flags prints today's daily report (UTC).
Example: crystalbot report --date=2025-03-01
         crystalbot report --hash=<audit hash>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*debug)
			if err != nil {
				return err
			}
			chain, err := openChain(cfg, logger)
			if err != nil {
				return err
			}

			g := report.NewGenerator(chain)
			var text string
			if hash != "" {
				text, err = g.Trade(hash)
			} else {
				text, err = g.Daily(date)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Report date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().StringVar(&hash, "hash", "", "Audit hash of a single trade")
	cmd.MarkFlagsMutuallyExclusive("date", "hash")
	return cmd
}

func newSessionsCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded conversation sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*debug)
			if err != nil {
				return err
			}

			dir := filepath.Join(cfg.DataDir, sessionsDir)
			ids, err := conversation.ListSessions(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			for _, id := range ids {
				turns, err := conversation.Load(dir, id)
				if err != nil {
					logger.Warn("⚠️  Failed to load session %s: %v", id, err)
					fmt.Fprintf(out, "%s  (unreadable)\n", id)
					continue
				}
				fmt.Fprintf(out, "%s  %d turn(s)\n", id, len(turns))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crystalbot v%s\n", Version)
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func formatAmount(v float64) string {
	if v != 0 && v < 1 && v > -1 {
		return fmt.Sprintf("%.8f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

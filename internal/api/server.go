package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillm/crystalbot/internal/audit"
	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/internal/orchestrator"
	"github.com/kirillm/crystalbot/internal/policy"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// StatusSource последний цикл планировщика
type StatusSource interface {
	LastReport() (orchestrator.CycleReport, int)
}

// AuditSource журнал решений
type AuditSource interface {
	VerifyDetailed() (audit.VerifyReport, error)
	History(pair string, limit int) ([]domain.AuditEntry, error)
	Head() string
}

// CycleStore необязательное хранилище итогов циклов
type CycleStore interface {
	GetRecentCycles(ctx context.Context, limit int) ([]domain.CycleRecord, error)
}

type Server struct {
	logger     *utils.Logger
	mode       string
	status     StatusSource
	audit      AuditSource
	killSwitch *policy.KillSwitch
	cycles     CycleStore
	port       int
	startedAt  time.Time
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type KillSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// NewServer cycles может быть nil, если PostgreSQL не настроен
func NewServer(
	logger *utils.Logger,
	mode string,
	status StatusSource,
	auditSource AuditSource,
	killSwitch *policy.KillSwitch,
	cycles CycleStore,
	port int,
) *Server {
	return &Server{
		logger:     logger,
		mode:       mode,
		status:     status,
		audit:      auditSource,
		killSwitch: killSwitch,
		cycles:     cycles,
		port:       port,
		startedAt:  time.Now(),
	}
}

// Handler маршруты сервера
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/audit/verify", s.handleVerify)
	mux.HandleFunc("/audit/history", s.handleHistory)
	mux.HandleFunc("/cycles", s.handleCycles)
	mux.HandleFunc("/killswitch", s.handleKillSwitch)
	return mux
}

// Start слушает порт до отмены ctx
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("🌐 Starting HTTP server on %s", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleStatus режим, kill switch, голова цепочки и последний цикл
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active, reason, since := s.killSwitch.Status()
	ks := map[string]interface{}{"active": active}
	if active {
		ks["reason"] = reason
		ks["since"] = since.UTC().Format(time.RFC3339)
	}

	status := map[string]interface{}{
		"mode":        s.mode,
		"kill_switch": ks,
		"audit_head":  s.audit.Head(),
		"timestamp":   time.Now().Unix(),
	}

	last, cycles := s.status.LastReport()
	status["cycles"] = cycles
	if cycles > 0 {
		cycle := map[string]interface{}{
			"id":          last.ID,
			"session_id":  last.SessionID,
			"started_at":  last.StartedAt.Format(time.RFC3339),
			"finished_at": last.FinishedAt.Format(time.RFC3339),
			"decision":    last.Decision,
			"audit_hash":  last.AuditHash,
			"degraded":    last.Degraded(),
			"executed":    last.Executed(),
		}
		if last.Err != nil {
			cycle["error"] = last.Err.Error()
		}
		status["last_cycle"] = cycle
	}

	s.sendSuccess(w, status)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := s.audit.VerifyDetailed()
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to verify audit chain: %v", err), http.StatusInternalServerError)
		return
	}

	result := map[string]interface{}{
		"valid":   report.Valid,
		"entries": report.Entries,
	}
	if !report.Valid {
		result["broken_index"] = report.BrokenIndex
		result["reason"] = report.Reason
	}
	s.sendSuccess(w, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := s.audit.History(getQueryParam(r, "pair", ""), getQueryParamInt(r, "limit", 20))
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to read audit history: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, entries)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.cycles == nil {
		s.sendError(w, "Cycle storage not configured", http.StatusServiceUnavailable)
		return
	}

	records, err := s.cycles.GetRecentCycles(r.Context(), getQueryParamInt(r, "limit", 20))
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get cycles: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, records)
}

// handleKillSwitch ручной аварийный останов исполнения
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Active {
		if req.Reason == "" {
			s.sendError(w, "Reason is required", http.StatusBadRequest)
			return
		}
		s.killSwitch.Activate(req.Reason)
	} else {
		s.killSwitch.Deactivate()
	}

	active, reason, _ := s.killSwitch.Status()
	s.sendSuccess(w, map[string]interface{}{
		"active": active,
		"reason": reason,
	})
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(Response{Success: true, Data: data}); err != nil {
		s.logger.Warn("⚠️  Failed to write response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(Response{Success: false, Error: message}); err != nil {
		s.logger.Warn("⚠️  Failed to write response: %v", err)
	}
}

func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

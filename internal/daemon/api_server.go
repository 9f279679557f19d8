package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loadout/internal/api"
	"loadout/internal/config"
	"loadout/internal/logging"
	"loadout/internal/offline"
)

const notifyTimeout = 10 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/sync", authMiddleware(token, srv.handleQueueSync))
	mux.HandleFunc("/api/queue/retry", authMiddleware(token, srv.handleQueueRetry))
	mux.HandleFunc("/api/queue/clear", authMiddleware(token, srv.handleQueueClear))
	mux.HandleFunc("/api/budget", authMiddleware(token, srv.handleBudget))
	mux.HandleFunc("/api/sessions/", authMiddleware(token, srv.handleSession))
	mux.HandleFunc("/api/notify/test", authMiddleware(token, srv.handleNotifyTest))
	mux.HandleFunc("/ws", authMiddleware(token, srv.handleWebsocket))
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		Online:        status.Online,
		QueueDBPath:   status.QueueDBPath,
		LockFilePath:  status.LockFilePath,
		QueuePending:  status.QueuePending,
		QueueDead:     status.QueueDead,
		QueueCapacity: status.QueueCapacity,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	state := strings.TrimSpace(r.URL.Query().Get("state"))
	var (
		entries []offline.Entry
		err     error
	)
	switch state {
	case "", string(offline.StatePending):
		entries, err = s.daemon.queue.Pending(r.Context())
	case string(offline.StateDead):
		entries, err = s.daemon.queue.Dead(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending, dead, err := s.daemon.queue.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := api.QueueListResponse{
		Pending:  pending,
		Dead:     dead,
		Capacity: s.daemon.queue.Capacity(),
		Entries:  make([]api.QueueEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, api.QueueEntry{
			ID:         entry.ID,
			TenantID:   entry.TenantID,
			JobID:      entry.JobID,
			SessionID:  entry.SessionID,
			EnqueuedAt: entry.EnqueuedAt,
			RetryCount: entry.RetryCount,
			State:      string(entry.State),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueueSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	outcomes, err := s.daemon.SyncNow(r.Context())
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	resp := api.QueueSyncResponse{Outcomes: make([]api.QueueSyncOutcome, 0, len(outcomes))}
	for _, outcome := range outcomes {
		wire := api.QueueSyncOutcome{EntryID: outcome.EntryID, Status: outcome.Status}
		if outcome.Err != nil {
			wire.Error = outcome.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, wire)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	revived, err := s.daemon.RetryDead(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueActionResponse{Affected: revived})
}

func (s *apiServer) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed, err := s.daemon.ClearQueue(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueActionResponse{Affected: removed})
}

func (s *apiServer) handleBudget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.daemon.guard == nil {
		s.writeError(w, http.StatusNotFound, "budget guard not configured")
		return
	}
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant"))
	if tenantID == "" {
		s.writeError(w, http.StatusBadRequest, "tenant query parameter required")
		return
	}
	stats, err := s.daemon.guard.DailyStats(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.BudgetStats{
		TenantID:       stats.TenantID,
		Period:         stats.Period,
		CostCents:      stats.CostCents,
		CallCount:      stats.Count,
		CostCapCents:   stats.CostCapCents,
		RequestCap:     stats.RequestCap,
		RemainingCents: stats.RemainingCents,
	})
}

func (s *apiServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess, err := s.daemon.sessions.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionSummary{
		ID:              sess.ID,
		TenantID:        sess.TenantID,
		JobID:           sess.JobID,
		Status:          string(sess.Status),
		StartedAt:       sess.StartedAt,
		LastActiveAt:    sess.LastActiveAt,
		VerifiedItems:   sess.VerifiedItems(),
		FramesProcessed: sess.TotalFramesProcessed,
		ItemsVerified:   sess.TotalItemsVerified,
	})
}

func (s *apiServer) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()
	sent, message, err := s.daemon.TestNotification(ctx)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, message)
		return
	}
	s.writeJSON(w, http.StatusOK, api.NotifyTestResponse{Sent: sent, Message: message})
}

func (s *apiServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	hub := s.daemon.Hub()
	hub.Register(conn)
	defer hub.Unregister(conn)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// Consumers only listen; the read loop exists to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

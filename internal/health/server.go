package health

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzhttp"
	"github.com/robalyx/reactor/internal/metrics"
	"github.com/robalyx/reactor/internal/worker/core"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Server timeouts.
const (
	ReadTimeout     = 5 * time.Second
	WriteTimeout    = 10 * time.Second
	ShutdownTimeout = 30 * time.Second
)

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerTotals reads the reaction total recorded by every process.
type LedgerTotals interface {
	TotalApplied(ctx context.Context) (int64, error)
}

// ProcessedCounter counts processed posts still retained in the queue.
type ProcessedCounter interface {
	CountProcessed(ctx context.Context) (int, error)
}

// StatusLister lists background worker heartbeats.
type StatusLister interface {
	GetAllStatuses(ctx context.Context) ([]core.Status, error)
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerSummary is a worker heartbeat as reported by GET /health.
type WorkerSummary struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Task     string    `json:"task,omitempty"`
	Healthy  bool      `json:"healthy"`
	Stale    bool      `json:"stale"`
	LastSeen time.Time `json:"last_seen"`
}

// Response is returned by GET /health. The total_* counters cover this
// process since start; the stored_* counters are read from the database and
// include work done by separately running workers.
type Response struct {
	Status          string          `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
	Uptime          string          `json:"uptime,omitempty"`
	TotalReactions  int64           `json:"total_reactions"`
	TotalPosts      int64           `json:"total_posts"`
	StoredReactions int64           `json:"stored_reactions"`
	StoredPosts     int64           `json:"stored_posts"`
	LastHealthCheck *time.Time      `json:"last_health_check,omitempty"`
	Workers         []WorkerSummary `json:"workers,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Handler serves the liveness endpoints.
type Handler struct {
	db      Pinger
	ledger  LedgerTotals
	queue   ProcessedCounter
	metrics *metrics.Accumulator
	workers StatusLister
	logger  *zap.Logger
}

// NewHandler creates the liveness router. ledger, queue and workers may be nil.
func NewHandler(
	db Pinger, ledger LedgerTotals, queue ProcessedCounter,
	acc *metrics.Accumulator, workers StatusLister, logger *zap.Logger,
) http.Handler {
	h := &Handler{
		db:      db,
		ledger:  ledger,
		queue:   queue,
		metrics: acc,
		workers: workers,
		logger:  logger.Named("health"),
	}

	router := bunrouter.New()
	router.GET("/", h.root)
	router.GET("/health", h.health)

	return gzhttp.GzipHandler(router)
}

func (h *Handler) root(w http.ResponseWriter, _ bunrouter.Request) error {
	return writeJSON(w, http.StatusOK, RootResponse{
		Message:   "Telegram Reaction Bot is running",
		Status:    "active",
		Timestamp: time.Now(),
	})
}

func (h *Handler) health(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Health endpoint reported unhealthy", zap.Error(err))
		return writeJSON(w, http.StatusInternalServerError, Response{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Error:     err.Error(),
		})
	}

	snapshot := h.metrics.Snapshot()
	resp := Response{
		Status:         "healthy",
		Timestamp:      time.Now(),
		Uptime:         snapshot.Uptime.Truncate(time.Second).String(),
		TotalReactions: snapshot.TotalReactions,
		TotalPosts:     snapshot.TotalPosts,
	}

	if !snapshot.LastHealthCheck.IsZero() {
		resp.LastHealthCheck = &snapshot.LastHealthCheck
	}

	h.addStoredTotals(ctx, &resp)

	if h.workers != nil {
		statuses, err := h.workers.GetAllStatuses(ctx)
		if err != nil {
			// Worker heartbeats are informational
			h.logger.Warn("Failed to list worker statuses", zap.Error(err))
		}

		now := time.Now()
		for _, s := range statuses {
			resp.Workers = append(resp.Workers, WorkerSummary{
				ID:       s.WorkerID,
				Type:     s.WorkerType,
				Task:     s.CurrentTask,
				Healthy:  s.IsHealthy,
				Stale:    s.IsStale(now),
				LastSeen: s.LastSeen,
			})
		}
	}

	return writeJSON(w, http.StatusOK, resp)
}

// addStoredTotals fills the database-backed counters. Failures are logged and
// leave the counters at zero.
func (h *Handler) addStoredTotals(ctx context.Context, resp *Response) {
	if h.ledger != nil {
		total, err := h.ledger.TotalApplied(ctx)
		if err != nil {
			h.logger.Warn("Failed to read stored reaction total", zap.Error(err))
		}
		resp.StoredReactions = total
	}

	if h.queue != nil {
		processed, err := h.queue.CountProcessed(ctx)
		if err != nil {
			h.logger.Warn("Failed to count processed posts", zap.Error(err))
		}
		resp.StoredPosts = int64(processed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// Server runs the liveness HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server listening on all interfaces at port.
func NewServer(port int, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + strconv.Itoa(port),
			Handler:      handler,
			ReadTimeout:  ReadTimeout,
			WriteTimeout: WriteTimeout,
		},
		logger: logger.Named("health_server"),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Health server started", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Health server forced to shutdown", zap.Error(err))
	}

	s.logger.Info("Health server stopped")
	return ctx.Err()
}

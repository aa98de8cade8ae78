package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/metrics"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Acquirer is the synchronous acquisition entry point.
type Acquirer interface {
	AcquirePrice(ctx context.Context, productID int64) (tracker.PriceObservation, error)
	AcquireAll(ctx context.Context) ([]tracker.AcquisitionResult, error)
}

// ObservationReader serves the read path.
type ObservationReader interface {
	GetProduct(ctx context.Context, id int64) (tracker.Product, error)
	ListPriceObservations(ctx context.Context, productID int64) ([]tracker.PriceObservation, error)
}

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Config controls server behavior.
type Config struct {
	// RequestTimeout bounds every request. Synchronous acquisitions drive a
	// browser, so this is measured in minutes.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator, queue and store.
type Server struct {
	router   chi.Router
	acquirer Acquirer
	queue    tracker.TaskQueue
	reader   ObservationReader
	clock    tracker.Clock
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	acquirer Acquirer,
	queue tracker.TaskQueue,
	reader ObservationReader,
	clock tracker.Clock,
	checks map[string]ReadinessCheck,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		acquirer: acquirer,
		queue:    queue,
		reader:   reader,
		clock:    clock,
		checks:   checks,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/acquisitions", s.acquireAll)
		r.Post("/tasks", s.enqueueTasks)
		r.Route("/products/{product_id}", func(r chi.Router) {
			r.Post("/acquire", s.acquireProduct)
			r.Get("/prices", s.listPrices)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) acquireProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	obs, err := s.acquirer.AcquirePrice(r.Context(), productID)
	if err != nil {
		s.writeAcquisitionError(w, productID, err)
		return
	}
	writeJSON(w, http.StatusCreated, obs)
}

type acquisitionResult struct {
	ProductID   int64                     `json:"product_id"`
	Observation *tracker.PriceObservation `json:"observation,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Kind        string                    `json:"kind,omitempty"`
}

func (s *Server) acquireAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.acquirer.AcquireAll(r.Context())
	if err != nil && results == nil {
		s.logger.Error("bulk acquisition failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bulk acquisition failed")
		return
	}
	out := make([]acquisitionResult, 0, len(results))
	for _, res := range results {
		item := acquisitionResult{ProductID: res.ProductID, Observation: res.Observation}
		if res.Err != nil {
			item.Error = res.Err.Error()
			item.Kind = tracker.ErrorKind(res.Err)
		}
		out = append(out, item)
	}
	resp := map[string]any{"results": out}
	if err != nil {
		// The run stopped early; products after the last result were not attempted.
		s.logger.Warn("bulk acquisition interrupted", zap.Int("completed", len(out)), zap.Error(err))
		resp["incomplete"] = true
		resp["kind"] = tracker.ErrorKind(err)
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	ProductIDs []int64 `json:"product_ids"`
}

func (s *Server) enqueueTasks(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.ProductIDs) == 0 {
		writeError(w, http.StatusBadRequest, "product_ids required")
		return
	}
	for _, id := range req.ProductIDs {
		if id <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid product id %d", id))
			return
		}
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	now := s.clock.Now()
	for _, id := range req.ProductIDs {
		if err := s.queue.Enqueue(queueCtx, tracker.AcquisitionTask{ProductID: id, EnqueuedAt: now}); err != nil {
			s.logger.Error("enqueue task failed", zap.Int64("product_id", id), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": len(req.ProductIDs)})
}

func (s *Server) listPrices(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}
	product, err := s.reader.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	observations, err := s.reader.ListPriceObservations(r.Context(), productID)
	if err != nil {
		s.logger.Error("list observations failed", zap.Int64("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load prices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product, "observations": observations})
}

func (s *Server) writeAcquisitionError(w http.ResponseWriter, productID int64, err error) {
	kind := tracker.ErrorKind(err)
	switch {
	case kind == tracker.KindProductNotFound:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found", "kind": kind})
	case tracker.PriceUnavailable(err):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "price unavailable", "kind": kind})
	case kind == tracker.KindCompetitorNotConfigured:
		s.logger.Error("competitor not configured", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "competitor not configured", "kind": kind})
	default:
		s.logger.Error("acquisition failed", zap.Int64("product_id", productID), zap.String("error_kind", kind), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "acquisition failed", "kind": kind})
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

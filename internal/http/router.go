package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
	"github.com/yishengjiang99/Performance-checker/internal/service/session"
)

// SessionEngine is the measurement surface the router exposes.
type SessionEngine interface {
	Start(ctx context.Context, targetID string, opts domain.SessionOptions) error
	Stop(ctx context.Context, targetID string) (*domain.RunReport, error)
	Status(targetID string) domain.SessionStatus
}

// Router wires HTTP endpoints to the session engine and stores.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	engine    SessionEngine
	history   repository.HistoryStore
	archive   repository.ReportArchive
	limiter   RateLimiter
	jwtSecret string
	health    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateLimitSessionCtrl = 30
	rateLimitRead        = 120
	healthCheckTimeout   = 2 * time.Second
)

// NewRouter assembles routes with dependencies. An empty jwtSecret disables
// authentication; archive may be nil when no report archive is configured.
func NewRouter(logger *slog.Logger, engine SessionEngine, history repository.HistoryStore, archive repository.ReportArchive, limiter RateLimiter, jwtSecret string, health func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		engine:    engine,
		history:   history,
		archive:   archive,
		limiter:   limiter,
		jwtSecret: strings.TrimSpace(jwtSecret),
		health:    health,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/v1/targets/", r.audit(r.handlerAuthRate("session", rateLimitSessionCtrl, rateWindowDefault, r.handleTargetSubroutes)))
	r.mux.HandleFunc("/v1/history/", r.audit(r.handlerAuthRate("history", rateLimitRead, rateWindowDefault, r.handleHistory)))
	r.mux.HandleFunc("/v1/reports/", r.audit(r.handlerAuthRate("reports", rateLimitRead, rateWindowDefault, r.handleReport)))
}

func (r *Router) handleTargetSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/targets/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "session" {
		r.notFound(w)
		return
	}
	r.handleSession(w, req, parts[0])
}

func (r *Router) handleSession(w http.ResponseWriter, req *http.Request, targetID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			ColdLoad bool `json:"cold_load"`
			Trace    bool `json:"trace"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		opts := domain.SessionOptions{ColdLoad: payload.ColdLoad, TraceEnabled: payload.Trace}
		if err := r.engine.Start(req.Context(), targetID, opts); err != nil {
			r.writeSessionError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"status":    "started",
			"target_id": targetID,
		})
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.engine.Status(targetID))
	case http.MethodDelete:
		report, err := r.engine.Stop(req.Context(), targetID)
		if err != nil {
			r.writeSessionError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		r.methodNotAllowed(w)
	}
}

// writeSessionError maps engine errors onto HTTP statuses. Unrecognized
// errors stay opaque 500s so inspector internals never leak to clients.
func (r *Router) writeSessionError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "target already has an active session")
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, "no active session for target")
	case errors.Is(err, session.ErrProtectedTarget):
		writeError(w, http.StatusForbidden, "target is not a measurable page")
	case errors.Is(err, session.ErrAttach), errors.Is(err, session.ErrChannelEnable):
		writeError(w, http.StatusBadGateway, "could not attach to target")
	default:
		r.logger.Error("session operation failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	// Origins arrive percent-escaped ("https%3A%2F%2F..."), so trim from the
	// escaped form before unescaping.
	raw := strings.TrimPrefix(req.URL.EscapedPath(), "/v1/history/")
	origin, err := url.PathUnescape(raw)
	if err != nil || origin == "" {
		writeError(w, http.StatusBadRequest, "origin required")
		return
	}
	reports, err := r.history.Read(req.Context(), origin)
	if err != nil {
		r.logger.Error("history read failed", "origin", origin, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read history")
		return
	}
	if reports == nil {
		reports = []domain.RunReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"origin":  origin,
		"reports": reports,
	})
}

func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	reportID := strings.TrimPrefix(req.URL.Path, "/v1/reports/")
	if reportID == "" || strings.Contains(reportID, "/") {
		r.notFound(w)
		return
	}
	if r.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "report archive not configured")
		return
	}
	report, err := r.archive.GetReportByID(req.Context(), reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("report lookup failed", "report_id", reportID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.health(ctx); err != nil {
			status = "degraded"
			components["storage"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["storage"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "subject", info.Subject)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses dynamic path segments so metric cardinality stays
// bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/targets/"):
		return "/v1/targets/{target}/session"
	case strings.HasPrefix(path, "/v1/history/"):
		return "/v1/history/{origin}"
	case strings.HasPrefix(path, "/v1/reports/"):
		return "/v1/reports/{id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

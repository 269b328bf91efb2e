// Package session implements the measurement session engine: lifecycle,
// per-target exclusivity, network event aggregation, and teardown.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/inspector"
	"github.com/yishengjiang99/Performance-checker/internal/probe"
	"github.com/yishengjiang99/Performance-checker/internal/repository"
	"github.com/yishengjiang99/Performance-checker/internal/service/report"
)

const (
	defaultTraceGrace = 2 * time.Second

	traceCategories = "devtools.timeline,disabled-by-default-devtools.timeline"
)

// liveSession is the per-target mutable state while a session runs. Owned
// by the Store; its aggregator only ever receives events for its own
// target.
type liveSession struct {
	id        string
	targetID  string
	targetURL string
	startedAt time.Time
	opts      domain.SessionOptions
	tracing   bool

	link inspector.Link
	agg  *aggregator

	state    sessionState
	pumpDone chan struct{}

	traceDone chan struct{}
	traceOnce sync.Once

	mu          sync.Mutex
	degradation []string
}

// degrade records a non-fatal step failure as a stable reason code.
func (s *liveSession) degrade(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degradation = append(s.degradation, reason)
}

func (s *liveSession) degradations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.degradation...)
}

// Engine orchestrates session start and stop against the inspector link and
// page probe, and assembles the final report.
type Engine struct {
	store      *Store
	dialer     inspector.Dialer
	probe      probe.Probe
	history    repository.HistoryStore
	archive    repository.ReportArchive
	metrics    *Metrics
	logger     *slog.Logger
	thresholds report.Thresholds
	traceGrace time.Duration

	now   func() time.Time
	newID func() string
}

// NewEngine constructs the engine. archive and metrics may be nil.
func NewEngine(store *Store, dialer inspector.Dialer, pr probe.Probe, history repository.HistoryStore, archive repository.ReportArchive, metrics *Metrics, logger *slog.Logger, traceGrace time.Duration) *Engine {
	if traceGrace <= 0 {
		traceGrace = defaultTraceGrace
	}
	if logger != nil {
		logger = logger.With("component", "session_engine")
	}
	return &Engine{
		store:      store,
		dialer:     dialer,
		probe:      pr,
		history:    history,
		archive:    archive,
		metrics:    metrics,
		logger:     logger,
		thresholds: report.DefaultThresholds(),
		traceGrace: traceGrace,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Status reports whether a target currently has a fully started session.
func (e *Engine) Status(targetID string) domain.SessionStatus {
	return domain.SessionStatus{TargetID: targetID, Active: e.store.Active(targetID)}
}

// Start attaches to the target and begins accumulating events. Only the
// attach and network channel enable steps can fail the operation; every
// later step degrades the session instead. A failed start leaves no session
// registered and no link held.
func (e *Engine) Start(ctx context.Context, targetID string, opts domain.SessionOptions) error {
	s := &liveSession{
		id:        e.newID(),
		targetID:  targetID,
		startedAt: e.now(),
		opts:      opts,
		state:     stateAttaching,
		pumpDone:  make(chan struct{}),
		traceDone: make(chan struct{}),
	}
	if err := e.store.Create(targetID, s); err != nil {
		return err
	}

	link, err := e.dialer.Attach(ctx, targetID)
	if err != nil {
		e.store.Remove(targetID)
		return fmt.Errorf("%w: %v", ErrAttach, err)
	}
	if isProtectedContext(link.Info().URL) {
		link.Detach()
		e.store.Remove(targetID)
		return fmt.Errorf("%w: %s", ErrProtectedTarget, link.Info().URL)
	}

	if _, err := link.Command(ctx, "Network.enable", nil); err != nil {
		link.Detach()
		e.store.Remove(targetID)
		return fmt.Errorf("%w: %v", ErrChannelEnable, err)
	}

	tracing := opts.TraceEnabled
	if tracing {
		if _, err := link.Command(ctx, "Tracing.start", map[string]any{
			"categories":   traceCategories,
			"transferMode": "ReportEvents",
		}); err != nil {
			tracing = false
			e.degradeStep(s, "trace_start_failed")
			e.warn("trace start failed, continuing without tracing", targetID, err)
		}
	}

	s.link = link
	s.agg = newAggregator(tracing, e.now)
	s.tracing = tracing
	s.targetURL = link.Info().URL

	if opts.ColdLoad {
		e.coldReload(ctx, s)
	}

	if err := e.probe.Start(ctx, link); err != nil {
		e.degradeStep(s, "probe_start_failed")
		e.warn("page probe unavailable, session continues without page metrics", targetID, err)
	}

	e.store.MarkActive(targetID)
	go e.pump(s)

	if e.metrics != nil {
		e.metrics.SessionsStarted.Inc()
	}
	if e.logger != nil {
		e.logger.Info("session started",
			"target_id", targetID, "session_id", s.id,
			"cold_load", opts.ColdLoad, "tracing", tracing)
	}
	return nil
}

// Stop tears the session down and assembles its report. Every step before
// teardown is best-effort; the link release and store removal always
// happen, exactly once, even if every prior step fails.
func (e *Engine) Stop(ctx context.Context, targetID string) (*domain.RunReport, error) {
	s, ok := e.store.BeginStop(targetID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	defer func() {
		s.link.Detach()
		e.store.Remove(targetID)
		if e.metrics != nil {
			e.metrics.SessionsStopped.Inc()
		}
	}()

	var page *domain.PageMetrics
	if snapshot, err := e.probe.Snapshot(ctx, s.link); err != nil {
		e.degradeStep(s, "probe_snapshot_failed")
		e.warn("probe snapshot failed, report will have null page timings", targetID, err)
	} else {
		page = snapshot
	}
	if err := e.probe.Stop(ctx, s.link); err != nil {
		e.degradeStep(s, "probe_stop_failed")
	}

	if s.tracing && s.agg.TraceFragments() == 0 {
		if _, err := s.link.Command(ctx, "Tracing.end", nil); err != nil {
			e.degradeStep(s, "trace_end_failed")
			e.warn("trace end failed", targetID, err)
		} else {
			e.awaitTrace(ctx, s)
		}
	}

	rep := report.Assemble(report.Inputs{
		ReportID:    s.id,
		TargetURL:   s.targetURL,
		GeneratedAt: e.now(),
		Options:     s.opts,
		TraceActive: s.tracing,
		Page:        page,
		Network:     s.agg.Snapshot(),
		Diagnostics: s.degradations(),
	})
	rep.Insights = report.DeriveInsights(rep, e.thresholds)

	e.persist(ctx, rep)

	if e.logger != nil {
		e.logger.Info("session stopped",
			"target_id", targetID, "session_id", s.id,
			"requests", rep.Network.RequestsTotal,
			"insights", len(rep.Insights))
	}
	return rep, nil
}

// persist appends the report to history and the archive. Failures degrade
// the already-assembled report's diagnostics list but never fail the stop.
func (e *Engine) persist(ctx context.Context, rep *domain.RunReport) {
	if e.history != nil && rep.Meta.Origin != "" {
		if err := e.history.Append(ctx, rep.Meta.Origin, rep); err != nil {
			rep.Diagnostics = append(rep.Diagnostics, "history_append_failed")
			if e.metrics != nil {
				e.metrics.Degradations.WithLabelValues("history_append_failed").Inc()
			}
			e.warn("history append failed", rep.Meta.Origin, err)
		}
	}
	if e.archive != nil {
		if err := e.archive.InsertReport(ctx, rep); err != nil {
			rep.Diagnostics = append(rep.Diagnostics, "archive_insert_failed")
			if e.metrics != nil {
				e.metrics.Degradations.WithLabelValues("archive_insert_failed").Inc()
			}
			e.warn("report archive insert failed", rep.ID, err)
		}
	}
}

// degrade records a non-fatal step failure on the session and counts it.
func (e *Engine) degradeStep(s *liveSession, reason string) {
	s.degrade(reason)
	if e.metrics != nil {
		e.metrics.Degradations.WithLabelValues(reason).Inc()
	}
}

// coldReload clears the cache and reloads bypassing it; on failure it falls
// back to a plain reload. Neither failure aborts the session. A reload that
// races with probe installation can miss a short window of early-page
// events; that limitation surfaces only through diagnostics.
func (e *Engine) coldReload(ctx context.Context, s *liveSession) {
	if _, err := s.link.Command(ctx, "Network.clearBrowserCache", nil); err == nil {
		if _, err := s.link.Command(ctx, "Page.reload", map[string]any{"ignoreCache": true}); err == nil {
			return
		}
	}
	e.degradeStep(s, "cold_reload_failed")
	if _, err := s.link.Command(ctx, "Page.reload", nil); err != nil {
		e.degradeStep(s, "cold_reload_fallback_failed")
		e.warn("both cold reload and fallback reload failed", s.targetID, err)
	}
}

// awaitTrace waits a bounded grace period for trailing trace fragments
// after requesting trace end. Elapsing is not an error: the report keeps
// whatever arrived.
func (e *Engine) awaitTrace(ctx context.Context, s *liveSession) {
	timer := time.NewTimer(e.traceGrace)
	defer timer.Stop()
	select {
	case <-s.traceDone:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// pump drains the link's event stream for the session's lifetime. When the
// stream closes without a stop in progress, the link went away externally
// and the session is force-cleaned.
func (e *Engine) pump(s *liveSession) {
	defer close(s.pumpDone)
	for ev := range s.link.Events() {
		e.dispatch(s, ev)
	}
	e.forceCleanup(s.targetID, "link_closed")
}

// dispatch routes one inspector event into the session's aggregator.
// Handlers never block and never retry; malformed payloads are dropped.
func (e *Engine) dispatch(s *liveSession, ev inspector.Event) {
	switch ev.Method {
	case "Network.requestWillBeSent":
		var p struct {
			RequestID string  `json:"requestId"`
			Timestamp float64 `json:"timestamp"`
			Type      string  `json:"type"`
			Request   struct {
				URL string `json:"url"`
			} `json:"request"`
			Initiator struct {
				Type string `json:"type"`
			} `json:"initiator"`
		}
		if json.Unmarshal(ev.Params, &p) != nil || p.RequestID == "" {
			return
		}
		s.agg.RequestInitiated(p.RequestID, p.Request.URL, p.Initiator.Type, p.Type, p.Timestamp)

	case "Network.responseReceived":
		var p struct {
			RequestID string `json:"requestId"`
			Response  struct {
				Status            int    `json:"status"`
				MimeType          string `json:"mimeType"`
				FromDiskCache     bool   `json:"fromDiskCache"`
				FromPrefetchCache bool   `json:"fromPrefetchCache"`
				FromServiceWorker bool   `json:"fromServiceWorker"`
			} `json:"response"`
		}
		if json.Unmarshal(ev.Params, &p) != nil || p.RequestID == "" {
			return
		}
		fromCache := p.Response.FromDiskCache || p.Response.FromPrefetchCache || p.Response.FromServiceWorker
		s.agg.ResponseReceived(p.RequestID, fromCache, p.Response.MimeType, p.Response.Status)

	case "Network.loadingFinished":
		var p struct {
			RequestID         string  `json:"requestId"`
			Timestamp         float64 `json:"timestamp"`
			EncodedDataLength int64   `json:"encodedDataLength"`
		}
		if json.Unmarshal(ev.Params, &p) != nil || p.RequestID == "" {
			return
		}
		s.agg.RequestFinished(p.RequestID, p.EncodedDataLength, p.Timestamp)

	case "Network.loadingFailed":
		var p struct {
			RequestID string `json:"requestId"`
			ErrorText string `json:"errorText"`
			Type      string `json:"type"`
		}
		if json.Unmarshal(ev.Params, &p) != nil || p.RequestID == "" {
			return
		}
		s.agg.RequestFailed(p.RequestID, p.ErrorText, p.Type)

	case "Tracing.dataCollected":
		s.agg.TraceData(ev.Params)

	case "Tracing.tracingComplete":
		s.agg.TraceComplete()
		s.traceOnce.Do(func() { close(s.traceDone) })

	case "Inspector.detached", "Inspector.targetCrashed", "Target.targetDestroyed":
		e.forceCleanup(s.targetID, strings.ToLower(ev.Method))

	case "Page.frameNavigated":
		var p struct {
			Frame struct {
				ParentID string `json:"parentId"`
				URL      string `json:"url"`
			} `json:"frame"`
		}
		if json.Unmarshal(ev.Params, &p) != nil {
			return
		}
		// A top-level navigation ends the session unless this session asked
		// for a cold load, in which case the reload is its own doing.
		if p.Frame.ParentID == "" && !s.opts.ColdLoad {
			e.forceCleanup(s.targetID, "navigated")
		}
	}
}

// forceCleanup releases a session whose target closed, navigated away, or
// detached externally. A stop in progress owns teardown instead.
func (e *Engine) forceCleanup(targetID, reason string) {
	s, ok := e.store.TakeForCleanup(targetID)
	if !ok {
		return
	}
	s.link.Detach()
	if e.metrics != nil {
		e.metrics.ForcedCleanups.Inc()
	}
	if e.logger != nil {
		e.logger.Warn("session force-cleaned", "target_id", targetID, "session_id", s.id, "reason", reason)
	}
}

func (e *Engine) warn(msg, subject string, err error) {
	if e.logger != nil {
		e.logger.Warn(msg, "subject", subject, "error", err)
	}
}

// isProtectedContext rejects targets the inspector may list but that are
// not measurable web pages.
func isProtectedContext(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return false
	default:
		return true
	}
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/inspector"
)

func newTestEngine(dialer inspector.Dialer, pr *testProbe, history *testHistory) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	e := NewEngine(NewStore(), dialer, pr, history, nil, nil, logger, 50*time.Millisecond)
	e.newID = func() string { return "report-1" }
	return e
}

func TestEngineStartStopProducesReport(t *testing.T) {
	link := newTestLink("https://shop.example.com/cart")
	dialer := &testDialer{link: link}
	pr := &testProbe{snapshot: &domain.PageMetrics{LCP: f64(1200), TTFB: f64(300)}}
	history := &testHistory{}
	e := newTestEngine(dialer, pr, history)

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !e.Status("tab-1").Active {
		t.Fatalf("expected active status after start")
	}
	if got := link.commandCount("Network.enable"); got != 1 {
		t.Fatalf("expected one Network.enable, got %d", got)
	}

	link.emit("Network.requestWillBeSent", `{"requestId":"r1","timestamp":10,"type":"Document","request":{"url":"https://shop.example.com/cart"},"initiator":{"type":"other"}}`)
	link.emit("Network.responseReceived", `{"requestId":"r1","response":{"status":200,"mimeType":"text/html","fromDiskCache":false}}`)
	link.emit("Network.loadingFinished", `{"requestId":"r1","timestamp":10.5,"encodedDataLength":2048}`)
	waitForRequests(t, e, "tab-1", 1)

	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rep.ID != "report-1" {
		t.Fatalf("unexpected report id %q", rep.ID)
	}
	if rep.Network.RequestsTotal != 1 || rep.Network.TransferredBytes != 2048 {
		t.Fatalf("unexpected network summary: %+v", rep.Network)
	}
	if rep.Timings.LCP == nil || *rep.Timings.LCP != 1200 {
		t.Fatalf("expected probe timings in report: %+v", rep.Timings)
	}
	if rep.Meta.Origin != "https://shop.example.com" {
		t.Fatalf("unexpected origin %q", rep.Meta.Origin)
	}
	if len(rep.Insights) == 0 {
		t.Fatalf("expected insights in report")
	}
	if link.detachCount() != 1 {
		t.Fatalf("expected exactly one detach, got %d", link.detachCount())
	}
	if e.Status("tab-1").Active {
		t.Fatalf("expected inactive status after stop")
	}
	if len(history.appends) != 1 || history.appends[0].origin != "https://shop.example.com" {
		t.Fatalf("expected history append for origin, got %+v", history.appends)
	}
}

func TestEngineRejectsSecondStart(t *testing.T) {
	link := newTestLink("https://example.com/")
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestEngineAttachFailureLeavesNothing(t *testing.T) {
	dialer := &testDialer{err: errors.New("target busy")}
	e := newTestEngine(dialer, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); !errors.Is(err, ErrAttach) {
		t.Fatalf("expected ErrAttach, got %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("failed start left a registration behind")
	}
	if _, err := e.Stop(context.Background(), "tab-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after failed start, got %v", err)
	}
}

func TestEngineRejectsProtectedTarget(t *testing.T) {
	link := newTestLink("chrome://settings/")
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); !errors.Is(err, ErrProtectedTarget) {
		t.Fatalf("expected ErrProtectedTarget, got %v", err)
	}
	if link.detachCount() != 1 {
		t.Fatalf("rejected attach must release the link, detaches=%d", link.detachCount())
	}
	if e.store.Len() != 0 {
		t.Fatalf("rejected start left a registration behind")
	}
}

func TestEngineChannelEnableFailure(t *testing.T) {
	link := newTestLink("https://example.com/")
	link.fail("Network.enable", errors.New("no such command"))
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); !errors.Is(err, ErrChannelEnable) {
		t.Fatalf("expected ErrChannelEnable, got %v", err)
	}
	if link.detachCount() != 1 {
		t.Fatalf("expected link released after enable failure, detaches=%d", link.detachCount())
	}
	if e.store.Len() != 0 {
		t.Fatalf("failed start left a registration behind")
	}
}

func TestEngineTraceStartFailureDegrades(t *testing.T) {
	link := newTestLink("https://example.com/")
	link.fail("Tracing.start", errors.New("tracing busy"))
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{TraceEnabled: true}); err != nil {
		t.Fatalf("trace failure must not fail the start: %v", err)
	}
	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if rep.Trace.Captured {
		t.Fatalf("trace must not be captured after start failure")
	}
	if !hasDiagnostic(rep, "trace_start_failed") {
		t.Fatalf("expected trace_start_failed diagnostic, got %v", rep.Diagnostics)
	}
	// Tracing.end must not be sent for a session whose trace never started.
	if got := link.commandCount("Tracing.end"); got != 0 {
		t.Fatalf("unexpected Tracing.end, count=%d", got)
	}
}

func TestEngineStopSurvivesProbeFailure(t *testing.T) {
	link := newTestLink("https://example.com/")
	pr := &testProbe{snapshotErr: errors.New("context destroyed"), stopErr: errors.New("gone")}
	e := newTestEngine(&testDialer{link: link}, pr, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop must succeed despite probe failure: %v", err)
	}
	if rep.Timings.LCP != nil || rep.Timings.TTFB != nil {
		t.Fatalf("expected null timings without a probe snapshot: %+v", rep.Timings)
	}
	if !hasDiagnostic(rep, "probe_snapshot_failed") || !hasDiagnostic(rep, "probe_stop_failed") {
		t.Fatalf("expected probe diagnostics, got %v", rep.Diagnostics)
	}
	if link.detachCount() != 1 {
		t.Fatalf("teardown must still release the link, detaches=%d", link.detachCount())
	}
	if e.store.Len() != 0 {
		t.Fatalf("teardown must still remove the session")
	}
}

func TestEngineTraceEndWaitsForCompletion(t *testing.T) {
	link := newTestLink("https://example.com/")
	fragment := `{"value":[{"name":"tick"}]}`
	link.respond("Tracing.end", func() {
		link.emit("Tracing.dataCollected", fragment)
		link.emit("Tracing.tracingComplete", `{}`)
	})
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{TraceEnabled: true}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !rep.Trace.Captured || rep.Trace.Fragments != 1 {
		t.Fatalf("expected captured trace with one fragment: %+v", rep.Trace)
	}
	if rep.Trace.SizeBytes != int64(len(fragment)) {
		t.Fatalf("unexpected trace size %d", rep.Trace.SizeBytes)
	}
}

func TestEngineForcedCleanupOnLinkLoss(t *testing.T) {
	link := newTestLink("https://example.com/")
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	link.closeEvents()
	waitForInactive(t, e, "tab-1")

	if _, err := e.Stop(context.Background(), "tab-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after forced cleanup, got %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("forced cleanup left a registration behind")
	}
}

func TestEngineForcedCleanupOnNavigation(t *testing.T) {
	link := newTestLink("https://example.com/")
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	link.emit("Page.frameNavigated", `{"frame":{"url":"https://elsewhere.example.com/"}}`)
	waitForInactive(t, e, "tab-1")

	if link.detachCount() != 1 {
		t.Fatalf("navigation cleanup must release the link, detaches=%d", link.detachCount())
	}
}

func TestEngineColdLoadSurvivesReload(t *testing.T) {
	link := newTestLink("https://example.com/")
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{ColdLoad: true}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if got := link.commandCount("Network.clearBrowserCache"); got != 1 {
		t.Fatalf("expected cache clear, got %d", got)
	}
	if got := link.commandCount("Page.reload"); got != 1 {
		t.Fatalf("expected one reload, got %d", got)
	}

	// The reload this session requested must not end it.
	link.emit("Page.frameNavigated", `{"frame":{"url":"https://example.com/"}}`)
	time.Sleep(20 * time.Millisecond)
	if !e.Status("tab-1").Active {
		t.Fatalf("cold-load session ended by its own reload")
	}

	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !rep.Meta.ColdLoad {
		t.Fatalf("expected cold_load recorded in report meta")
	}
}

func TestEngineColdLoadFallsBackOnClearFailure(t *testing.T) {
	link := newTestLink("https://example.com/")
	link.fail("Network.clearBrowserCache", errors.New("not allowed"))
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{ColdLoad: true}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !hasDiagnostic(rep, "cold_reload_failed") {
		t.Fatalf("expected cold_reload_failed diagnostic, got %v", rep.Diagnostics)
	}
	if got := link.commandCount("Page.reload"); got != 1 {
		t.Fatalf("expected fallback reload, got %d", got)
	}
}

func TestEngineTargetsAreIndependent(t *testing.T) {
	linkA := newTestLink("https://a.example.com/")
	linkB := newTestLink("https://b.example.com/")
	dialer := &multiDialer{links: map[string]*testLink{"tab-a": linkA, "tab-b": linkB}}
	e := newTestEngine(dialer, &testProbe{}, &testHistory{})

	if err := e.Start(context.Background(), "tab-a", domain.SessionOptions{}); err != nil {
		t.Fatalf("start tab-a failed: %v", err)
	}
	if err := e.Start(context.Background(), "tab-b", domain.SessionOptions{}); err != nil {
		t.Fatalf("start tab-b failed: %v", err)
	}

	linkA.emit("Network.requestWillBeSent", `{"requestId":"r1","timestamp":1,"type":"Script","request":{"url":"https://a.example.com/app.js"},"initiator":{"type":"parser"}}`)
	linkA.emit("Network.loadingFinished", `{"requestId":"r1","timestamp":1.2,"encodedDataLength":512}`)
	waitForRequests(t, e, "tab-a", 1)

	repB, err := e.Stop(context.Background(), "tab-b")
	if err != nil {
		t.Fatalf("stop tab-b failed: %v", err)
	}
	if repB.Network.RequestsTotal != 0 || repB.Network.TransferredBytes != 0 {
		t.Fatalf("tab-a events leaked into tab-b: %+v", repB.Network)
	}

	repA, err := e.Stop(context.Background(), "tab-a")
	if err != nil {
		t.Fatalf("stop tab-a failed: %v", err)
	}
	if repA.Network.RequestsTotal != 1 || repA.Network.TransferredBytes != 512 {
		t.Fatalf("unexpected tab-a network summary: %+v", repA.Network)
	}
}

func TestEngineHistoryFailureDegradesReport(t *testing.T) {
	link := newTestLink("https://example.com/")
	history := &testHistory{err: errors.New("redis down")}
	e := newTestEngine(&testDialer{link: link}, &testProbe{}, history)

	if err := e.Start(context.Background(), "tab-1", domain.SessionOptions{}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rep, err := e.Stop(context.Background(), "tab-1")
	if err != nil {
		t.Fatalf("history failure must not fail the stop: %v", err)
	}
	if !hasDiagnostic(rep, "history_append_failed") {
		t.Fatalf("expected history_append_failed diagnostic, got %v", rep.Diagnostics)
	}
}

func waitForRequests(t *testing.T, e *Engine, targetID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s, ok := e.store.Get(targetID); ok && s.agg.Snapshot().RequestsTotal >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d requests", want)
}

func waitForInactive(t *testing.T, e *Engine, targetID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.store.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for session cleanup")
}

func hasDiagnostic(rep *domain.RunReport, code string) bool {
	for _, d := range rep.Diagnostics {
		if d == code {
			return true
		}
	}
	return false
}

func f64(v float64) *float64 { return &v }

type testDialer struct {
	link *testLink
	err  error
}

func (d *testDialer) Attach(ctx context.Context, targetID string) (inspector.Link, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

type multiDialer struct {
	links map[string]*testLink
}

func (d *multiDialer) Attach(ctx context.Context, targetID string) (inspector.Link, error) {
	link, ok := d.links[targetID]
	if !ok {
		return nil, fmt.Errorf("unknown target %s", targetID)
	}
	return link, nil
}

func newTestLink(url string) *testLink {
	return &testLink{
		info:     inspector.TargetInfo{ID: "target-1", URL: url},
		events:   make(chan inspector.Event, 64),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
	}
}

type testLink struct {
	info   inspector.TargetInfo
	events chan inspector.Event

	mu       sync.Mutex
	commands []string
	failures map[string]error
	hooks    map[string]func()
	detached int
	closed   bool
}

func (l *testLink) Info() inspector.TargetInfo { return l.info }

func (l *testLink) Command(ctx context.Context, method string, params any) (json.RawMessage, error) {
	l.mu.Lock()
	l.commands = append(l.commands, method)
	err := l.failures[method]
	hook := l.hooks[method]
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if hook != nil {
		hook()
	}
	return json.RawMessage(`{}`), nil
}

func (l *testLink) Events() <-chan inspector.Event { return l.events }

func (l *testLink) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detached++
	if !l.closed {
		l.closed = true
		close(l.events)
	}
}

func (l *testLink) fail(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[method] = err
}

func (l *testLink) respond(method string, hook func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[method] = hook
}

func (l *testLink) emit(method, params string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events <- inspector.Event{Method: method, Params: json.RawMessage(params)}
}

func (l *testLink) closeEvents() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
}

func (l *testLink) commandCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.commands {
		if c == method {
			n++
		}
	}
	return n
}

func (l *testLink) detachCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detached
}

type testProbe struct {
	startErr    error
	snapshotErr error
	stopErr     error
	snapshot    *domain.PageMetrics
}

func (p *testProbe) Start(ctx context.Context, link inspector.Link) error { return p.startErr }

func (p *testProbe) Snapshot(ctx context.Context, link inspector.Link) (*domain.PageMetrics, error) {
	if p.snapshotErr != nil {
		return nil, p.snapshotErr
	}
	return p.snapshot, nil
}

func (p *testProbe) Stop(ctx context.Context, link inspector.Link) error { return p.stopErr }

type historyAppend struct {
	origin string
	report *domain.RunReport
}

type testHistory struct {
	mu      sync.Mutex
	err     error
	appends []historyAppend
}

func (h *testHistory) Append(ctx context.Context, origin string, report *domain.RunReport) error {
	if h.err != nil {
		return h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appends = append(h.appends, historyAppend{origin: origin, report: report})
	return nil
}

func (h *testHistory) Read(ctx context.Context, origin string) ([]domain.RunReport, error) {
	return nil, nil
}

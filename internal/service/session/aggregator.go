package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/yishengjiang99/Performance-checker/internal/classify"
	"github.com/yishengjiang99/Performance-checker/internal/domain"
)

// pendingRequest is the mutable in-flight record for one network request.
// Once terminal it accepts no further mutation into the totals.
type pendingRequest struct {
	url           string
	domain        string
	initiatorType string
	resourceType  string
	mimeType      string
	status        int
	start         float64
	wallStart     time.Time
	fromCache     bool
	cacheCounted  bool
	bytes         int64
	durationMS    float64
	terminal      bool
	finished      bool
}

type domainAccum struct {
	requests int
	bytes    int64
}

type typeAccum struct {
	requests int
	bytes    int64
}

// aggregator converts the unordered inspector event stream for one session
// into running network totals. It is owned exclusively by its session;
// events for other targets never reach it.
type aggregator struct {
	mu sync.Mutex

	requestsTotal    int
	cacheHits        int
	transferredBytes int64

	pending     map[string]*pendingRequest
	failures    []domain.RequestFailure
	domains     map[string]*domainAccum
	domainOrder []string
	types       map[string]*typeAccum
	typeOrder   []string
	completed   []domain.SlowRequest

	traceEnabled  bool
	traceBuffer   []json.RawMessage
	traceBytes    int64
	traceComplete bool

	now func() time.Time
}

func newAggregator(traceEnabled bool, now func() time.Time) *aggregator {
	if now == nil {
		now = time.Now
	}
	return &aggregator{
		pending:      make(map[string]*pendingRequest),
		domains:      make(map[string]*domainAccum),
		types:        make(map[string]*typeAccum),
		traceEnabled: traceEnabled,
		now:          now,
	}
}

// RequestInitiated records the start of a request. A repeated request
// identifier overwrites the previous record (redirect restart) without
// inflating the total request count.
func (a *aggregator) RequestInitiated(requestID, url, initiatorType, resourceType string, timestamp float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, restart := a.pending[requestID]; !restart {
		a.requestsTotal++
	}
	a.pending[requestID] = &pendingRequest{
		url:           url,
		domain:        classify.RegistrableHost(url),
		initiatorType: initiatorType,
		resourceType:  resourceType,
		start:         timestamp,
		wallStart:     a.now(),
	}
}

// ResponseReceived attaches response metadata to the matching request.
// Unknown identifiers are dropped: the initiation event may have been
// missed during an attach race.
func (a *aggregator) ResponseReceived(requestID string, fromCache bool, mimeType string, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[requestID]
	if !ok {
		return
	}
	p.fromCache = fromCache
	p.mimeType = mimeType
	p.status = status
	if fromCache && !p.cacheCounted {
		p.cacheCounted = true
		a.cacheHits++
	}
}

// RequestFinished marks a request complete and folds its bytes and duration
// into the rollups. A second terminal event for the same identifier never
// double-counts.
func (a *aggregator) RequestFinished(requestID string, encodedBytes int64, timestamp float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[requestID]
	if !ok || p.terminal {
		return
	}
	p.terminal = true
	p.finished = true
	p.bytes = encodedBytes

	// Prefer the source's monotonic clock; fall back to wall-clock delta
	// when either timestamp is missing.
	if timestamp > 0 && p.start > 0 {
		p.durationMS = (timestamp - p.start) * 1000
	} else {
		p.durationMS = float64(a.now().Sub(p.wallStart)) / float64(time.Millisecond)
	}
	if p.durationMS < 0 {
		p.durationMS = 0
	}

	a.transferredBytes += encodedBytes

	if p.domain != "" {
		acc, ok := a.domains[p.domain]
		if !ok {
			acc = &domainAccum{}
			a.domains[p.domain] = acc
			a.domainOrder = append(a.domainOrder, p.domain)
		}
		acc.requests++
		acc.bytes += encodedBytes
	}

	category := classify.Category(p.resourceType, p.mimeType)
	tacc, ok := a.types[category]
	if !ok {
		tacc = &typeAccum{}
		a.types[category] = tacc
		a.typeOrder = append(a.typeOrder, category)
	}
	tacc.requests++
	tacc.bytes += encodedBytes

	a.completed = append(a.completed, domain.SlowRequest{
		URL:        p.url,
		Type:       category,
		DurationMS: p.durationMS,
		Bytes:      encodedBytes,
	})
}

// RequestFailed marks a request terminal with an error. Unknown identifiers
// are dropped.
func (a *aggregator) RequestFailed(requestID, errorText, resourceTypeHint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[requestID]
	if !ok || p.terminal {
		return
	}
	p.terminal = true
	failureType := resourceTypeHint
	if failureType == "" {
		failureType = p.resourceType
	}
	a.failures = append(a.failures, domain.RequestFailure{
		URL:   p.url,
		Error: errorText,
		Type:  classify.Category(failureType, p.mimeType),
	})
}

// TraceData appends a trace fragment when tracing is enabled for the
// session.
func (a *aggregator) TraceData(fragment json.RawMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.traceEnabled {
		return
	}
	buf := make(json.RawMessage, len(fragment))
	copy(buf, fragment)
	a.traceBuffer = append(a.traceBuffer, buf)
	a.traceBytes += int64(len(fragment))
}

// TraceComplete records that the source finished flushing trace data.
func (a *aggregator) TraceComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.traceComplete = true
}

// TraceFragments reports how many fragments have arrived so far.
func (a *aggregator) TraceFragments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.traceBuffer)
}

// TraceFinished reports whether the source signalled trace completion.
func (a *aggregator) TraceFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traceComplete
}

// Snapshot produces the immutable view consumed by report assembly.
// Requests without a terminal event count toward RequestsTotal but are
// excluded from byte, type, and duration rollups.
func (a *aggregator) Snapshot() domain.NetworkSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := domain.NetworkSnapshot{
		RequestsTotal:    a.requestsTotal,
		CacheHits:        a.cacheHits,
		TransferredBytes: a.transferredBytes,
		Failures:         append([]domain.RequestFailure(nil), a.failures...),
		Completed:        append([]domain.SlowRequest(nil), a.completed...),
		TraceFragments:   len(a.traceBuffer),
		TraceBytes:       a.traceBytes,
	}
	for _, d := range a.domainOrder {
		acc := a.domains[d]
		snap.Domains = append(snap.Domains, domain.DomainStat{
			Domain:   d,
			Requests: acc.requests,
			Bytes:    acc.bytes,
		})
	}
	for _, tname := range a.typeOrder {
		acc := a.types[tname]
		snap.Types = append(snap.Types, domain.TypeStat{
			Type:     tname,
			Requests: acc.requests,
			Bytes:    acc.bytes,
		})
	}
	return snap
}

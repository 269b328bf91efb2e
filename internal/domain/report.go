package domain

import "time"

// Severity grades a finding.
type Severity string

const (
	SeverityGood             Severity = "good"
	SeverityNeedsImprovement Severity = "needs-improvement"
	SeverityPoor             Severity = "poor"
)

// Finding is one qualitative diagnostic derived from a report.
type Finding struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ReportMeta identifies the measured target and session shape.
type ReportMeta struct {
	TargetURL    string    `json:"target_url"`
	Origin       string    `json:"origin"`
	GeneratedAt  time.Time `json:"generated_at"`
	ColdLoad     bool      `json:"cold_load"`
	TraceEnabled bool      `json:"trace_enabled"`
}

// Timings holds page timing metrics in milliseconds (CLS is unitless).
// Nil means the metric was not observed, which is a valid state.
type Timings struct {
	TTFB             *float64 `json:"ttfb"`
	FCP              *float64 `json:"fcp"`
	LCP              *float64 `json:"lcp"`
	INP              *float64 `json:"inp"`
	CLS              *float64 `json:"cls"`
	DOMContentLoaded *float64 `json:"dom_content_loaded"`
	Load             *float64 `json:"load"`
}

// LongTaskStats aggregates main-thread long tasks.
type LongTaskStats struct {
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// LayoutShiftSource names one element contributing to CLS.
type LayoutShiftSource struct {
	Selector string  `json:"selector"`
	Value    float64 `json:"value"`
}

// RequestFailure records a request that terminated with an error.
type RequestFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
	Type  string `json:"type"`
}

// DomainStat rolls up completed requests by registrable domain.
type DomainStat struct {
	Domain     string `json:"domain"`
	Requests   int    `json:"requests"`
	Bytes      int64  `json:"bytes"`
	ThirdParty bool   `json:"third_party"`
}

// TypeStat rolls up completed requests by resource category.
type TypeStat struct {
	Type     string `json:"type"`
	Requests int    `json:"requests"`
	Bytes    int64  `json:"bytes"`
}

// SlowRequest is one completed request ranked by duration.
type SlowRequest struct {
	URL        string  `json:"url"`
	Type       string  `json:"type"`
	DurationMS float64 `json:"duration_ms"`
	Bytes      int64   `json:"bytes"`
}

// NetworkSummary is the network half of a report.
type NetworkSummary struct {
	RequestsTotal    int              `json:"requests_total"`
	TransferredBytes int64            `json:"transferred_bytes"`
	CacheHitRate     *float64         `json:"cache_hit_rate"`
	Failures         []RequestFailure `json:"failures"`
	ByDomain         []DomainStat     `json:"by_domain"`
	ByType           []TypeStat       `json:"by_type"`
	Slowest          []SlowRequest    `json:"slowest"`
}

// TraceSummary describes captured trace data without embedding it.
type TraceSummary struct {
	Captured  bool  `json:"captured"`
	SizeBytes int64 `json:"size_bytes"`
	Fragments int   `json:"fragments"`
}

// RunReport is the immutable output artifact of one measurement session.
// It is fully self-describing: rendering or exporting it requires no
// external lookups. New fields must be optional; existing names are never
// repurposed.
type RunReport struct {
	ID           string              `json:"id"`
	Meta         ReportMeta          `json:"meta"`
	Timings      Timings             `json:"timings"`
	LongTasks    LongTaskStats       `json:"long_tasks"`
	Network      NetworkSummary      `json:"network"`
	LCPElement   string              `json:"lcp_element,omitempty"`
	CLSSources   []LayoutShiftSource `json:"cls_sources"`
	Interactions []float64           `json:"interaction_durations,omitempty"`
	Insights     []Finding           `json:"insights"`
	Trace        TraceSummary        `json:"trace"`
	Diagnostics  []string            `json:"diagnostics,omitempty"`
}

package domain

// PageMetrics is the snapshot produced by the in-page probe. Every field is
// optional; a session without a working probe still yields a valid report.
type PageMetrics struct {
	TTFB             *float64
	FCP              *float64
	LCP              *float64
	INP              *float64
	CLS              *float64
	DOMContentLoaded *float64
	Load             *float64
	LCPElement       string
	CLSSources       []LayoutShiftSource
	LongTasks        LongTaskStats
	Interactions     []float64
}

// NetworkSnapshot is the immutable view of a session's accumulated network
// state, taken once at stop time. Slices preserve first-seen order so that
// downstream sorting can break ties on input order.
type NetworkSnapshot struct {
	RequestsTotal    int
	CacheHits        int
	TransferredBytes int64
	Failures         []RequestFailure
	Domains          []DomainStat
	Types            []TypeStat
	Completed        []SlowRequest
	TraceFragments   int
	TraceBytes       int64
}

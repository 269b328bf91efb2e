// Package report turns the page metrics and network rollup snapshots into
// the immutable run report, and derives insights from it.
package report

import (
	"sort"
	"time"

	"github.com/yishengjiang99/Performance-checker/internal/classify"
	"github.com/yishengjiang99/Performance-checker/internal/domain"
)

const (
	maxSlowest    = 10
	maxCLSSources = 5
	maxInteract   = 10
)

// Inputs collects everything the assembler merges. Both snapshots are
// immutable; assembly shares no state with the session that produced them.
type Inputs struct {
	ReportID    string
	TargetURL   string
	GeneratedAt time.Time
	Options     domain.SessionOptions
	TraceActive bool
	Page        *domain.PageMetrics
	Network     domain.NetworkSnapshot
	Diagnostics []string
}

// Assemble merges the inputs into a RunReport. Page being nil yields a
// report with null page-sourced timings, never a failure.
func Assemble(in Inputs) *domain.RunReport {
	rep := &domain.RunReport{
		ID: in.ReportID,
		Meta: domain.ReportMeta{
			TargetURL:    in.TargetURL,
			Origin:       classify.Origin(in.TargetURL),
			GeneratedAt:  in.GeneratedAt,
			ColdLoad:     in.Options.ColdLoad,
			TraceEnabled: in.TraceActive,
		},
		Network:     assembleNetwork(in.Network, in.TargetURL),
		Trace:       assembleTrace(in.Network),
		Diagnostics: append([]string(nil), in.Diagnostics...),
	}

	if page := in.Page; page != nil {
		rep.Timings = domain.Timings{
			TTFB:             page.TTFB,
			FCP:              page.FCP,
			LCP:              page.LCP,
			INP:              page.INP,
			CLS:              page.CLS,
			DOMContentLoaded: page.DOMContentLoaded,
			Load:             page.Load,
		}
		rep.LongTasks = page.LongTasks
		rep.LCPElement = page.LCPElement
		rep.CLSSources = topShiftSources(page.CLSSources)
		rep.Interactions = topInteractions(page.Interactions)
	}
	if rep.CLSSources == nil {
		rep.CLSSources = []domain.LayoutShiftSource{}
	}
	return rep
}

func assembleNetwork(snap domain.NetworkSnapshot, targetURL string) domain.NetworkSummary {
	pageHost := classify.RegistrableHost(targetURL)

	byDomain := append([]domain.DomainStat(nil), snap.Domains...)
	for i := range byDomain {
		byDomain[i].ThirdParty = classify.ThirdParty(byDomain[i].Domain, pageHost)
	}
	sort.SliceStable(byDomain, func(i, j int) bool {
		return byDomain[i].Bytes > byDomain[j].Bytes
	})

	slowest := append([]domain.SlowRequest(nil), snap.Completed...)
	sort.SliceStable(slowest, func(i, j int) bool {
		return slowest[i].DurationMS > slowest[j].DurationMS
	})
	if len(slowest) > maxSlowest {
		slowest = slowest[:maxSlowest]
	}

	summary := domain.NetworkSummary{
		RequestsTotal:    snap.RequestsTotal,
		TransferredBytes: snap.TransferredBytes,
		Failures:         append([]domain.RequestFailure{}, snap.Failures...),
		ByDomain:         byDomain,
		ByType:           append([]domain.TypeStat{}, snap.Types...),
		Slowest:          slowest,
	}
	if summary.ByDomain == nil {
		summary.ByDomain = []domain.DomainStat{}
	}
	if summary.Slowest == nil {
		summary.Slowest = []domain.SlowRequest{}
	}

	// Absent, not zero: a request-free session must not look well cached.
	if snap.RequestsTotal > 0 {
		rate := float64(snap.CacheHits) / float64(snap.RequestsTotal)
		summary.CacheHitRate = &rate
	}
	return summary
}

func assembleTrace(snap domain.NetworkSnapshot) domain.TraceSummary {
	return domain.TraceSummary{
		Captured:  snap.TraceFragments > 0,
		SizeBytes: snap.TraceBytes,
		Fragments: snap.TraceFragments,
	}
}

func topShiftSources(sources []domain.LayoutShiftSource) []domain.LayoutShiftSource {
	sorted := append([]domain.LayoutShiftSource(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})
	if len(sorted) > maxCLSSources {
		sorted = sorted[:maxCLSSources]
	}
	return sorted
}

func topInteractions(durations []float64) []float64 {
	sorted := append([]float64(nil), durations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if len(sorted) > maxInteract {
		sorted = sorted[:maxInteract]
	}
	return sorted
}

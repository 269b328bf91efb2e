package report

import (
	"fmt"
	"testing"
	"time"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestAssembleMergesBothSnapshots(t *testing.T) {
	generated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rep := Assemble(Inputs{
		ReportID:    "report-1",
		TargetURL:   "https://shop.example.com/cart?step=2",
		GeneratedAt: generated,
		Options:     domain.SessionOptions{ColdLoad: true},
		TraceActive: true,
		Page: &domain.PageMetrics{
			LCP:        f64(2100),
			CLS:        f64(0.04),
			LCPElement: "img.hero",
			LongTasks:  domain.LongTaskStats{Count: 2, TotalMS: 130, MaxMS: 90},
		},
		Network: domain.NetworkSnapshot{
			RequestsTotal:    4,
			CacheHits:        2,
			TransferredBytes: 90000,
			Domains: []domain.DomainStat{
				{Domain: "example.com", Requests: 3, Bytes: 60000},
				{Domain: "cdn.net", Requests: 1, Bytes: 30000},
			},
			TraceFragments: 3,
			TraceBytes:     5500,
		},
		Diagnostics: []string{"probe_stop_failed"},
	})

	if rep.ID != "report-1" || rep.Meta.Origin != "https://shop.example.com" {
		t.Fatalf("unexpected identity: id=%q origin=%q", rep.ID, rep.Meta.Origin)
	}
	if !rep.Meta.ColdLoad || !rep.Meta.TraceEnabled || !rep.Meta.GeneratedAt.Equal(generated) {
		t.Fatalf("unexpected meta: %+v", rep.Meta)
	}
	if rep.Timings.LCP == nil || *rep.Timings.LCP != 2100 {
		t.Fatalf("page timings not carried: %+v", rep.Timings)
	}
	if rep.LCPElement != "img.hero" || rep.LongTasks.Count != 2 {
		t.Fatalf("page detail not carried: element=%q long=%+v", rep.LCPElement, rep.LongTasks)
	}
	if rep.Network.CacheHitRate == nil || *rep.Network.CacheHitRate != 0.5 {
		t.Fatalf("expected cache hit rate 0.5, got %v", rep.Network.CacheHitRate)
	}
	if !rep.Network.ByDomain[1].ThirdParty || rep.Network.ByDomain[0].ThirdParty {
		t.Fatalf("third-party resolution wrong: %+v", rep.Network.ByDomain)
	}
	if !rep.Trace.Captured || rep.Trace.Fragments != 3 || rep.Trace.SizeBytes != 5500 {
		t.Fatalf("unexpected trace summary: %+v", rep.Trace)
	}
	if len(rep.Diagnostics) != 1 || rep.Diagnostics[0] != "probe_stop_failed" {
		t.Fatalf("diagnostics not carried: %v", rep.Diagnostics)
	}
}

func TestAssembleWithoutPageMetrics(t *testing.T) {
	rep := Assemble(Inputs{
		ReportID:  "report-2",
		TargetURL: "https://example.com/",
		Network:   domain.NetworkSnapshot{RequestsTotal: 1, CacheHits: 1},
	})

	if rep.Timings.LCP != nil || rep.Timings.TTFB != nil || rep.Timings.CLS != nil {
		t.Fatalf("expected null timings without page metrics: %+v", rep.Timings)
	}
	if rep.CLSSources == nil || len(rep.CLSSources) != 0 {
		t.Fatalf("expected empty cls sources slice, got %#v", rep.CLSSources)
	}
	if rep.Network.CacheHitRate == nil || *rep.Network.CacheHitRate != 1.0 {
		t.Fatalf("unexpected cache hit rate: %v", rep.Network.CacheHitRate)
	}
}

func TestAssembleCacheRateAbsentWithoutRequests(t *testing.T) {
	rep := Assemble(Inputs{ReportID: "report-3", TargetURL: "https://example.com/"})
	if rep.Network.CacheHitRate != nil {
		t.Fatalf("request-free session must have absent cache rate, got %v", *rep.Network.CacheHitRate)
	}
	if rep.Network.Slowest == nil || rep.Network.ByDomain == nil {
		t.Fatalf("network slices must be empty, not nil")
	}
}

func TestAssembleSortsAndCapsSlowest(t *testing.T) {
	var completed []domain.SlowRequest
	for i := 0; i < 12; i++ {
		completed = append(completed, domain.SlowRequest{
			URL:        fmt.Sprintf("https://example.com/res-%d", i),
			DurationMS: float64(100 + i*10),
		})
	}
	// Two equal durations; the earlier-seen one must stay first.
	completed = append(completed,
		domain.SlowRequest{URL: "https://example.com/tie-a", DurationMS: 500},
		domain.SlowRequest{URL: "https://example.com/tie-b", DurationMS: 500},
	)

	rep := Assemble(Inputs{
		TargetURL: "https://example.com/",
		Network:   domain.NetworkSnapshot{RequestsTotal: len(completed), Completed: completed},
	})

	if len(rep.Network.Slowest) != 10 {
		t.Fatalf("expected slowest capped at 10, got %d", len(rep.Network.Slowest))
	}
	if rep.Network.Slowest[0].URL != "https://example.com/tie-a" ||
		rep.Network.Slowest[1].URL != "https://example.com/tie-b" {
		t.Fatalf("tie must preserve input order: %+v", rep.Network.Slowest[:2])
	}
	for i := 1; i < len(rep.Network.Slowest); i++ {
		if rep.Network.Slowest[i].DurationMS > rep.Network.Slowest[i-1].DurationMS {
			t.Fatalf("slowest not descending at %d", i)
		}
	}
}

func TestAssembleSortsDomainsByBytes(t *testing.T) {
	rep := Assemble(Inputs{
		TargetURL: "https://example.com/",
		Network: domain.NetworkSnapshot{
			RequestsTotal: 3,
			Domains: []domain.DomainStat{
				{Domain: "small.net", Bytes: 10},
				{Domain: "big.net", Bytes: 9000},
				{Domain: "example.com", Bytes: 500},
			},
		},
	})

	got := []string{rep.Network.ByDomain[0].Domain, rep.Network.ByDomain[1].Domain, rep.Network.ByDomain[2].Domain}
	want := []string{"big.net", "example.com", "small.net"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("domain order %v, want %v", got, want)
		}
	}
	if rep.Network.ByDomain[1].ThirdParty {
		t.Fatalf("page's own domain marked third-party")
	}
}

func TestAssembleCapsShiftSourcesAndInteractions(t *testing.T) {
	var sources []domain.LayoutShiftSource
	for i := 0; i < 8; i++ {
		sources = append(sources, domain.LayoutShiftSource{
			Selector: fmt.Sprintf("div.block-%d", i),
			Value:    float64(i) * 0.01,
		})
	}
	var interactions []float64
	for i := 0; i < 14; i++ {
		interactions = append(interactions, float64(50+i))
	}

	rep := Assemble(Inputs{
		TargetURL: "https://example.com/",
		Page: &domain.PageMetrics{
			CLSSources:   sources,
			Interactions: interactions,
		},
	})

	if len(rep.CLSSources) != 5 {
		t.Fatalf("expected 5 shift sources, got %d", len(rep.CLSSources))
	}
	if rep.CLSSources[0].Selector != "div.block-7" {
		t.Fatalf("shift sources not sorted by value desc: %+v", rep.CLSSources[0])
	}
	if len(rep.Interactions) != 10 {
		t.Fatalf("expected 10 interactions, got %d", len(rep.Interactions))
	}
	if rep.Interactions[0] != 63 {
		t.Fatalf("interactions not sorted desc: %v", rep.Interactions[0])
	}
}

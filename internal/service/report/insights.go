package report

import (
	"fmt"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
)

// Thresholds holds the tunable limits for insight derivation. Canonical
// web-vitals boundaries; override individual fields before calling
// DeriveInsights to adjust.
type Thresholds struct {
	LCPGoodMS  float64
	LCPPoorMS  float64
	FCPGoodMS  float64
	FCPPoorMS  float64
	INPGoodMS  float64
	INPPoorMS  float64
	CLSGood    float64
	CLSPoor    float64
	TTFBGoodMS float64
	TTFBPoorMS float64

	LongTaskTotalMS   float64
	HeavyPageBytes    int64
	RequestCountLimit int
	ThirdPartyShare   float64
	CacheRateFloor    float64
	CacheMinRequests  int
}

// DefaultThresholds returns the canonical rule limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LCPGoodMS:  2500,
		LCPPoorMS:  4000,
		FCPGoodMS:  1800,
		FCPPoorMS:  3000,
		INPGoodMS:  200,
		INPPoorMS:  500,
		CLSGood:    0.1,
		CLSPoor:    0.25,
		TTFBGoodMS: 800,
		TTFBPoorMS: 1800,

		LongTaskTotalMS:   200,
		HeavyPageBytes:    2 * 1024 * 1024,
		RequestCountLimit: 150,
		ThirdPartyShare:   0.30,
		CacheRateFloor:    0.30,
		CacheMinRequests:  5,
	}
}

// DeriveInsights evaluates the fixed rule set against a report, in order.
// Every matching rule contributes a finding; a report matching none yields
// a single "good" finding.
func DeriveInsights(rep *domain.RunReport, th Thresholds) []domain.Finding {
	var findings []domain.Finding
	add := func(code string, severity domain.Severity, message string) {
		findings = append(findings, domain.Finding{Code: code, Severity: severity, Message: message})
	}

	if lcp := rep.Timings.LCP; lcp != nil {
		switch {
		case *lcp > th.LCPPoorMS:
			add("slow-lcp", domain.SeverityPoor,
				fmt.Sprintf("Largest Contentful Paint is %.0fms (over %.0fms)", *lcp, th.LCPPoorMS))
		case *lcp > th.LCPGoodMS:
			add("moderate-lcp", domain.SeverityNeedsImprovement,
				fmt.Sprintf("Largest Contentful Paint is %.0fms (over %.0fms)", *lcp, th.LCPGoodMS))
		}
	}
	if inp := rep.Timings.INP; inp != nil && *inp > th.INPGoodMS {
		add("slow-inp", domain.SeverityPoor,
			fmt.Sprintf("Interaction to Next Paint is %.0fms (over %.0fms)", *inp, th.INPGoodMS))
	}
	if rep.LongTasks.TotalMS > th.LongTaskTotalMS {
		add("long-tasks", domain.SeverityPoor,
			fmt.Sprintf("Main thread blocked for %.0fms across %d long tasks", rep.LongTasks.TotalMS, rep.LongTasks.Count))
	}
	if cls := rep.Timings.CLS; cls != nil {
		switch {
		case *cls > th.CLSPoor:
			add("layout-shift", domain.SeverityPoor,
				fmt.Sprintf("Cumulative Layout Shift is %.3f (over %.2f)", *cls, th.CLSPoor))
		case *cls > th.CLSGood:
			add("moderate-layout-shift", domain.SeverityNeedsImprovement,
				fmt.Sprintf("Cumulative Layout Shift is %.3f (over %.2f)", *cls, th.CLSGood))
		}
	}
	if ttfb := rep.Timings.TTFB; ttfb != nil && *ttfb > th.TTFBGoodMS {
		add("slow-ttfb", domain.SeverityNeedsImprovement,
			fmt.Sprintf("Time to First Byte is %.0fms (over %.0fms)", *ttfb, th.TTFBGoodMS))
	}
	if rep.Network.TransferredBytes > th.HeavyPageBytes {
		add("heavy-page", domain.SeverityPoor,
			fmt.Sprintf("Page transferred %.1fMB (over %.1fMB)",
				float64(rep.Network.TransferredBytes)/(1024*1024),
				float64(th.HeavyPageBytes)/(1024*1024)))
	}
	if rep.Network.RequestsTotal > th.RequestCountLimit {
		add("request-count", domain.SeverityPoor,
			fmt.Sprintf("Page issued %d requests (over %d)", rep.Network.RequestsTotal, th.RequestCountLimit))
	}
	if share := thirdPartyShare(rep.Network.ByDomain); share > th.ThirdPartyShare {
		add("third-party-weight", domain.SeverityNeedsImprovement,
			fmt.Sprintf("Third-party resources account for %.0f%% of transferred bytes", share*100))
	}
	if rate := rep.Network.CacheHitRate; rate != nil &&
		rep.Network.RequestsTotal > th.CacheMinRequests && *rate < th.CacheRateFloor {
		add("low-cache-reuse", domain.SeverityNeedsImprovement,
			fmt.Sprintf("Only %.0f%% of requests were served from cache", *rate*100))
	}
	if n := len(rep.Network.Failures); n > 0 {
		add("network-failures", domain.SeverityPoor,
			fmt.Sprintf("%d request(s) failed", n))
	}

	if len(findings) == 0 {
		add("all-clear", domain.SeverityGood, "No performance problems detected")
	}
	return findings
}

func thirdPartyShare(byDomain []domain.DomainStat) float64 {
	var total, thirdParty int64
	for _, d := range byDomain {
		total += d.Bytes
		if d.ThirdParty {
			thirdParty += d.Bytes
		}
	}
	if total == 0 {
		return 0
	}
	return float64(thirdParty) / float64(total)
}

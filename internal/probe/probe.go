// Package probe manages the in-page metric collector: installation,
// teardown, and snapshot retrieval over an inspector link.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yishengjiang99/Performance-checker/internal/domain"
	"github.com/yishengjiang99/Performance-checker/internal/inspector"
)

// Probe installs and reads the in-page collector.
type Probe interface {
	Start(ctx context.Context, link inspector.Link) error
	Snapshot(ctx context.Context, link inspector.Link) (*domain.PageMetrics, error)
	Stop(ctx context.Context, link inspector.Link) error
}

// Client drives the collector through Runtime/Page commands.
type Client struct {
	logger *slog.Logger
}

// NewClient returns a probe client.
func NewClient(logger *slog.Logger) *Client {
	if logger != nil {
		logger = logger.With("component", "probe")
	}
	return &Client{logger: logger}
}

// Start registers the observer script for new documents and evaluates it in
// the current one, so metrics accumulate from this point and across a
// session-initiated reload.
func (c *Client) Start(ctx context.Context, link inspector.Link) error {
	if _, err := link.Command(ctx, "Page.enable", nil); err != nil {
		return fmt.Errorf("probe: enable page domain: %w", err)
	}
	if _, err := link.Command(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]any{
		"source": observerScript,
	}); err != nil {
		// The session can still measure the current document.
		if c.logger != nil {
			c.logger.Warn("probe persistence registration failed", "error", err)
		}
	}
	if _, err := c.evaluate(ctx, link, observerScript); err != nil {
		return fmt.Errorf("probe: install observers: %w", err)
	}
	return nil
}

// Snapshot reads the collector state. A (nil, nil) return means the probe is
// absent in the page, which callers must treat as "no page metrics".
func (c *Client) Snapshot(ctx context.Context, link inspector.Link) (*domain.PageMetrics, error) {
	value, err := c.evaluate(ctx, link,
		"window.__perfcheck ? JSON.stringify(window.__perfcheck.snapshot()) : null")
	if err != nil {
		return nil, fmt.Errorf("probe: snapshot: %w", err)
	}
	if len(value) == 0 || string(value) == "null" {
		return nil, nil
	}
	var encoded string
	if err := json.Unmarshal(value, &encoded); err != nil {
		return nil, fmt.Errorf("probe: decode snapshot envelope: %w", err)
	}
	return parseSnapshot([]byte(encoded))
}

// Stop disconnects the in-page observers. Best-effort.
func (c *Client) Stop(ctx context.Context, link inspector.Link) error {
	_, err := c.evaluate(ctx, link, "window.__perfcheck && window.__perfcheck.stop()")
	if err != nil {
		return fmt.Errorf("probe: stop observers: %w", err)
	}
	return nil
}

// evaluate runs an expression in the page and returns the raw result value.
func (c *Client) evaluate(ctx context.Context, link inspector.Link, expression string) (json.RawMessage, error) {
	result, err := link.Command(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decode evaluate result: %w", err)
	}
	if decoded.ExceptionDetails != nil {
		return nil, errors.New("page threw: " + decoded.ExceptionDetails.Text)
	}
	return decoded.Result.Value, nil
}

type snapshotWire struct {
	LCP        *float64 `json:"lcp"`
	LCPElement string   `json:"lcp_element"`
	CLS        *float64 `json:"cls"`
	CLSSources []struct {
		Selector string  `json:"selector"`
		Value    float64 `json:"value"`
	} `json:"cls_sources"`
	INP          *float64  `json:"inp"`
	Interactions []float64 `json:"interactions"`
	LongTasks    struct {
		Count int     `json:"count"`
		Total float64 `json:"total"`
		Max   float64 `json:"max"`
	} `json:"long_tasks"`
	TTFB             *float64 `json:"ttfb"`
	FCP              *float64 `json:"fcp"`
	DOMContentLoaded *float64 `json:"dom_content_loaded"`
	Load             *float64 `json:"load"`
}

func parseSnapshot(payload []byte) (*domain.PageMetrics, error) {
	var wire snapshotWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("probe: decode snapshot: %w", err)
	}
	metrics := &domain.PageMetrics{
		TTFB:             wire.TTFB,
		FCP:              wire.FCP,
		LCP:              wire.LCP,
		INP:              wire.INP,
		CLS:              wire.CLS,
		DOMContentLoaded: zeroToNil(wire.DOMContentLoaded),
		Load:             zeroToNil(wire.Load),
		LCPElement:       wire.LCPElement,
		Interactions:     wire.Interactions,
	}
	metrics.LongTasks = domain.LongTaskStats{
		Count:   wire.LongTasks.Count,
		TotalMS: wire.LongTasks.Total,
		MaxMS:   wire.LongTasks.Max,
	}
	for _, src := range wire.CLSSources {
		metrics.CLSSources = append(metrics.CLSSources, domain.LayoutShiftSource{
			Selector: src.Selector,
			Value:    src.Value,
		})
	}
	return metrics, nil
}

// zeroToNil treats a zero navigation timing as "event not fired yet".
func zeroToNil(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}

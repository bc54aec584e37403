// Package pipeline runs the concurrent multi-site extraction: one
// worker per candidate URL, progressive batch forwarding in completion
// order, run-scoped deduplication, and a single final summary.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/shophound/internal/product"
)

// EventType names the progress events a run produces.
type EventType string

const (
	EventSiteStarted EventType = "site_started"
	EventBatchReady  EventType = "batch_ready"
	EventSiteSkipped EventType = "site_skipped"
	EventSiteFailed  EventType = "site_failed"
	EventRunSummary  EventType = "run_summary"
)

// Event is the envelope forwarded to emitters. Which optional fields
// are set depends on Type: batch_ready carries Products and Strategy,
// site_skipped and site_failed carry Reason, run_summary carries
// Summary.
type Event struct {
	ID        string             `json:"event_id"`
	RunID     string             `json:"run_id"`
	Type      EventType          `json:"event_type"`
	Timestamp time.Time          `json:"timestamp"`
	SiteLabel string             `json:"site_label,omitempty"`
	Products  []*product.Product `json:"products,omitempty"`
	Strategy  string             `json:"strategy_used,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Summary   *Summary           `json:"summary,omitempty"`
}

// Summary is the final aggregate of one run.
type Summary struct {
	RunID               string        `json:"run_id"`
	Query               string        `json:"query,omitempty"`
	TotalUniqueProducts int           `json:"total_unique_products"`
	Succeeded           int           `json:"succeeded"`
	Skipped             int           `json:"skipped"`
	Failed              int           `json:"failed"`
	DurationMS          int64         `json:"duration_ms"`
	Sites               []SiteOutcome `json:"sites"`
}

// SiteOutcome is one site's line in the summary.
type SiteOutcome struct {
	SiteLabel string `json:"site_label"`
	URL       string `json:"url"`
	Status    Status `json:"status"`
	Strategy  string `json:"strategy_used,omitempty"`
	Products  int    `json:"products"`
	Reason    string `json:"reason,omitempty"`
}

// Emitter receives run events. The orchestrator calls Emit from a
// single forwarding goroutine in completion order, so implementations
// never see concurrent calls for the same run. Emit errors are logged
// and do not fail the run.
type Emitter interface {
	Emit(ctx context.Context, ev *Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev *Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// MultiEmitter fans each event out to several sinks. A failing sink is
// logged and skipped; the remaining sinks still receive the event.
type MultiEmitter struct {
	sinks  []Emitter
	logger *slog.Logger
}

func NewMultiEmitter(logger *slog.Logger, sinks ...Emitter) *MultiEmitter {
	return &MultiEmitter{
		sinks:  sinks,
		logger: logger.With("component", "multi_emitter"),
	}
}

func (m *MultiEmitter) Emit(ctx context.Context, ev *Event) error {
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, ev); err != nil {
			m.logger.Warn("emitter sink failed",
				"run_id", ev.RunID,
				"event_type", ev.Type,
				"error", err,
			)
		}
	}
	return nil
}

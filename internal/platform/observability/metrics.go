package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/automation"

// DecisionMetrics records automation outcomes.
type DecisionMetrics struct {
	decisions metric.Int64Counter
	codes     metric.Int64Counter
	failures  metric.Int64Counter
}

// NewDecisionMetrics registers the automation counters on meter. A nil meter uses the global provider.
func NewDecisionMetrics(meter metric.Meter) (*DecisionMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	decisions, err := meter.Int64Counter("automation.decisions",
		metric.WithDescription("Automation decisions by event and action"))
	if err != nil {
		return nil, err
	}
	codes, err := meter.Int64Counter("automation.promo_codes.issued",
		metric.WithDescription("Discount codes issued by prefix"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("automation.failures",
		metric.WithDescription("Automation requests that ended in an internal error"))
	if err != nil {
		return nil, err
	}
	return &DecisionMetrics{decisions: decisions, codes: codes, failures: failures}, nil
}

// RecordDecision counts one decision.
func (m *DecisionMetrics) RecordDecision(ctx context.Context, event, action string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("action", action),
	))
}

// RecordCodeIssued counts one issued code. persisted is false when the store write failed.
func (m *DecisionMetrics) RecordCodeIssued(ctx context.Context, prefix string, persisted bool) {
	if m == nil {
		return
	}
	m.codes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("prefix", prefix),
		attribute.Bool("persisted", persisted),
	))
}

// RecordFailure counts a request that failed with an internal error.
func (m *DecisionMetrics) RecordFailure(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

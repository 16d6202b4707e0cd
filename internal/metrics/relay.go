package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayMetrics records what happens to inbound events, operator clicks and
// remote transitions.
type RelayMetrics interface {
	// RecordEvent counts an inbound event by source ("webhook", "poll") and
	// result ("notified", "duplicate", "malformed", "unidentified", "send_failed").
	RecordEvent(ctx context.Context, source, result string)
	// RecordCallback counts an operator click by result ("claimed", "duplicate",
	// "resolved", "forbidden", "invalid").
	RecordCallback(ctx context.Context, result string)
	// RecordTransition records a remote transition and how long it took.
	RecordTransition(ctx context.Context, outcome, status string, duration time.Duration)
}

type relayMetrics struct {
	events      metric.Int64Counter
	callbacks   metric.Int64Counter
	transitions metric.Int64Counter
	durations   metric.Float64Histogram
}

// NewRelayMetrics creates RelayMetrics on the given meter provider. All metric
// names are prefixed with namespace.
func NewRelayMetrics(meterProvider metric.MeterProvider, namespace string) (RelayMetrics, error) {
	meter := meterProvider.Meter(namespace)

	events, err := meter.Int64Counter(
		fmt.Sprintf("%s_events_total", namespace),
		metric.WithDescription("Inbound booking events by source and result"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	callbacks, err := meter.Int64Counter(
		fmt.Sprintf("%s_callbacks_total", namespace),
		metric.WithDescription("Operator control clicks by result"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callbacks counter: %w", err)
	}

	transitions, err := meter.Int64Counter(
		fmt.Sprintf("%s_transitions_total", namespace),
		metric.WithDescription("Remote booking transitions by outcome and status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	durations, err := meter.Float64Histogram(
		fmt.Sprintf("%s_transition_duration_seconds", namespace),
		metric.WithDescription("Duration of remote booking transitions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transition duration histogram: %w", err)
	}

	return &relayMetrics{
		events:      events,
		callbacks:   callbacks,
		transitions: transitions,
		durations:   durations,
	}, nil
}

func (m *relayMetrics) RecordEvent(ctx context.Context, source, result string) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", result),
	))
}

func (m *relayMetrics) RecordCallback(ctx context.Context, result string) {
	m.callbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

func (m *relayMetrics) RecordTransition(ctx context.Context, outcome, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("status", status),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.durations.Record(ctx, duration.Seconds(), attrs)
}

type noopRelayMetrics struct{}

// NewNoop returns RelayMetrics that records nothing.
func NewNoop() RelayMetrics {
	return noopRelayMetrics{}
}

func (noopRelayMetrics) RecordEvent(context.Context, string, string)                        {}
func (noopRelayMetrics) RecordCallback(context.Context, string)                             {}
func (noopRelayMetrics) RecordTransition(context.Context, string, string, time.Duration) {}

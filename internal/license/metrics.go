package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MeterName = "license-manager"

// Metrics holds the license-specific OpenTelemetry instruments
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	PhoneHomeAttempts metric.Int64Counter
	PhoneHomeFailures metric.Int64Counter
	PhoneHomeDuration metric.Float64Histogram

	StatusTransitions metric.Int64Counter
	FeatureChecks     metric.Int64Counter
}

// NewMetrics registers the license instruments on the global meter
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("License activation attempts")); err != nil {
		return nil, fmt.Errorf("failed to create activation counter: %w", err)
	}
	if m.ActivationFailures, err = meter.Int64Counter("license_activation_failures_total",
		metric.WithDescription("Failed license activations")); err != nil {
		return nil, fmt.Errorf("failed to create activation failure counter: %w", err)
	}
	if m.ActivationDuration, err = meter.Float64Histogram("license_activation_duration_seconds",
		metric.WithDescription("Activation round-trip duration")); err != nil {
		return nil, fmt.Errorf("failed to create activation histogram: %w", err)
	}
	if m.PhoneHomeAttempts, err = meter.Int64Counter("license_phone_home_attempts_total",
		metric.WithDescription("Phone-home attempts")); err != nil {
		return nil, fmt.Errorf("failed to create phone-home counter: %w", err)
	}
	if m.PhoneHomeFailures, err = meter.Int64Counter("license_phone_home_failures_total",
		metric.WithDescription("Failed phone-home attempts")); err != nil {
		return nil, fmt.Errorf("failed to create phone-home failure counter: %w", err)
	}
	if m.PhoneHomeDuration, err = meter.Float64Histogram("license_phone_home_duration_seconds",
		metric.WithDescription("Phone-home round-trip duration")); err != nil {
		return nil, fmt.Errorf("failed to create phone-home histogram: %w", err)
	}
	if m.StatusTransitions, err = meter.Int64Counter("license_status_transitions_total",
		metric.WithDescription("License status transitions")); err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}
	if m.FeatureChecks, err = meter.Int64Counter("license_feature_checks_total",
		metric.WithDescription("Feature gate checks")); err != nil {
		return nil, fmt.Errorf("failed to create feature check counter: %w", err)
	}
	return m, nil
}

func (m *Metrics) recordActivation(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	m.ActivationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.ActivationFailures.Add(ctx, 1)
	}
}

func (m *Metrics) recordPhoneHome(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.PhoneHomeAttempts.Add(ctx, 1)
	m.PhoneHomeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.PhoneHomeFailures.Add(ctx, 1)
	}
}

func (m *Metrics) recordTransition(ctx context.Context, from, to Status) {
	if m == nil || from == to {
		return
	}
	m.StatusTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		),
	)
}

func (m *Metrics) recordFeatureCheck(ctx context.Context, feature string, enabled bool) {
	if m == nil {
		return
	}
	m.FeatureChecks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feature", feature),
			attribute.Bool("enabled", enabled),
		),
	)
}

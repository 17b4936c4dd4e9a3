package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configEventOnce sync.Once
	configEvents    metric.Int64Counter
)

// recordConfigLoad counts one config load attempt. The outcome is derived
// from the error: nil means the config validated, anything else is bucketed
// by classifyConfigLoadError. Counting must never interfere with startup, so
// a failed counter registration silently disables recording.
func recordConfigLoad(ctx context.Context, profile string, loadErr error) {
	configEventOnce.Do(func() {
		counter, err := otel.Meter("rfq-auth").Int64Counter(
			"rfq_auth.config.loads",
			metric.WithDescription("Configuration load attempts by profile and outcome"),
		)
		if err == nil {
			configEvents = counter
		}
	})
	if configEvents == nil {
		return
	}
	outcome := "success"
	if loadErr != nil {
		outcome = "failure"
	}
	configEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(loadErr)),
	))
}

// normalizeConfigProfile keeps the profile label cardinality sane: lowercase,
// trimmed, never empty.
func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

// classifyConfigLoadError buckets a load failure by the error prefixes this
// package produces: Validate wraps with "validate config:" and the env
// helpers with "parse <KEY>:".
func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "validate config:"):
		return "validation"
	case strings.Contains(msg, "parse "):
		return "parse"
	default:
		return "load"
	}
}

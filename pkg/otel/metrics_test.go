package otel

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryMetricsCounter(t *testing.T) {
	m := NewInMemoryMetrics()
	ctx := context.Background()

	m.Counter(MetricContextMutations).Add(ctx, 1, NewAttr(AttrOperation, "add_item"))
	m.Counter(MetricContextMutations).Add(ctx, 2)

	if got := m.GetCounterValue(MetricContextMutations); got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}
}

func TestInMemoryMetricsGauge(t *testing.T) {
	m := NewInMemoryMetrics()
	ctx := context.Background()

	m.Gauge(MetricContextTokens).Set(ctx, 42)
	m.Gauge(MetricContextTokens).Set(ctx, 17)

	if got := m.GetGaugeValue(MetricContextTokens); got != 17 {
		t.Errorf("gauge = %f, want 17", got)
	}
}

func TestNoopMetricsSafe(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()

	// 空实现可以任意调用
	m.Counter("x").Add(ctx, 1)
	m.Histogram("y").Record(ctx, 1.5)
	m.Gauge("z").Set(ctx, 2)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}

	cfg.Tracing.SampleRate = 1.5
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidSampleRate) {
		t.Errorf("expected ErrInvalidSampleRate, got %v", err)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	if cfg.ServiceName == "" {
		t.Error("service name not defaulted")
	}
	if cfg.Tracing.Exporter.Type == "" {
		t.Error("trace exporter not defaulted")
	}
	if cfg.Metrics.Interval == 0 {
		t.Error("metric interval not defaulted")
	}
}

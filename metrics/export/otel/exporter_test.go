package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/smartbag/authgate"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authgate.MetricsSnapshot{
		Counters:   make(map[authgate.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authgate.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

// collect reads every int64 point keyed by metric name and its attributes,
// rendered as name{k=v,...}.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	values := map[string]int64{}
	record := func(name string, points []metricdata.DataPoint[int64]) {
		for _, dp := range points {
			key := name
			if dp.Attributes.Len() > 0 {
				key += "{" + dp.Attributes.Encoded(attribute.DefaultEncoder()) + "}"
			}
			values[key] = dp.Value
		}
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				record(m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				record(m.Name, data.DataPoints)
			}
		}
	}
	return values
}

func TestExporterPublishesFamiliesWithAttributes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authgate-test")

	src := &fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess:     3,
				authgate.MetricRefreshFailure:   2,
				authgate.MetricLoginRateLimited: 4,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricAuthenticateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	values := collect(t, reader)
	want := map[string]int64{
		"authgate_operations_total{operation=login,result=success}":   3,
		"authgate_operations_total{operation=refresh,result=failure}": 2,
		"authgate_operations_total{operation=logout,result=success}":  0,
		"authgate_rate_limited_total{scope=login}":                    4,
		"authgate_rate_limited_total{scope=global}":                   0,
		"authgate_audit_events_dropped_total":                         1,
		"authgate_authenticate_duration_seconds_bucket{le=0.005}":     1,
		"authgate_authenticate_duration_seconds_bucket{le=+Inf}":      8,
		"authgate_authenticate_duration_seconds_count":                8,
	}
	for key, v := range want {
		got, ok := values[key]
		if !ok {
			t.Fatalf("missing %s in %v", key, values)
		}
		if got != v {
			t.Fatalf("%s = %d, want %d", key, got, v)
		}
	}
}

func TestExporterSkipsHistogramWhenLatencyOff(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{snapshot: authgate.MetricsSnapshot{
		Counters: map[authgate.MetricID]uint64{authgate.MetricAdmitted: 9},
	}}
	exp, err := NewOTelExporterFromSource(provider.Meter("authgate-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	values := collect(t, reader)
	if values["authgate_admitted_total"] != 9 {
		t.Fatalf("authgate_admitted_total = %d, want 9", values["authgate_admitted_total"])
	}
	if _, ok := values["authgate_authenticate_duration_seconds_count"]; ok {
		t.Fatal("expected no latency points without a histogram")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authgate-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewOTelExporter(meter, nil); err == nil {
		t.Fatal("expected error for nil gate")
	}
	if _, err := NewOTelExporter(nil, nil); err == nil {
		t.Fatal("expected error for nil meter")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authgate-test")

	src := &fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess: 1,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricAuthenticateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authgate.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}

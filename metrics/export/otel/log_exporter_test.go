package otel

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/smartbag/authgate"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestLogExporterWritesNonZeroPoints(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	reader := sdkmetric.NewPeriodicReader(NewLogExporter(log, true))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	src := &fakeSource{snapshot: authgate.MetricsSnapshot{
		Counters: map[authgate.MetricID]uint64{
			authgate.MetricRefreshFailure: 2,
		},
	}}
	exp, err := NewOTelExporterFromSource(provider.Meter("authgate-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	if err := provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("expected only the non-zero point to be logged, got %d entries", len(entries))
	}
	e := entries[0]
	if e.Level != logrus.InfoLevel || e.Data["metric"] != "authgate_operations_total" {
		t.Fatalf("unexpected entry: %v %v", e.Level, e.Data)
	}
	if e.Data["operation"] != "refresh" || e.Data["result"] != "failure" || e.Data["value"] != int64(2) {
		t.Fatalf("unexpected fields: %v", e.Data)
	}
}

func TestLogExporterRejectsAfterShutdown(t *testing.T) {
	exp := NewLogExporter(nil, false)
	if err := exp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := exp.Export(context.Background(), nil); err == nil {
		t.Fatal("expected export after shutdown to fail")
	}
}

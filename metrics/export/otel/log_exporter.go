package otel

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// LogExporter is an sdkmetric.Exporter that writes each collected data point
// as one structured log entry. Pair it with a PeriodicReader to get metrics
// into the log pipeline when no collector is deployed.
type LogExporter struct {
	log      logrus.FieldLogger
	skipZero bool
	closed   atomic.Bool
}

// NewLogExporter logs through log. With skipZero, data points whose value is
// zero are left out.
func NewLogExporter(log logrus.FieldLogger, skipZero bool) *LogExporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogExporter{log: log, skipZero: skipZero}
}

func (e *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *LogExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	if e.closed.Load() {
		return errors.New("log exporter is shut down")
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				e.points(m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				e.points(m.Name, data.DataPoints)
			}
		}
	}
	return nil
}

func (e *LogExporter) points(name string, points []metricdata.DataPoint[int64]) {
	for _, dp := range points {
		if e.skipZero && dp.Value == 0 {
			continue
		}
		fields := logrus.Fields{"metric": name, "value": dp.Value}
		for _, kv := range dp.Attributes.ToSlice() {
			fields[string(kv.Key)] = kv.Value.Emit()
		}
		e.log.WithFields(fields).Info("metrics")
	}
}

func (e *LogExporter) ForceFlush(context.Context) error { return nil }

func (e *LogExporter) Shutdown(context.Context) error {
	e.closed.Store(true)
	return nil
}

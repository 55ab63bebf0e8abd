package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartbag/authgate"
	"github.com/smartbag/authgate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// family pairs an exported family with its instrument and the attribute sets
// of its members, built once so collection allocates nothing per series.
type family struct {
	def        internaldefs.Family
	counter    metric.Int64ObservableCounter
	attributes []metric.ObserveOption
}

// OTelExporter publishes gate metrics as observable instruments: one counter
// per family with the family labels as attributes, and the authenticate
// latency as bucket and count gauges. A single callback reads one snapshot
// per collection cycle.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []family
	auditDropped metric.Int64ObservableCounter
	buckets      metric.Int64ObservableGauge
	bucketBounds []metric.ObserveOption
	count        metric.Int64ObservableGauge
}

func NewOTelExporter(meter metric.Meter, gate *authgate.Gate) (*OTelExporter, error) {
	if gate == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, gate)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.Families {
		counter, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		f := family{def: def, counter: counter}
		for _, m := range def.Members {
			kvs := make([]attribute.KeyValue, 0, len(def.Labels))
			for i, key := range def.Labels {
				kvs = append(kvs, attribute.String(key, m.Values[i]))
			}
			f.attributes = append(f.attributes, metric.WithAttributes(kvs...))
		}
		e.families = append(e.families, f)
		observables = append(observables, counter)
	}

	var err error
	e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDropped.Name,
		metric.WithDescription(internaldefs.AuditDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDropped.Name, err)
	}

	latency := internaldefs.Latency.Name
	e.buckets, err = meter.Int64ObservableGauge(latency+"_bucket",
		metric.WithDescription(internaldefs.Latency.Help+" Cumulative count per upper bound le."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s_bucket: %w", latency, err)
	}
	for _, le := range internaldefs.HistogramBounds {
		e.bucketBounds = append(e.bucketBounds, metric.WithAttributes(attribute.String("le", le)))
	}
	e.count, err = meter.Int64ObservableGauge(latency+"_count",
		metric.WithDescription(internaldefs.Latency.Help+" Total samples."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s_count: %w", latency, err)
	}
	observables = append(observables, e.auditDropped, e.buckets, e.count)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for i, m := range f.def.Members {
			o.ObserveInt64(f.counter, int64(snapshot.Counters[m.ID]), f.attributes[i])
		}
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	raw, ok := snapshot.Histograms[internaldefs.Latency.ID]
	if !ok {
		return nil
	}
	cumulative := internaldefs.CumulativeBuckets(raw)
	for i, v := range cumulative {
		o.ObserveInt64(e.buckets, int64(v), e.bucketBounds[i])
	}
	o.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

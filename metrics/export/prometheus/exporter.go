package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/smartbag/authgate"
	"github.com/smartbag/authgate/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders gate metrics in the Prometheus text format.
type PrometheusExporter struct {
	source metricsSource
}

func NewPrometheusExporter(gate *authgate.Gate) *PrometheusExporter {
	return &PrometheusExporter{source: gate}
}

// NewPrometheusExporterFromSource reads from anything that exposes a
// snapshot and an audit drop count.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render. A gate with metrics disabled answers 204.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := p.Render()
		if body == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var buf bytes.Buffer
	for _, fam := range internaldefs.Families {
		writeHeader(&buf, fam.Name, fam.Help, "counter")
		for _, s := range fam.Samples(snapshot) {
			fmt.Fprintf(&buf, "%s%s %d\n", fam.Name, formatLabels(s.Labels), s.Value)
		}
	}

	writeHeader(&buf, internaldefs.AuditDropped.Name, internaldefs.AuditDropped.Help, "counter")
	fmt.Fprintf(&buf, "%s %d\n", internaldefs.AuditDropped.Name, dropped)

	if raw, ok := snapshot.Histograms[internaldefs.Latency.ID]; ok {
		writeLatency(&buf, internaldefs.CumulativeBuckets(raw))
	}
	return buf.String()
}

// The gate keeps bucket counts only, so no _sum series is written.
func writeLatency(buf *bytes.Buffer, cumulative []uint64) {
	name := internaldefs.Latency.Name
	writeHeader(buf, name, internaldefs.Latency.Help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(buf, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	fmt.Fprintf(buf, "%s_count %d\n", name, cumulative[len(cumulative)-1])
}

func writeHeader(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, helpEscaper.Replace(help), name, kind)
}

func formatLabels(labels []internaldefs.Label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + `="` + valueEscaper.Replace(l.Value) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

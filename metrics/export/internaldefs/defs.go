package internaldefs

import (
	"github.com/smartbag/authgate"
)

// Label is one name/value pair on an exported series.
type Label struct {
	Key   string
	Value string
}

// Member maps one gate counter onto a series of its family. Values line up
// with Family.Labels.
type Member struct {
	ID     authgate.MetricID
	Values []string
}

// Family is one exported counter name. Gate counters that answer the same
// question share a family and differ by label, so dashboards can sum or
// split them.
type Family struct {
	Name    string
	Help    string
	Labels  []string
	Members []Member
}

// Sample is one series value read from a snapshot.
type Sample struct {
	Labels []Label
	Value  uint64
}

// Families lists every exported counter family in render order.
var Families = []Family{
	{
		Name:    "authgate_admitted_total",
		Help:    "Requests admitted by the rate limiter.",
		Members: []Member{{ID: authgate.MetricAdmitted}},
	},
	{
		Name:    "authgate_admitted_fail_open_total",
		Help:    "Admissions granted while the shared store was unreachable.",
		Members: []Member{{ID: authgate.MetricAdmitDegraded}},
	},
	{
		Name:   "authgate_rate_limited_total",
		Help:   "Requests rejected by the rate limiter.",
		Labels: []string{"scope"},
		Members: []Member{
			{ID: authgate.MetricRateLimited, Values: []string{authgate.ScopeGlobal}},
			{ID: authgate.MetricLoginRateLimited, Values: []string{authgate.ScopeLogin}},
		},
	},
	{
		Name:    "authgate_store_unavailable_total",
		Help:    "Requests failed closed because the shared store was unreachable.",
		Members: []Member{{ID: authgate.MetricStoreUnavailable}},
	},
	{
		Name:   "authgate_operations_total",
		Help:   "Gate operations by outcome.",
		Labels: []string{"operation", "result"},
		Members: []Member{
			{ID: authgate.MetricLoginSuccess, Values: []string{"login", "success"}},
			{ID: authgate.MetricLoginFailure, Values: []string{"login", "failure"}},
			{ID: authgate.MetricRefreshSuccess, Values: []string{"refresh", "success"}},
			{ID: authgate.MetricRefreshFailure, Values: []string{"refresh", "failure"}},
			{ID: authgate.MetricAuthenticateSuccess, Values: []string{"authenticate", "success"}},
			{ID: authgate.MetricAuthenticateFailure, Values: []string{"authenticate", "failure"}},
			{ID: authgate.MetricLogout, Values: []string{"logout", "success"}},
			{ID: authgate.MetricLogoutAll, Values: []string{"logout_all", "success"}},
		},
	},
	{
		Name:    "authgate_replay_detected_total",
		Help:    "Refresh token replays that destroyed a session family.",
		Members: []Member{{ID: authgate.MetricReplayDetected}},
	},
}

// AuditDropped is read from the audit dispatcher rather than the snapshot.
var AuditDropped = Family{
	Name: "authgate_audit_events_dropped_total",
	Help: "Audit events dropped because the dispatcher buffer was full.",
}

// Latency describes the authenticate duration histogram.
var Latency = struct {
	ID   authgate.MetricID
	Name string
	Help string
}{
	ID:   authgate.MetricAuthenticateLatency,
	Name: "authgate_authenticate_duration_seconds",
	Help: "Time spent validating an access token, admission included.",
}

// Samples reads every member of f from snapshot.
func (f Family) Samples(snapshot authgate.MetricsSnapshot) []Sample {
	out := make([]Sample, 0, len(f.Members))
	for _, m := range f.Members {
		var labels []Label
		for i, key := range f.Labels {
			if i < len(m.Values) {
				labels = append(labels, Label{Key: key, Value: m.Values[i]})
			}
		}
		out = append(out, Sample{Labels: labels, Value: snapshot.Counters[m.ID]})
	}
	return out
}

// HistogramBounds are the bucket upper bounds in seconds, matching the gate's
// fixed latency buckets.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// CumulativeBuckets turns per-bucket counts into running totals, one per
// HistogramBounds entry. Missing buckets count as zero.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(HistogramBounds))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}

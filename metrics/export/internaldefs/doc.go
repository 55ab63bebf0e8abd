// Package internaldefs maps gate counters onto exported metric families.
//
// Related counters share one family and differ by label, for example
// authgate_operations_total{operation="login",result="failure"}. The
// Prometheus and OTel exporters both render from Families, so they publish the
// same series.
package internaldefs

// Package prometheus serves gate metrics in the Prometheus text exposition
// format without a client library or global registry.
//
// Counters are grouped into labelled families, for example
//
//	authgate_operations_total{operation="refresh",result="failure"} 3
//	authgate_rate_limited_total{scope="login"} 12
//
// Mount [PrometheusExporter.Handler] wherever the scraper expects it.
package prometheus

// Package otel exposes gate metrics through an OpenTelemetry Meter.
//
// [OTelExporter] registers one observable counter per metric family, with the
// family labels (operation, result, scope) as attributes. Callers own the
// MeterProvider. [LogExporter] is a minimal sdkmetric.Exporter that writes
// collected points to logrus; cmd/authgate-server uses it with a periodic
// reader.
package otel

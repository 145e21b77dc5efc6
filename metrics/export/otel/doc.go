// Package otel publishes authcore metrics through an OpenTelemetry Meter.
//
// The caller owns the MeterProvider and its readers; [NewExporter] only
// registers instruments and a callback on the supplied Meter.
package otel

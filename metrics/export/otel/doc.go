// Package otel exports goGate counters and the evaluate-latency histogram
// through an OpenTelemetry meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per gate counter.
// The latency histogram becomes a cumulative "_bucket" gauge with one series
// per "le" attribute, plus a "_count" gauge. A single callback reads
// Gate.MetricsSnapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate gate state.
package otel

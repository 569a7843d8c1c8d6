// Package prometheus exposes goGate metrics through client_golang.
//
// [NewCollector] returns a prometheus.Collector that turns each scrape into a
// Gate.MetricsSnapshot read. Counter names are gogate_*_total; the single
// histogram is gogate_evaluate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global default registry. Callers register the
//     Collector or mount Handler.
//   - Mutate gate state.
package prometheus

// Package auditsink provides goGate.AuditSink implementations that ship
// events out of process: [KafkaSink] publishes JSON records to a topic and
// [ZapSink] writes them as structured log entries. Both are driven by the
// gate's audit dispatcher goroutine, never by the request path.
package auditsink

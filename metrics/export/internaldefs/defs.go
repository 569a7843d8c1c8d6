package internaldefs

import (
	"strconv"

	goGate "github.com/MrEthical07/goGate"
)

// CounterDef names one gate counter for exporters.
type CounterDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// HistogramDef names one gate histogram for exporters.
type HistogramDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goGate.MetricRequestAllowed, Name: "gogate_requests_allowed_total", Help: "Requests forwarded to the protected handler."},
	{ID: goGate.MetricRequestThrottled, Name: "gogate_requests_throttled_total", Help: "Requests rejected with 429, including fail-closed rejections."},
	{ID: goGate.MetricRequestUnauthenticated, Name: "gogate_requests_unauthenticated_total", Help: "Requests rejected with 401."},
	{ID: goGate.MetricCounterStoreUnavailable, Name: "gogate_counter_store_unavailable_total", Help: "Rate-limit charges that failed at the counter store."},
	{ID: goGate.MetricTokenIssued, Name: "gogate_token_issued_total", Help: "Tokens issued."},
	{ID: goGate.MetricTokenAccepted, Name: "gogate_token_accepted_total", Help: "Requests authenticated by token."},
	{ID: goGate.MetricTokenRejected, Name: "gogate_token_rejected_total", Help: "Presented tokens that failed verification."},
	{ID: goGate.MetricPasswordAccepted, Name: "gogate_password_accepted_total", Help: "Requests authenticated by username and password."},
	{ID: goGate.MetricPasswordRejected, Name: "gogate_password_rejected_total", Help: "Failed username and password checks."},
	{ID: goGate.MetricPasswordRehashed, Name: "gogate_password_rehashed_total", Help: "Password hashes upgraded after login."},
	{ID: goGate.MetricStageError, Name: "gogate_stage_error_total", Help: "Unexpected stage errors."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGate.MetricEvaluateLatency, Name: "gogate_evaluate_latency_seconds", Help: "Gate evaluation latency histogram."},
}

// AuditDroppedName and AuditDroppedHelp describe the dispatcher drop counter.
const (
	AuditDroppedName = "gogate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels returns the "le" label of each bucket, ending with "+Inf".
func BucketLabels() []string {
	out := make([]string, 0, len(HistogramUpperBounds)+1)
	for _, le := range HistogramUpperBounds {
		out = append(out, strconv.FormatFloat(le, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

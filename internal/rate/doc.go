// Package rate implements the fixed-window request limiter behind the gate.
//
// # Window semantics
//
// Windows are aligned to epoch multiples of the period. A request at time t
// with period p lands in the window ending at reset = floor(t/p)*p + p, and
// is counted under
//
//	<prefix>/<endpoint>/<client>/<reset>
//
// Each charge is one atomic increment that also sets the key to expire at
// reset plus a grace interval, so stale windows clean themselves up.
//
// A charge is over the limit when the incremented count exceeds the limit.
// The count is stored unclamped; only the reported Current is clamped.
package rate

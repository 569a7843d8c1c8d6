// Package grpcgate adapts goGate.Gate to gRPC unary servers.
//
// The endpoint scope is the full method name, so route policies are keyed
// like "/pkg.Service/Method". Throttled calls fail with ResourceExhausted and
// unauthenticated calls with Unauthenticated. x-ratelimit-* header metadata is
// sent on every gated call.
package grpcgate

// Package client is an HTTP client for services protected by goGate.
//
// It paces requests with a token bucket and retries 429 responses a bounded
// number of times, waiting for the X-RateLimit-Reset the server advertised
// (capped by MaxRetryWait) or backing off exponentially when no reset is
// given.
package client

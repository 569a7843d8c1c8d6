package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/google/uuid"
)

// Response headers set on every gated request. Reset is the Unix time at
// which the current window ends.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRequestID          = "X-Request-ID"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	throttledBody = errorBody{Error: "rate_limit_exceeded", Code: "429", Message: "You hit the rate limit"}
	unauthBody    = errorBody{Error: "unauthorized", Code: "401", Message: "authentication required"}
)

// Options tunes how requests are mapped onto gate requests.
type Options struct {
	// TrustForwardedHeaders takes the client scope from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustForwardedHeaders bool
	// RequireAuth forces authentication even when the route policy does not.
	RequireAuth bool
}

// Guard gates next with the policy configured for endpoint.
func Guard(gate *goGate.Gate, endpoint string) func(http.Handler) http.Handler {
	return GuardPolicy(gate, endpoint, gate.Policy(endpoint), Options{})
}

// GuardPolicy gates next with an explicit policy. Rate-limit headers are
// written on every response, including denials.
func GuardPolicy(gate *goGate.Gate, endpoint string, policy goGate.RoutePolicy, opts Options) func(http.Handler) http.Handler {
	if opts.RequireAuth {
		policy.RequireAuth = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				writeUnauthorized(w)
				return
			}

			requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			client := ClientIP(r, opts.TrustForwardedHeaders)
			ctx := goGate.WithRequestID(r.Context(), requestID)
			ctx = goGate.WithClientIP(ctx, client)

			req := RequestFromHTTP(r)
			req.EndpointScope = endpoint
			req.ClientScope = client

			d := gate.Evaluate(ctx, policy, req)
			SetRateLimitHeaders(w.Header(), d.RateLimit)

			switch d.Outcome {
			case goGate.OutcomeAllowed:
				next.ServeHTTP(w, r.WithContext(goGate.WithDecision(ctx, d)))
			case goGate.OutcomeThrottled:
				writeThrottled(w, d.RateLimit)
			default:
				writeUnauthorized(w)
			}
		})
	}
}

// RequestFromHTTP reads credentials from the Authorization header. Bearer
// sets BearerToken; Basic sets Username and Password.
func RequestFromHTTP(r *http.Request) goGate.Request {
	var req goGate.Request
	if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
		req.BearerToken = tok
		return req
	}
	if user, pass, ok := r.BasicAuth(); ok {
		req.Username = user
		req.Password = pass
	}
	return req
}

// SetRateLimitHeaders writes the three X-RateLimit-* headers from st.
func SetRateLimitHeaders(h http.Header, st goGate.RateLimitState) {
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(st.Remaining))
	h.Set(HeaderRateLimitLimit, strconv.Itoa(st.Limit))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(st.Reset, 10))
}

// ClientIP returns the caller's address. Forwarded headers are consulted
// only when trustForwarded is set.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
			return xRealIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeThrottled(w http.ResponseWriter, st goGate.RateLimitState) {
	if st.Reset > 0 {
		retry := st.Reset - time.Now().Unix()
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	writeJSON(w, http.StatusTooManyRequests, throttledBody)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, unauthBody)
}

func writeJSON(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

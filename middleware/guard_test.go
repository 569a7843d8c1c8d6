package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/credstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGate(t *testing.T) (*goGate.Gate, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goGate.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	g, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(credstore.NewMemory()).
		WithRoute("/widgets", goGate.RoutePolicy{Limit: 3, Per: time.Minute}).
		WithRoute("/me", goGate.RoutePolicy{Limit: 10, Per: time.Minute, RequireAuth: true}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g, mr
}

func identityHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := goGate.IdentityFromContext(r.Context())
		if ok {
			_, _ = w.Write([]byte(identity.Username))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestGuardWidgetsScenario(t *testing.T) {
	g, _ := newTestGate(t)
	h := Guard(g, "/widgets")(identityHandler())

	for _, want := range []string{"2", "1", "0"} {
		r := httptest.NewRequest(http.MethodGet, "/widgets", nil)
		rec := serve(h, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get(HeaderRateLimitRemaining); got != want {
			t.Fatalf("expected remaining %s, got %s", want, got)
		}
		if rec.Header().Get(HeaderRateLimitLimit) != "3" {
			t.Fatalf("expected limit header 3, got %q", rec.Header().Get(HeaderRateLimitLimit))
		}
		reset, err := strconv.ParseInt(rec.Header().Get(HeaderRateLimitReset), 10, 64)
		if err != nil || reset%60 != 0 || reset < time.Now().Unix() {
			t.Fatalf("unexpected reset header %q", rec.Header().Get(HeaderRateLimitReset))
		}
		if rec.Header().Get(HeaderRequestID) == "" {
			t.Fatal("expected generated request id")
		}
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/widgets", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body != throttledBody {
		t.Fatalf("unexpected 429 body: %+v", body)
	}
	if rec.Header().Get(HeaderRateLimitRemaining) != "0" || rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected rate headers and Retry-After on 429")
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected JSON content type, got %q", rec.Header().Get("Content-Type"))
	}
}

func TestGuardAuthentication(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()
	alice, err := g.Register(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	tok, err := g.IssueToken(ctx, alice, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	h := Guard(g, "/me")(identityHandler())

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.SetBasicAuth("alice", "secret")
	if rec := serve(h, r); rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("basic auth: got %d %q", rec.Code, rec.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	if rec := serve(h, r); rec.Code != http.StatusOK || rec.Body.String() != "alice" {
		t.Fatalf("bearer: got %d %q", rec.Code, rec.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	r.SetBasicAuth(tok, "")
	if rec := serve(h, r); rec.Code != http.StatusOK {
		t.Fatalf("token as basic username: got %d", rec.Code)
	}

	for name, setup := range map[string]func(*http.Request){
		"none":           func(*http.Request) {},
		"wrong password": func(r *http.Request) { r.SetBasicAuth("alice", "nope") },
		"bad bearer":     func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") },
	} {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		setup(r)
		rec := serve(h, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
		if decodeBody(t, rec) != unauthBody {
			t.Fatalf("%s: unexpected body %q", name, rec.Body.String())
		}
		if rec.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("%s: expected WWW-Authenticate header", name)
		}
		if rec.Header().Get(HeaderRateLimitLimit) != "10" {
			t.Fatalf("%s: expected rate headers on 401", name)
		}
	}
}

func TestGuardFailsClosed(t *testing.T) {
	g, mr := newTestGate(t)
	mr.Close()

	rec := serve(Guard(g, "/widgets")(identityHandler()), httptest.NewRequest(http.MethodGet, "/widgets", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 when store is down, got %d", rec.Code)
	}
	if rec.Header().Get(HeaderRateLimitRemaining) != "0" || rec.Header().Get(HeaderRateLimitLimit) != "3" {
		t.Fatal("expected rate headers on fail-closed response")
	}
}

func TestGuardPropagatesRequestID(t *testing.T) {
	g, _ := newTestGate(t)
	var seen string
	h := Guard(g, "/widgets")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = goGate.RequestIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	r.Header.Set(HeaderRequestID, "abc-123")
	rec := serve(h, r)
	if seen != "abc-123" || rec.Header().Get(HeaderRequestID) != "abc-123" {
		t.Fatalf("expected request id to propagate, got %q", seen)
	}
}

func TestGuardPolicyRequireAuthOverride(t *testing.T) {
	g, _ := newTestGate(t)
	h := GuardPolicy(g, "/widgets", g.Policy("/widgets"), Options{RequireAuth: true})(identityHandler())

	if rec := serve(h, httptest.NewRequest(http.MethodGet, "/widgets", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGuardNilGate(t *testing.T) {
	rec := serve(Guard(nil, "/x")(identityHandler()), httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for nil gate, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.2")

	if got := ClientIP(r, false); got != "192.0.2.10" {
		t.Fatalf("untrusted: got %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.5" {
		t.Fatalf("trusted XFF: got %q", got)
	}
	r.Header.Del("X-Forwarded-For")
	if got := ClientIP(r, true); got != "198.51.100.2" {
		t.Fatalf("trusted X-Real-IP: got %q", got)
	}
	r.RemoteAddr = "bare-host"
	if got := ClientIP(r, false); got != "bare-host" {
		t.Fatalf("bare remote: got %q", got)
	}
}

func TestRequestFromHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer tok-1")
	if req := RequestFromHTTP(r); req.BearerToken != "tok-1" {
		t.Fatalf("expected bearer token, got %+v", req)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("u", "p")
	if req := RequestFromHTTP(r); req.Username != "u" || req.Password != "p" || req.BearerToken != "" {
		t.Fatalf("expected basic credentials, got %+v", req)
	}
}

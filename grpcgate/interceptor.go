package grpcgate

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Header metadata keys mirroring the HTTP rate-limit headers.
const (
	MDRateLimitLimit     = "x-ratelimit-limit"
	MDRateLimitRemaining = "x-ratelimit-remaining"
	MDRateLimitReset     = "x-ratelimit-reset"
	MDRequestID          = "x-request-id"
)

// Options tunes the interceptor.
type Options struct {
	// Skip exempts methods from the gate, typically health checks.
	Skip func(fullMethod string) bool
}

// UnaryServerInterceptor gates each unary call with the policy configured for
// its full method name. Rate-limit state is sent as response header metadata.
func UnaryServerInterceptor(gate *goGate.Gate, opts Options) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if opts.Skip != nil && opts.Skip(info.FullMethod) {
			return handler(ctx, req)
		}
		if gate == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}

		md, _ := metadata.FromIncomingContext(ctx)
		requestID := first(md, MDRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		client := peerAddr(ctx)
		ctx = goGate.WithRequestID(ctx, requestID)
		ctx = goGate.WithClientIP(ctx, client)

		gr := RequestFromMetadata(md)
		gr.EndpointScope = info.FullMethod
		gr.ClientScope = client

		d := gate.EvaluateRoute(ctx, gr)
		_ = grpc.SetHeader(ctx, metadata.Pairs(
			MDRateLimitLimit, strconv.Itoa(d.RateLimit.Limit),
			MDRateLimitRemaining, strconv.Itoa(d.RateLimit.Remaining),
			MDRateLimitReset, strconv.FormatInt(d.RateLimit.Reset, 10),
			MDRequestID, requestID,
		))

		switch d.Outcome {
		case goGate.OutcomeAllowed:
			return handler(goGate.WithDecision(ctx, d), req)
		case goGate.OutcomeThrottled:
			return nil, status.Error(codes.ResourceExhausted, "You hit the rate limit")
		default:
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
	}
}

// RequestFromMetadata reads the authorization entry. "Bearer" sets
// BearerToken; "Basic" sets Username and Password.
func RequestFromMetadata(md metadata.MD) goGate.Request {
	var req goGate.Request
	auth := first(md, "authorization")
	scheme, value, ok := strings.Cut(auth, " ")
	if !ok {
		return req
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(scheme) {
	case "bearer":
		req.BearerToken = value
	case "basic":
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return req
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if ok {
			req.Username = user
			req.Password = pass
		}
	}
	return req
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

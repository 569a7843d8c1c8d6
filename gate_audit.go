package goGate

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/goGate/token"
	"github.com/google/uuid"
)

const (
	auditEventRequestAllowed          = "request_allowed"
	auditEventRequestThrottled        = "request_throttled"
	auditEventRequestUnauthenticated  = "request_unauthenticated"
	auditEventCounterStoreUnavailable = "counter_store_unavailable"
	auditEventTokenIssued             = "token_issued"
	auditEventPasswordRehashed        = "password_rehashed"
)

// AuditErrorCode is the coarse failure class recorded on audit events.
type AuditErrorCode string

const (
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrStoreUnavailable   AuditErrorCode = "store_unavailable"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpiredToken       AuditErrorCode = "expired_token"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrIdentityNotFound   AuditErrorCode = "identity_not_found"
	auditErrMissingCredentials AuditErrorCode = "missing_credentials"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Gate) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID int64,
	endpoint string,
	client string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if client == "" {
		client = clientIPFromContext(ctx)
	}

	event := AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  g.now().UTC(),
		EventType:  eventType,
		RequestID:  RequestIDFromContext(ctx),
		IdentityID: identityID,
		Endpoint:   endpoint,
		Client:     client,
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func (g *Gate) emitDecision(ctx context.Context, ev *Evaluation, d Decision) {
	if g.audit == nil {
		return
	}

	var eventType string
	switch d.Outcome {
	case OutcomeAllowed:
		if !g.config.Audit.EmitAllowed {
			return
		}
		eventType = auditEventRequestAllowed
	case OutcomeThrottled:
		if !g.config.Audit.EmitThrottle && !errors.Is(d.Err, ErrCounterStoreUnavailable) {
			return
		}
		eventType = auditEventRequestThrottled
		if errors.Is(d.Err, ErrCounterStoreUnavailable) {
			eventType = auditEventCounterStoreUnavailable
		}
	default:
		eventType = auditEventRequestUnauthenticated
	}

	var identityID int64
	if d.Identity != nil {
		identityID = d.Identity.ID
	}
	g.emitAudit(ctx, eventType, d.Allowed(), identityID, ev.Request.EndpointScope, ev.Request.ClientScope, d.Err, func() map[string]string {
		return map[string]string{
			"limit":     strconv.Itoa(d.RateLimit.Limit),
			"remaining": strconv.Itoa(d.RateLimit.Remaining),
			"reset":     strconv.FormatInt(d.RateLimit.Reset, 10),
			"method":    ev.AuthMethod,
			"elapsed":   g.now().Sub(ev.Started).String(),
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCounterStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrRateLimitExceeded):
		return auditErrRateLimited
	case errors.Is(err, token.ErrExpired):
		return auditErrExpiredToken
	case errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrMalformed):
		return auditErrInvalidToken
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrIdentityNotFound
	case errors.Is(err, ErrMalformedRequest):
		return auditErrMissingCredentials
	case errors.Is(err, ErrAuthenticationFailed):
		return auditErrInvalidCredentials
	default:
		return auditErrInternal
	}
}

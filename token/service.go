package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL applies when Issue is called with a zero ttl.
const DefaultTTL = 600 * time.Second

var (
	// ErrInvalidSignature means the token was not signed with this service's secret.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired means the signature is valid but the expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed means the input could not be decoded as a token.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidTTL is returned by Issue for negative or sub-second lifetimes.
	ErrInvalidTTL = errors.New("token ttl must be at least one second")
	// ErrMissingSecret is returned by NewService for a zero Secret.
	ErrMissingSecret = errors.New("token secret required")
)

// Config tunes issued tokens.
type Config struct {
	DefaultTTL time.Duration
	Issuer     string
}

// Claims is the signed payload. UID and exp are the stable contract; iat,
// jti and iss are informational.
type Claims struct {
	UID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 tokens bound to a single Secret.
type Service struct {
	secret Secret
	config Config
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now. Tests use it to step across expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService binds a Service to secret.
func NewService(secret Secret, cfg Config, opts ...Option) (*Service, error) {
	if secret.IsZero() {
		return nil, ErrMissingSecret
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.DefaultTTL < time.Second {
		return nil, ErrInvalidTTL
	}

	s := &Service{secret: secret, config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultTTL returns the lifetime used when Issue receives a zero ttl.
func (s *Service) DefaultTTL() time.Duration {
	return s.config.DefaultTTL
}

// Issue signs {uid, exp = now + ttl}. Sub-second remainders of ttl are
// dropped since exp has one-second granularity.
func (s *Service) Issue(identityID int64, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}
	if ttl < time.Second {
		return "", ErrInvalidTTL
	}

	now := s.now()
	claims := Claims{
		UID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Unix(now.Unix()+int64(ttl/time.Second), 0)),
			IssuedAt:  jwt.NewNumericDate(time.Unix(now.Unix(), 0)),
			Issuer:    s.config.Issuer,
			ID:        uuid.NewString(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret.bytes())
}

// Verify returns the identity id carried by tokenStr. The signature is
// checked before expiry, so a forged token always reports
// ErrInvalidSignature. A token is expired once now > exp.
func (s *Service) Verify(tokenStr string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithStrictDecoding(),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret.bytes(), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return 0, ErrInvalidSignature
		default:
			return 0, ErrMalformed
		}
	}

	if claims.ExpiresAt == nil {
		return 0, ErrMalformed
	}
	if s.now().Unix() > claims.ExpiresAt.Unix() {
		return 0, ErrExpired
	}
	if s.config.Issuer != "" && claims.Issuer != s.config.Issuer {
		return 0, ErrInvalidSignature
	}

	return claims.UID, nil
}

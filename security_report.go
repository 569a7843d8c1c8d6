package goGate

import "time"

// SecurityReport summarizes the effective security posture of a Gate.
type SecurityReport struct {
	TokenAlgorithm  string
	TokenTTL        time.Duration
	SecretGenerated bool
	Argon2          PasswordConfigReport
	UpgradeOnVerify bool
	DefaultPolicy   RoutePolicy
	RouteCount      int
	FailClosed      bool
	KeyPrefix       string
	AuditEnabled    bool
	MetricsEnabled  bool
	Stages          []string
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (g *Gate) SecurityReport() SecurityReport {
	if g == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		TokenAlgorithm:  "HS256",
		TokenTTL:        g.TokenTTL(),
		SecretGenerated: g.secretGenerated,
		Argon2: PasswordConfigReport{
			Memory:      g.config.Password.Memory,
			Time:        g.config.Password.Time,
			Parallelism: g.config.Password.Parallelism,
			SaltLength:  g.config.Password.SaltLength,
			KeyLength:   g.config.Password.KeyLength,
		},
		UpgradeOnVerify: g.config.Password.UpgradeOnVerify,
		DefaultPolicy:   g.config.RateLimit.DefaultPolicy,
		RouteCount:      len(g.config.Routes),
		FailClosed:      true,
		KeyPrefix:       g.config.RateLimit.KeyPrefix,
		AuditEnabled:    g.audit != nil,
		MetricsEnabled:  g.metrics.Enabled(),
		Stages:          g.Stages(),
	}
}

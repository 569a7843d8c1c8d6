package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

// SecretSize is the number of random bytes drawn by NewSecret.
const SecretSize = 32

const redacted = "[redacted]"

var (
	// ErrSecretTooShort is returned when an encoded secret decodes to fewer than SecretSize bytes.
	ErrSecretTooShort = errors.New("token secret too short")
	// ErrSecretEncoding is returned when an encoded secret is not valid base64.
	ErrSecretEncoding = errors.New("token secret is not valid base64")
)

// Secret is the HMAC key tokens are signed with. The zero value is unusable.
// String, GoString, MarshalText and MarshalLogObject never reveal the key.
type Secret struct {
	key       []byte
	generated bool
}

// NewSecret draws SecretSize bytes from the system CSPRNG. Call it once per
// process; every token issued by the process is bound to the result.
func NewSecret() (Secret, error) {
	return newSecretFrom(rand.Reader)
}

func newSecretFrom(r io.Reader) (Secret, error) {
	key := make([]byte, SecretSize)
	if _, err := io.ReadFull(r, key); err != nil {
		return Secret{}, fmt.Errorf("read token secret: %w", err)
	}
	return Secret{key: key, generated: true}, nil
}

// ParseSecret decodes a base64 secret shared between processes. Standard and
// URL alphabets are accepted, padded or not.
func ParseSecret(encoded string) (Secret, error) {
	encoded = strings.TrimSpace(encoded)
	var (
		key []byte
		err error
	)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		key, err = enc.DecodeString(encoded)
		if err == nil {
			break
		}
	}
	if err != nil {
		return Secret{}, ErrSecretEncoding
	}
	if len(key) < SecretSize {
		return Secret{}, ErrSecretTooShort
	}
	return Secret{key: key}, nil
}

// Encode returns the key in standard base64 for distribution to peer
// processes. It is the only accessor that exposes key material.
func (s Secret) Encode() string {
	return base64.StdEncoding.EncodeToString(s.key)
}

// IsZero reports whether s holds no key.
func (s Secret) IsZero() bool {
	return len(s.key) == 0
}

// Generated reports whether s came from NewSecret rather than ParseSecret.
func (s Secret) Generated() bool {
	return s.generated
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return "token.Secret{" + redacted + "}"
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// MarshalLogObject lets zap.Object log a Secret without its key.
func (s Secret) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("key", redacted)
	enc.AddBool("generated", s.generated)
	return nil
}

func (s Secret) bytes() []byte {
	return s.key
}

package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	maxMemoryKB    uint32 = 1024 * 1024
	maxTimeCost    uint32 = 32
	maxParallelism uint8  = 64
	algorithmID           = "argon2id"
)

// ErrMalformedHash is returned by NeedsUpgrade when a stored record cannot be decoded.
var ErrMalformedHash = errors.New("malformed password hash")

// Config holds the Argon2id cost parameters used for new hashes.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the interactive-login parameter set.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes and verifies passwords. It holds no mutable state and is
// safe for concurrent use.
type Argon2 struct {
	config Config
}

// record is a decoded PHC string.
type record struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher bound to it.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &Argon2{config: cfg}, nil
}

// Config returns the parameters new hashes are produced with.
func (a *Argon2) Config() Config {
	return a.config
}

// Hash derives an encoded Argon2id record for password using a fresh random
// salt. Any string is accepted, including the empty string; length policy
// belongs to the caller. The only failure source is the system RNG.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return encode(record{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
		key:         key,
	}), nil
}

// Verify reports whether password matches encoded. The record's own
// parameters are used, so hashes made under older settings still verify.
// A malformed record verifies as false.
func (a *Argon2) Verify(password string, encoded string) bool {
	rec, err := decode(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), rec.salt, rec.time, rec.memory, rec.parallelism, uint32(len(rec.key)))
	return subtle.ConstantTimeCompare(computed, rec.key) == 1
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	rec, err := decode(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > rec.memory,
		a.config.Time > rec.time,
		a.config.Parallelism > rec.parallelism,
		a.config.KeyLength != uint32(len(rec.key)):
		return true, nil
	}
	return false, nil
}

func encode(rec record) string {
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		rec.memory,
		rec.time,
		rec.parallelism,
		base64.RawStdEncoding.EncodeToString(rec.salt),
		base64.RawStdEncoding.EncodeToString(rec.key),
	)
}

// decode parses $argon2id$v=19$m=..,t=..,p=..$salt$key. Padded and unpadded
// base64 are both accepted.
func decode(encoded string) (record, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return record{}, ErrMalformedHash
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return record{}, ErrMalformedHash
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return record{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	var rec record
	if err := parseParams(parts[3], &rec); err != nil {
		return record{}, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return record{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := decodeB64(parts[5])
	if err != nil || len(key) == 0 {
		return record{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}

	rec.salt = salt
	rec.key = key
	return rec, nil
}

func parseParams(part string, rec *record) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return ErrMalformedHash
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB || uint32(v) > maxMemoryKB {
				return fmt.Errorf("%w: memory", ErrMalformedHash)
			}
			rec.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minTimeCost || uint32(v) > maxTimeCost {
				return fmt.Errorf("%w: time", ErrMalformedHash)
			}
			rec.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || uint8(v) < minParallelism || uint8(v) > maxParallelism {
				return fmt.Errorf("%w: parallelism", ErrMalformedHash)
			}
			rec.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KiB")
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.Memory > maxMemoryKB:
		return errors.New("password memory must be <= 1048576 KiB")
	case cfg.Time > maxTimeCost:
		return errors.New("password time must be <= 32")
	case cfg.Parallelism > maxParallelism:
		return errors.New("password parallelism must be <= 64")
	case cfg.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}

package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidKeyHash         = errors.New("invalid api key hash format")
	ErrIncompatibleKeyVersion = errors.New("incompatible api key hash version")
)

type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAPIKey returns an encoded argon2id hash suitable for configuration files.
func HashAPIKey(key string, params Argon2idParams) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("api key cannot be empty")
	}
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(key), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format is $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// VerifyAPIKey checks key against an encoded hash produced by HashAPIKey.
func VerifyAPIKey(encodedHash, key string) error {
	hash, err := parseKeyHash(encodedHash)
	if err != nil {
		return err
	}
	return hash.verify(key)
}

// keyHash is a decoded argon2id hash. Only parseKeyHash constructs one, so
// its parameters are always safe to hand to argon2.IDKey.
type keyHash struct {
	params Argon2idParams
	salt   []byte
	digest []byte
}

func parseKeyHash(encodedHash string) (keyHash, error) {
	parts := strings.Split(strings.TrimSpace(encodedHash), "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return keyHash{}, ErrInvalidKeyHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return keyHash{}, ErrInvalidKeyHash
	}
	if version != argon2.Version {
		return keyHash{}, ErrIncompatibleKeyVersion
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return keyHash{}, ErrInvalidKeyHash
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return keyHash{}, fmt.Errorf("%w: m, t and p must be positive", ErrInvalidKeyHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return keyHash{}, fmt.Errorf("%w: missing salt", ErrInvalidKeyHash)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return keyHash{}, fmt.Errorf("%w: missing digest", ErrInvalidKeyHash)
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(digest))
	return keyHash{params: params, salt: salt, digest: digest}, nil
}

func (h keyHash) verify(key string) error {
	comparison := argon2.IDKey([]byte(key), h.salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	if subtle.ConstantTimeCompare(h.digest, comparison) == 1 {
		return nil
	}
	return ErrUnauthorized
}

// APIKeyAuthenticator validates bearer keys presented by calling applications.
// Successful verifications are remembered for a short TTL keyed by a SHA-256
// digest of the key.
type APIKeyAuthenticator struct {
	hash  keyHash
	cache *verifiedKeyCache
}

// NewAPIKeyAuthenticator decodes and validates the configured hash up front so
// that a malformed value fails at startup rather than on the first request.
func NewAPIKeyAuthenticator(encodedHash string, ttl time.Duration, now func() time.Time) (*APIKeyAuthenticator, error) {
	hash, err := parseKeyHash(encodedHash)
	if err != nil {
		return nil, err
	}
	return &APIKeyAuthenticator{hash: hash, cache: newVerifiedKeyCache(ttl, 64, now)}, nil
}

// Authenticate returns ErrUnauthorized unless key matches the configured hash.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, key string) error {
	if a == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return ErrUnauthorized
	}

	digest := sha256.Sum256([]byte(key))
	cacheKey := hex.EncodeToString(digest[:])
	if a.cache.Contains(cacheKey) {
		return nil
	}

	if err := a.hash.verify(key); err != nil {
		return err
	}
	a.cache.Store(cacheKey)
	return nil
}

// verifiedKeyCache remembers recently verified key digests until they expire.
type verifiedKeyCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]time.Time
}

func newVerifiedKeyCache(ttl time.Duration, maxEntries int, now func() time.Time) *verifiedKeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 64
	}
	if now == nil {
		now = time.Now
	}
	return &verifiedKeyCache{now: now, ttl: ttl, maxEntries: maxEntries, entries: make(map[string]time.Time)}
}

func (c *verifiedKeyCache) Contains(key string) bool {
	c.mu.RLock()
	expiresAt, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if c.now().After(expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *verifiedKeyCache) Store(key string) {
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = expiry
}

func (c *verifiedKeyCache) cleanupLocked() {
	now := c.now()
	for key, expiresAt := range c.entries {
		if now.After(expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *verifiedKeyCache) evictOneLocked() {
	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}

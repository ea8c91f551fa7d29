package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider hands out purpose-scoped symmetric keys. Implementations
// must return the same key for the same purpose for the lifetime of the
// configured secret, and distinct keys for distinct purposes.
type KeyProvider interface {
	Key(purpose string) ([]byte, error)
}

// Key purposes used across the trust core. A purpose is baked into the
// derivation so a leaked token key never doubles as a session key.
const (
	PurposePartialAuth = "partial-auth-token"
	PurposeSessionJWT  = "session-jwt"
)

// DerivedKeyProvider derives 32-byte keys from a configured master
// secret via HKDF-SHA256, using the purpose string as info. Keys are
// never stored in config or code; rotating the master secret rotates
// every derived key.
type DerivedKeyProvider struct {
	secret []byte

	mu    sync.Mutex
	cache map[string][]byte
}

// NewDerivedKeyProvider creates a key provider over the given master secret
func NewDerivedKeyProvider(masterSecret []byte) (*DerivedKeyProvider, error) {
	if len(masterSecret) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}
	secret := make([]byte, len(masterSecret))
	copy(secret, masterSecret)
	return &DerivedKeyProvider{
		secret: secret,
		cache:  make(map[string][]byte),
	}, nil
}

// Key returns the 32-byte key for the given purpose
func (p *DerivedKeyProvider) Key(purpose string) ([]byte, error) {
	if purpose == "" {
		return nil, errors.New("key purpose cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if key, ok := p.cache[purpose]; ok {
		out := make([]byte, len(key))
		copy(out, key)
		return out, nil
	}

	reader := hkdf.New(sha256.New, p.secret, nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	p.cache[purpose] = key
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

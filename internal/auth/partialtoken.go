package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fixflow/internal/security"
)

// PartialAuthData binds a user identity to an in-progress login for the
// window between first-factor success and second-factor completion. It
// lives only inside the encrypted token; nothing is persisted.
type PartialAuthData struct {
	UserID    uuid.UUID `json:"uid"`
	Username  string    `json:"usr"`
	ReturnURL string    `json:"ret"`
	IssuedAt  time.Time `json:"iat"`
}

// PartialAuthTokenizer seals and opens partial-auth tokens with AES-GCM
// under a purpose-scoped key. Transport (query parameter, cookie) is
// the caller's concern; this type only deals in opaque strings.
type PartialAuthTokenizer struct {
	keys security.KeyProvider
	ttl  time.Duration
	now  func() time.Time
}

// NewPartialAuthTokenizer creates a tokenizer with the given lifetime
func NewPartialAuthTokenizer(keys security.KeyProvider, ttl time.Duration) *PartialAuthTokenizer {
	return &PartialAuthTokenizer{
		keys: keys,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Issue serializes and encrypts a payload for the given identity.
// The token is URL-safe.
func (p *PartialAuthTokenizer) Issue(userID uuid.UUID, username, returnURL string) (string, error) {
	data := PartialAuthData{
		UserID:    userID,
		Username:  username,
		ReturnURL: returnURL,
		IssuedAt:  p.now().UTC(),
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal partial auth data: %w", err)
	}

	gcm, err := p.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Read decrypts and validates a token. It fails closed: any decode,
// decryption, or deserialization error, and any token older than the
// configured lifetime, results in (nil, false).
func (p *PartialAuthTokenizer) Read(token string) (*PartialAuthData, bool) {
	if token == "" {
		return nil, false
	}

	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}

	gcm, err := p.aead()
	if err != nil {
		return nil, false
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, false
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}

	var data PartialAuthData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, false
	}
	if data.UserID == uuid.Nil || data.Username == "" {
		return nil, false
	}

	age := p.now().UTC().Sub(data.IssuedAt)
	if age < 0 || age > p.ttl {
		return nil, false
	}

	return &data, true
}

// TTL returns the configured token lifetime
func (p *PartialAuthTokenizer) TTL() time.Duration {
	return p.ttl
}

func (p *PartialAuthTokenizer) aead() (cipher.AEAD, error) {
	key, err := p.keys.Key(security.PurposePartialAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to get partial auth key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixflow/internal/security"
)

func newTestTokenizer(t *testing.T) *PartialAuthTokenizer {
	t.Helper()
	keys, err := security.NewDerivedKeyProvider([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return NewPartialAuthTokenizer(keys, 5*time.Minute)
}

func TestIssueReadRoundTrip(t *testing.T) {
	p := newTestTokenizer(t)
	userID := uuid.New()

	token, err := p.Issue(userID, "admin", "/dashboard")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	data, ok := p.Read(token)
	require.True(t, ok)
	assert.Equal(t, userID, data.UserID)
	assert.Equal(t, "admin", data.Username)
	assert.Equal(t, "/dashboard", data.ReturnURL)
	assert.WithinDuration(t, time.Now().UTC(), data.IssuedAt, 5*time.Second)
}

func TestReadExpiry(t *testing.T) {
	p := newTestTokenizer(t)

	issued := time.Now()
	p.now = func() time.Time { return issued }
	token, err := p.Issue(uuid.New(), "admin", "/")
	require.NoError(t, err)

	// Four minutes in: still valid.
	p.now = func() time.Time { return issued.Add(4 * time.Minute) }
	_, ok := p.Read(token)
	assert.True(t, ok)

	// Six minutes in: absent.
	p.now = func() time.Time { return issued.Add(6 * time.Minute) }
	_, ok = p.Read(token)
	assert.False(t, ok)
}

func TestReadRejectsFutureToken(t *testing.T) {
	p := newTestTokenizer(t)

	issued := time.Now()
	p.now = func() time.Time { return issued }
	token, err := p.Issue(uuid.New(), "admin", "/")
	require.NoError(t, err)

	// A token stamped in the future relative to the reader's clock is
	// treated as invalid, not as extra lifetime.
	p.now = func() time.Time { return issued.Add(-2 * time.Minute) }
	_, ok := p.Read(token)
	assert.False(t, ok)
}

func TestReadTampering(t *testing.T) {
	p := newTestTokenizer(t)

	token, err := p.Issue(uuid.New(), "admin", "/")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)

	// Flipping any single byte must always yield "absent", never a
	// different valid payload.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		_, ok := p.Read(base64.RawURLEncoding.EncodeToString(mutated))
		assert.False(t, ok, "tampered byte %d must not decrypt", i)
	}
}

func TestReadGarbage(t *testing.T) {
	p := newTestTokenizer(t)

	for _, token := range []string{"", "x", "not base64 !!!", base64.RawURLEncoding.EncodeToString([]byte("short"))} {
		_, ok := p.Read(token)
		assert.False(t, ok, "token %q must not read", token)
	}
}

func TestTokensUseUniqueNonces(t *testing.T) {
	p := newTestTokenizer(t)
	userID := uuid.New()

	a, err := p.Issue(userID, "admin", "/")
	require.NoError(t, err)
	b, err := p.Issue(userID, "admin", "/")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestReadAcrossKeyProviders(t *testing.T) {
	p := newTestTokenizer(t)

	otherKeys, err := security.NewDerivedKeyProvider([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	other := NewPartialAuthTokenizer(otherKeys, 5*time.Minute)

	token, err := p.Issue(uuid.New(), "admin", "/")
	require.NoError(t, err)

	_, ok := other.Read(token)
	assert.False(t, ok)
}

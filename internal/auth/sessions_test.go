package auth

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixflow/internal/security"
)

func newTestSessionIssuer(t *testing.T) *SessionIssuer {
	t.Helper()
	keys, err := security.NewDerivedKeyProvider(bytes.Repeat([]byte("s"), 32))
	require.NoError(t, err)
	return NewSessionIssuer(keys, "fixflow", time.Hour)
}

func TestSessionRoundTrip(t *testing.T) {
	issuer := newTestSessionIssuer(t)
	user := &User{ID: uuid.New(), Username: "admin"}

	token, err := issuer.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "fixflow", claims.Issuer)

	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestSessionExpiry(t *testing.T) {
	issuer := newTestSessionIssuer(t)
	user := &User{ID: uuid.New(), Username: "admin"}

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionWrongKeyRejected(t *testing.T) {
	issuer := newTestSessionIssuer(t)
	user := &User{ID: uuid.New(), Username: "admin"}

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	otherKeys, err := security.NewDerivedKeyProvider(bytes.Repeat([]byte("x"), 32))
	require.NoError(t, err)
	other := NewSessionIssuer(otherKeys, "fixflow", time.Hour)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionWrongIssuerRejected(t *testing.T) {
	keys, err := security.NewDerivedKeyProvider(bytes.Repeat([]byte("s"), 32))
	require.NoError(t, err)

	minted := NewSessionIssuer(keys, "someone-else", time.Hour)
	verifier := NewSessionIssuer(keys, "fixflow", time.Hour)

	token, err := minted.Issue(&User{ID: uuid.New(), Username: "admin"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionGarbageRejected(t *testing.T) {
	issuer := newTestSessionIssuer(t)
	_, err := issuer.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

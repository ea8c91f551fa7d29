package auth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCeremony(t *testing.T, repo WebAuthnRepository) *WebAuthnCeremony {
	t.Helper()
	c, err := NewWebAuthnCeremony(WebAuthnConfig{
		RPDisplayName: "FixFlow",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
	}, repo, slog.Default())
	require.NoError(t, err)
	return c
}

func TestCheckSignCount(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		returned uint32
		wantErr  error
	}{
		{"strictly increasing", 5, 6, nil},
		{"large jump", 5, 1000, nil},
		{"equal counters", 5, 5, ErrCredentialCloned},
		{"decreasing counter", 5, 3, ErrCredentialCloned},
		{"returned zero after nonzero", 5, 0, ErrCredentialCloned},
		{"both zero: counter not implemented", 0, 0, nil},
		{"first real increment", 0, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSignCount(tt.stored, tt.returned)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBeginRegistrationOptions(t *testing.T) {
	repo := newMemWebAuthnRepo()
	ceremony := newTestCeremony(t, repo)
	user := &User{ID: uuid.New(), Username: "admin"}

	// Pre-register one active and one revoked credential.
	revokedAt := time.Now()
	require.NoError(t, repo.Insert(context.Background(), &WebAuthnCredential{
		ID: uuid.New(), UserID: user.ID, CredentialID: []byte("cred-active"), PublicKey: []byte("pk"),
	}))
	require.NoError(t, repo.Insert(context.Background(), &WebAuthnCredential{
		ID: uuid.New(), UserID: user.ID, CredentialID: []byte("cred-revoked"), PublicKey: []byte("pk"),
		RevokedAt: &revokedAt,
	}))

	options, err := ceremony.BeginRegistration(context.Background(), user)
	require.NoError(t, err)

	pk := options.Response
	assert.Equal(t, "localhost", pk.RelyingParty.ID)
	assert.NotEmpty(t, pk.Challenge)

	// Only the non-revoked credential is excluded.
	require.Len(t, pk.CredentialExcludeList, 1)
	assert.Equal(t, []byte("cred-active"), []byte(pk.CredentialExcludeList[0].CredentialID))

	assert.Equal(t, protocol.ResidentKeyRequirementDiscouraged, pk.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.VerificationRequired, pk.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.PreferNoAttestation, pk.Attestation)
}

func TestBeginAssertionRequiresCredentials(t *testing.T) {
	ceremony := newTestCeremony(t, newMemWebAuthnRepo())
	user := &User{ID: uuid.New(), Username: "admin"}

	_, err := ceremony.BeginAssertion(context.Background(), user)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestBeginAssertionScopedToActiveCredentials(t *testing.T) {
	repo := newMemWebAuthnRepo()
	ceremony := newTestCeremony(t, repo)
	user := &User{ID: uuid.New(), Username: "admin"}

	revokedAt := time.Now()
	require.NoError(t, repo.Insert(context.Background(), &WebAuthnCredential{
		ID: uuid.New(), UserID: user.ID, CredentialID: []byte("cred-a"), PublicKey: []byte("pk"),
	}))
	require.NoError(t, repo.Insert(context.Background(), &WebAuthnCredential{
		ID: uuid.New(), UserID: user.ID, CredentialID: []byte("cred-b"), PublicKey: []byte("pk"),
		RevokedAt: &revokedAt,
	}))

	options, err := ceremony.BeginAssertion(context.Background(), user)
	require.NoError(t, err)

	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Equal(t, []byte("cred-a"), []byte(options.Response.AllowedCredentials[0].CredentialID))
}

func TestRevoke(t *testing.T) {
	repo := newMemWebAuthnRepo()
	ceremony := newTestCeremony(t, repo)
	user := &User{ID: uuid.New(), Username: "admin"}

	credID := uuid.New()
	require.NoError(t, repo.Insert(context.Background(), &WebAuthnCredential{
		ID: credID, UserID: user.ID, CredentialID: []byte("cred-a"), PublicKey: []byte("pk"),
	}))

	require.NoError(t, ceremony.Revoke(context.Background(), user, credID))

	stored, err := repo.GetByCredentialID(context.Background(), []byte("cred-a"))
	require.NoError(t, err)
	assert.True(t, stored.Revoked())

	// Revoking again fails: the credential is no longer active.
	assert.ErrorIs(t, ceremony.Revoke(context.Background(), user, credID), ErrCredentialNotFound)
}

func TestCeremonyStoreSingleUse(t *testing.T) {
	store := newCeremonyStore(time.Minute)
	session := &webauthn.SessionData{Challenge: "challenge"}

	store.put("k", session)

	got, ok := store.take("k")
	require.True(t, ok)
	assert.Equal(t, session, got)

	_, ok = store.take("k")
	assert.False(t, ok)
}

func TestCeremonyStoreExpiry(t *testing.T) {
	store := newCeremonyStore(-time.Second) // already expired
	store.put("k", &webauthn.SessionData{})

	_, ok := store.take("k")
	assert.False(t, ok)
}

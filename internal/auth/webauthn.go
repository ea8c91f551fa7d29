package auth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// WebAuthnCeremony runs FIDO2 registration and assertion ceremonies.
// Registration excludes already-registered credential IDs, discourages
// resident keys, requires user verification, and requests no
// attestation. Assertions enforce a strictly-increasing signature
// counter as an explicit clone check.
type WebAuthnCeremony struct {
	wa       *webauthn.WebAuthn
	creds    WebAuthnRepository
	sessions *ceremonyStore
	logger   *slog.Logger
	now      func() time.Time
}

// WebAuthnConfig configures the relying party
type WebAuthnConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// NewWebAuthnCeremony creates the ceremony runner
func NewWebAuthnCeremony(cfg WebAuthnConfig, creds WebAuthnRepository, logger *slog.Logger) (*WebAuthnCeremony, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn relying party: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebAuthnCeremony{
		wa:       wa,
		creds:    creds,
		sessions: newCeremonyStore(5 * time.Minute),
		logger:   logger.With(slog.String("component", "webauthn")),
		now:      time.Now,
	}, nil
}

// ceremonyUser adapts a User plus stored credentials to webauthn.User
type ceremonyUser struct {
	user  *User
	creds []WebAuthnCredential
}

func (u *ceremonyUser) WebAuthnID() []byte          { return u.user.ID[:] }
func (u *ceremonyUser) WebAuthnName() string        { return u.user.Username }
func (u *ceremonyUser) WebAuthnDisplayName() string { return u.user.Username }

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, webauthn.Credential{
			ID:        c.CredentialID,
			PublicKey: c.PublicKey,
			Flags: webauthn.CredentialFlags{
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.SignCount,
			},
		})
	}
	return out
}

// activeCredentials loads the user's non-revoked credentials
func (c *WebAuthnCeremony) activeCredentials(ctx context.Context, userID uuid.UUID) ([]WebAuthnCredential, error) {
	all, err := c.creds.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	active := all[:0]
	for _, cred := range all {
		if !cred.Revoked() {
			active = append(active, cred)
		}
	}
	return active, nil
}

// BeginRegistration builds a credential-creation challenge for the user
func (c *WebAuthnCeremony) BeginRegistration(ctx context.Context, user *User) (*protocol.CredentialCreation, error) {
	active, err := c.activeCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(active))
	for _, cred := range active {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.CredentialID,
		})
	}

	options, session, err := c.wa.BeginRegistration(
		&ceremonyUser{user: user, creds: active},
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementDiscouraged,
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	c.sessions.put(registrationSessionKey(user.ID), session)
	return options, nil
}

// FinishRegistration completes the ceremony and persists the new
// credential. Credential ID uniqueness is enforced before insert.
func (c *WebAuthnCeremony) FinishRegistration(ctx context.Context, user *User, label string, r *http.Request) (*WebAuthnCredential, error) {
	session, ok := c.sessions.take(registrationSessionKey(user.ID))
	if !ok {
		return nil, ErrPartialAuthInvalid
	}

	active, err := c.activeCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	cred, err := c.wa.FinishRegistration(&ceremonyUser{user: user, creds: active}, *session, r)
	if err != nil {
		return nil, fmt.Errorf("registration ceremony failed: %w", err)
	}

	if existing, err := c.creds.GetByCredentialID(ctx, cred.ID); err == nil && existing != nil {
		return nil, ErrCredentialExists
	}

	stored := &WebAuthnCredential{
		ID:             uuid.New(),
		UserID:         user.ID,
		CredentialID:   cred.ID,
		PublicKey:      cred.PublicKey,
		SignCount:      cred.Authenticator.SignCount,
		AAGUID:         cred.Authenticator.AAGUID,
		Label:          label,
		BackupEligible: cred.Flags.BackupEligible,
		BackupState:    cred.Flags.BackupState,
		CreatedAt:      c.now().UTC(),
	}
	if err := c.creds.Insert(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	c.logger.InfoContext(ctx, "webauthn credential registered",
		slog.String("user_id", user.ID.String()),
		slog.String("label", label),
		slog.Bool("backup_eligible", stored.BackupEligible),
	)
	return stored, nil
}

// BeginAssertion builds an assertion challenge scoped to the user's
// non-revoked credentials.
func (c *WebAuthnCeremony) BeginAssertion(ctx context.Context, user *User) (*protocol.CredentialAssertion, error) {
	active, err := c.activeCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrCredentialNotFound
	}

	options, session, err := c.wa.BeginLogin(&ceremonyUser{user: user, creds: active})
	if err != nil {
		return nil, fmt.Errorf("failed to begin assertion: %w", err)
	}

	c.sessions.put(assertionSessionKey(user.ID), session)
	return options, nil
}

// FinishAssertion completes the ceremony: the signature is verified
// against the stored public key, and the returned signature counter
// must be strictly greater than the stored one. On success the stored
// counter and last-used timestamp are updated.
func (c *WebAuthnCeremony) FinishAssertion(ctx context.Context, user *User, r *http.Request) (*WebAuthnCredential, error) {
	session, ok := c.sessions.take(assertionSessionKey(user.ID))
	if !ok {
		return nil, ErrPartialAuthInvalid
	}

	active, err := c.activeCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	result, err := c.wa.FinishLogin(&ceremonyUser{user: user, creds: active}, *session, r)
	if err != nil {
		return nil, fmt.Errorf("assertion ceremony failed: %w", err)
	}

	var matched *WebAuthnCredential
	for i := range active {
		if bytes.Equal(active[i].CredentialID, result.ID) {
			matched = &active[i]
			break
		}
	}
	if matched == nil {
		return nil, ErrCredentialNotFound
	}

	if err := CheckSignCount(matched.SignCount, result.Authenticator.SignCount); err != nil {
		c.logger.WarnContext(ctx, "webauthn clone detection triggered",
			slog.String("user_id", user.ID.String()),
			slog.Uint64("stored_count", uint64(matched.SignCount)),
			slog.Uint64("returned_count", uint64(result.Authenticator.SignCount)),
		)
		return nil, err
	}

	usedAt := c.now().UTC()
	if err := c.creds.UpdateSignCount(ctx, matched.CredentialID, result.Authenticator.SignCount, usedAt); err != nil {
		return nil, fmt.Errorf("failed to update credential: %w", err)
	}

	matched.SignCount = result.Authenticator.SignCount
	matched.LastUsedAt = &usedAt
	return matched, nil
}

// Revoke soft-deletes a credential. The row is retained for the audit
// trail and its ID stays on the registration exclusion list.
func (c *WebAuthnCeremony) Revoke(ctx context.Context, user *User, credentialUUID uuid.UUID) error {
	all, err := c.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	for _, cred := range all {
		if cred.ID == credentialUUID && !cred.Revoked() {
			return c.creds.Revoke(ctx, credentialUUID, c.now().UTC())
		}
	}
	return ErrCredentialNotFound
}

// CheckSignCount enforces the clone-detection invariant. Authenticators
// that do not implement a counter report zero on every assertion; that
// is the only case where a non-increasing value is acceptable.
func CheckSignCount(stored, returned uint32) error {
	if stored == 0 && returned == 0 {
		return nil
	}
	if returned <= stored {
		return ErrCredentialCloned
	}
	return nil
}

func registrationSessionKey(userID uuid.UUID) string { return "reg:" + userID.String() }
func assertionSessionKey(userID uuid.UUID) string    { return "login:" + userID.String() }

// ceremonyStore holds in-flight ceremony session data. Entries are
// single-use and expire with the challenge.
type ceremonyStore struct {
	mu      sync.Mutex
	entries map[string]ceremonyEntry
	ttl     time.Duration
}

type ceremonyEntry struct {
	session   *webauthn.SessionData
	expiresAt time.Time
}

func newCeremonyStore(ttl time.Duration) *ceremonyStore {
	return &ceremonyStore{
		entries: make(map[string]ceremonyEntry),
		ttl:     ttl,
	}
}

func (s *ceremonyStore) put(key string, session *webauthn.SessionData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ceremonyEntry{
		session:   session,
		expiresAt: time.Now().Add(s.ttl),
	}
}

func (s *ceremonyStore) take(key string) (*webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	delete(s.entries, key)
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.session, true
}

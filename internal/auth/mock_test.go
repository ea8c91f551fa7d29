package auth

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory repository fakes shared across the package tests.

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*User)}
}

func (r *memUserRepo) add(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, ErrUserNotFound
}

type memTotpRepo struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*TotpSecret
	codes   map[uuid.UUID][]RecoveryCode
}

func newMemTotpRepo() *memTotpRepo {
	return &memTotpRepo{
		secrets: make(map[uuid.UUID]*TotpSecret),
		codes:   make(map[uuid.UUID][]RecoveryCode),
	}
}

func (r *memTotpRepo) Get(_ context.Context, userID uuid.UUID) (*TotpSecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.secrets[userID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, ErrTotpNotEnrolled
}

func (r *memTotpRepo) Save(_ context.Context, secret *TotpSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *secret
	r.secrets[secret.UserID] = &copied
	return nil
}

func (r *memTotpRepo) UpdateLastStep(_ context.Context, userID uuid.UUID, step int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.secrets[userID]; ok {
		s.LastStep = step
		return nil
	}
	return ErrTotpNotEnrolled
}

func (r *memTotpRepo) ListRecoveryCodes(_ context.Context, userID uuid.UUID) ([]RecoveryCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecoveryCode(nil), r.codes[userID]...), nil
}

func (r *memTotpRepo) ReplaceRecoveryCodes(_ context.Context, userID uuid.UUID, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make([]RecoveryCode, 0, len(codes))
	for _, code := range codes {
		rows = append(rows, RecoveryCode{UserID: userID, Code: code, CreatedAt: time.Now()})
	}
	r.codes[userID] = rows
	return nil
}

func (r *memTotpRepo) ConsumeRecoveryCode(_ context.Context, userID uuid.UUID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for i := range r.codes[userID] {
		if r.codes[userID][i].Code == code && r.codes[userID][i].UsedAt == nil {
			r.codes[userID][i].UsedAt = &now
			return nil
		}
	}
	return ErrInvalidCredentials
}

type memWebAuthnRepo struct {
	mu    sync.Mutex
	creds []WebAuthnCredential
}

func newMemWebAuthnRepo() *memWebAuthnRepo {
	return &memWebAuthnRepo{}
}

func (r *memWebAuthnRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]WebAuthnCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WebAuthnCredential
	for _, c := range r.creds {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memWebAuthnRepo) GetByCredentialID(_ context.Context, credentialID []byte) (*WebAuthnCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if bytes.Equal(c.CredentialID, credentialID) {
			copied := c
			return &copied, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (r *memWebAuthnRepo) Insert(_ context.Context, cred *WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if bytes.Equal(c.CredentialID, cred.CredentialID) {
			return ErrCredentialExists
		}
	}
	r.creds = append(r.creds, *cred)
	return nil
}

func (r *memWebAuthnRepo) UpdateSignCount(_ context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.creds {
		if bytes.Equal(r.creds[i].CredentialID, credentialID) {
			r.creds[i].SignCount = signCount
			r.creds[i].LastUsedAt = &lastUsedAt
			return nil
		}
	}
	return ErrCredentialNotFound
}

func (r *memWebAuthnRepo) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.creds {
		if r.creds[i].ID == id {
			r.creds[i].RevokedAt = &at
			return nil
		}
	}
	return ErrCredentialNotFound
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func newMemAuditRepo() *memAuditRepo {
	return &memAuditRepo{}
}

func (r *memAuditRepo) Insert(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memAuditRepo) ListRecent(_ context.Context, limit int) ([]AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]AuditEntry, limit)
	copy(out, r.entries[len(r.entries)-limit:])
	return out, nil
}

func (r *memAuditRepo) last() *AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	entry := r.entries[len(r.entries)-1]
	return &entry
}

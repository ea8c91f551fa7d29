package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is an administrator account subject to multi-factor login
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	TotpEnabled  bool      `json:"totp_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TotpSecret is the shared TOTP secret for one user. LastStep records
// the most recently accepted time step so a code cannot be replayed
// inside the verification skew window.
type TotpSecret struct {
	UserID    uuid.UUID `json:"user_id"`
	Secret    string    `json:"-"`
	LastStep  int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// RecoveryCode is a single-use TOTP fallback code
type RecoveryCode struct {
	UserID    uuid.UUID  `json:"user_id"`
	Code      string     `json:"-"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// WebAuthnCredential is a registered FIDO2 credential. Credentials are
// soft-deleted on revocation: the row stays for the audit trail and its
// credential ID remains excluded from new registrations.
type WebAuthnCredential struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	CredentialID   []byte     `json:"-"`
	PublicKey      []byte     `json:"-"`
	SignCount      uint32     `json:"-"`
	AAGUID         []byte     `json:"-"`
	Label          string     `json:"label"`
	BackupEligible bool       `json:"backup_eligible"`
	BackupState    bool       `json:"backup_state"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Revoked reports whether the credential has been soft-deleted
func (c *WebAuthnCredential) Revoked() bool {
	return c.RevokedAt != nil
}

// Authentication methods recorded in the audit log
const (
	MethodPassword = "password"
	MethodTotp     = "totp"
	MethodRecovery = "recovery_code"
	MethodWebAuthn = "webauthn"
)

// AuditEntry is one immutable authentication attempt record
type AuditEntry struct {
	ID            uuid.UUID  `json:"id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Username      string     `json:"username"`
	Success       bool       `json:"success"`
	Method        string     `json:"method"`
	FailureReason string     `json:"failure_reason,omitempty"`
	IP            string     `json:"ip"`
	UserAgent     string     `json:"user_agent"`
	CreatedAt     time.Time  `json:"created_at"`
}

// UserRepository provides read access to administrator accounts
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// TotpRepository stores TOTP secrets and recovery codes
type TotpRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*TotpSecret, error)
	Save(ctx context.Context, secret *TotpSecret) error
	UpdateLastStep(ctx context.Context, userID uuid.UUID, step int64) error
	ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]RecoveryCode, error)
	ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codes []string) error
	ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, code string) error
}

// WebAuthnRepository stores FIDO2 credentials
type WebAuthnRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]WebAuthnCredential, error)
	GetByCredentialID(ctx context.Context, credentialID []byte) (*WebAuthnCredential, error)
	Insert(ctx context.Context, cred *WebAuthnCredential) error
	UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AuditRepository is append-only: entries are inserted and listed,
// never updated or deleted.
type AuditRepository interface {
	Insert(ctx context.Context, entry *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]AuditEntry, error)
}

package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixflow/internal/auth"
)

// WebAuthnRepository stores FIDO2 credentials. Revocation is a
// soft-delete: the row keeps its credential ID so it stays excluded
// from future registrations.
type WebAuthnRepository struct {
	db *pgxpool.Pool
}

func NewWebAuthnRepository(db *pgxpool.Pool) *WebAuthnRepository {
	return &WebAuthnRepository{db: db}
}

const credentialColumns = `id, user_id, credential_id, public_key, sign_count, aaguid, label,
	backup_eligible, backup_state, last_used_at, revoked_at, created_at`

func (r *WebAuthnRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]auth.WebAuthnCredential, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+credentialColumns+`
		 FROM trust.webauthn_credentials
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.WebAuthnCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *WebAuthnRepository) GetByCredentialID(ctx context.Context, credentialID []byte) (*auth.WebAuthnCredential, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM trust.webauthn_credentials
		 WHERE credential_id = $1`,
		credentialID)

	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrCredentialNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *WebAuthnRepository) Insert(ctx context.Context, cred *auth.WebAuthnCredential) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO trust.webauthn_credentials
		 (id, user_id, credential_id, public_key, sign_count, aaguid, label,
		  backup_eligible, backup_state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		cred.ID, cred.UserID, cred.CredentialID, cred.PublicKey, cred.SignCount,
		cred.AAGUID, cred.Label, cred.BackupEligible, cred.BackupState,
	)
	return err
}

func (r *WebAuthnRepository) UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE trust.webauthn_credentials
		 SET sign_count = $2, last_used_at = $3
		 WHERE credential_id = $1 AND revoked_at IS NULL`,
		credentialID, signCount, lastUsedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrCredentialNotFound
	}
	return nil
}

func (r *WebAuthnRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE trust.webauthn_credentials SET revoked_at = $2
		 WHERE id = $1 AND revoked_at IS NULL`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (*auth.WebAuthnCredential, error) {
	var c auth.WebAuthnCredential
	err := row.Scan(
		&c.ID, &c.UserID, &c.CredentialID, &c.PublicKey, &c.SignCount, &c.AAGUID,
		&c.Label, &c.BackupEligible, &c.BackupState, &c.LastUsedAt, &c.RevokedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

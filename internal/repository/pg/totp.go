package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixflow/internal/auth"
)

// TotpRepository stores TOTP secrets and recovery codes
type TotpRepository struct {
	db *pgxpool.Pool
}

func NewTotpRepository(db *pgxpool.Pool) *TotpRepository {
	return &TotpRepository{db: db}
}

func (r *TotpRepository) Get(ctx context.Context, userID uuid.UUID) (*auth.TotpSecret, error) {
	row := r.db.QueryRow(ctx,
		`SELECT user_id, secret, last_step, created_at
		 FROM trust.totp_secrets
		 WHERE user_id = $1`,
		userID)

	var s auth.TotpSecret
	err := row.Scan(&s.UserID, &s.Secret, &s.LastStep, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrTotpNotEnrolled
		}
		return nil, err
	}
	return &s, nil
}

func (r *TotpRepository) Save(ctx context.Context, secret *auth.TotpSecret) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO trust.totp_secrets (user_id, secret, last_step, created_at)
		 VALUES ($1, $2, 0, NOW())
		 ON CONFLICT (user_id)
		 DO UPDATE SET secret = EXCLUDED.secret, last_step = 0, created_at = NOW()`,
		secret.UserID, secret.Secret,
	)
	return err
}

func (r *TotpRepository) UpdateLastStep(ctx context.Context, userID uuid.UUID, step int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE trust.totp_secrets SET last_step = $2 WHERE user_id = $1 AND last_step < $2`,
		userID, step,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to a concurrent verification of the same step.
		return auth.ErrCodeReplayed
	}
	return nil
}

func (r *TotpRepository) ListRecoveryCodes(ctx context.Context, userID uuid.UUID) ([]auth.RecoveryCode, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, code, used_at, created_at
		 FROM trust.recovery_codes
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RecoveryCode
	for rows.Next() {
		var c auth.RecoveryCode
		if err := rows.Scan(&c.UserID, &c.Code, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceRecoveryCodes swaps the full code set transactionally so a
// re-enrollment never leaves a mix of old and new codes.
func (r *TotpRepository) ReplaceRecoveryCodes(ctx context.Context, userID uuid.UUID, codes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM trust.recovery_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trust.recovery_codes (user_id, code, created_at) VALUES ($1, $2, NOW())`,
			userID, code,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *TotpRepository) ConsumeRecoveryCode(ctx context.Context, userID uuid.UUID, code string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE trust.recovery_codes SET used_at = NOW()
		 WHERE user_id = $1 AND code = $2 AND used_at IS NULL`,
		userID, code,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrInvalidCredentials
	}
	return nil
}

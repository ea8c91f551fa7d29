package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixflow/internal/license"
)

// LicenseStore persists activation rows in trust.licenses. At most one
// row is live; Insert soft-deletes the previous live row in the same
// transaction so the history is append-only.
type LicenseStore struct {
	db *pgxpool.Pool
}

func NewLicenseStore(db *pgxpool.Pool) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, license_key, tier, features, hardware_id, activation_id,
	expires_at, last_phone_home, status, warning_message, deleted_at, created_at, updated_at`

func (s *LicenseStore) GetActive(ctx context.Context) (*license.LicenseInfo, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+licenseColumns+`
		 FROM trust.licenses
		 WHERE deleted_at IS NULL`)

	info, err := scanLicense(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, license.ErrNotActivated
		}
		return nil, err
	}
	return info, nil
}

func (s *LicenseStore) Insert(ctx context.Context, info *license.LicenseInfo) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE trust.licenses SET deleted_at = NOW() WHERE deleted_at IS NULL`,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trust.licenses
		 (id, license_key, tier, features, hardware_id, activation_id,
		  expires_at, last_phone_home, status, warning_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		info.ID, info.LicenseKey, info.Tier, info.Features, info.HardwareID, info.ActivationID,
		info.ExpiresAt, info.LastPhoneHome, info.Status, info.WarningMessage,
		info.CreatedAt, info.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *LicenseStore) Update(ctx context.Context, info *license.LicenseInfo) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE trust.licenses
		 SET expires_at = $2, last_phone_home = $3, status = $4,
		     warning_message = $5, updated_at = $6
		 WHERE id = $1 AND deleted_at IS NULL`,
		info.ID, info.ExpiresAt, info.LastPhoneHome, info.Status,
		info.WarningMessage, info.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return license.ErrNotActivated
	}
	return nil
}

func (s *LicenseStore) SoftDeleteActive(ctx context.Context, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE trust.licenses SET deleted_at = $1 WHERE deleted_at IS NULL`, at)
	return err
}

func (s *LicenseStore) History(ctx context.Context, limit int) ([]license.LicenseInfo, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+licenseColumns+`
		 FROM trust.licenses
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []license.LicenseInfo
	for rows.Next() {
		info, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

func scanLicense(row pgx.Row) (*license.LicenseInfo, error) {
	var info license.LicenseInfo
	err := row.Scan(
		&info.ID, &info.LicenseKey, &info.Tier, &info.Features, &info.HardwareID,
		&info.ActivationID, &info.ExpiresAt, &info.LastPhoneHome, &info.Status,
		&info.WarningMessage, &info.DeletedAt, &info.CreatedAt, &info.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

package license

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the entitlement state of the current license. It is always
// recomputed from stored facts via DetermineStatus, never trusted as a
// stored flag.
type Status string

const (
	StatusNotActivated Status = "not_activated"
	StatusValid        Status = "valid"
	StatusGracePeriod  Status = "grace_period"
	StatusExpired      Status = "expired"
	StatusRevoked      Status = "revoked"
)

// Terminal reports whether the status has no retry path. A revoked
// license requires a fresh activation; an expired one a renewal.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// LicenseInfo is one activation row. Exactly one row is live at a
// time; activating a new key soft-deletes the previous row so the
// activation history is append-only.
type LicenseInfo struct {
	ID             uuid.UUID  `json:"id"`
	LicenseKey     string     `json:"license_key"`
	Tier           string     `json:"tier"`
	Features       string     `json:"features"` // comma-delimited
	HardwareID     string     `json:"hardware_id"`
	ActivationID   string     `json:"activation_id"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastPhoneHome  time.Time  `json:"last_phone_home"`
	Status         Status     `json:"status"`
	WarningMessage string     `json:"warning_message,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FeatureList splits the delimited feature set
func (l *LicenseInfo) FeatureList() []string {
	if l.Features == "" {
		return nil
	}
	parts := strings.Split(l.Features, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinFeatures builds the delimited storage form
func JoinFeatures(features []string) string {
	return strings.Join(features, ",")
}

// UpdateInfo describes an available software update surfaced by a
// phone-home response.
type UpdateInfo struct {
	LatestVersion string `json:"latest_version"`
	DownloadURL   string `json:"download_url,omitempty"`
	SHA256Hash    string `json:"sha256_hash,omitempty"`
}

// PhoneHomeOutcome is the result of one phone-home cycle
type PhoneHomeOutcome struct {
	Status          Status      `json:"status"`
	DaysUntilExpiry int         `json:"days_until_expiry"`
	Warning         string      `json:"warning,omitempty"`
	Update          *UpdateInfo `json:"update,omitempty"`
}

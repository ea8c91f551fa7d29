package license

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the current entitlement state.
// Feature-gate checks happen on hot paths, so the current snapshot is
// swapped atomically and readers never observe a torn update.
type Snapshot struct {
	Status        Status    `json:"status"`
	Tier          string    `json:"tier,omitempty"`
	Features      []string  `json:"features,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	LastPhoneHome time.Time `json:"last_phone_home,omitempty"`
	Warning       string    `json:"warning,omitempty"`
	Version       uint64    `json:"version"`

	featureSet map[string]struct{}
}

// FeatureEnabled is the pure gate function. Before first activation
// everything is enabled (soft-launch policy); expired and revoked
// licenses disable everything; otherwise membership in the cached
// feature set decides.
func (s *Snapshot) FeatureEnabled(feature string) bool {
	return s.FeatureEnabledAt(feature, time.Now())
}

// FeatureEnabledAt answers a gate check at the given instant. An
// expiry that passes between phone-homes closes the gate immediately
// rather than staying open until the next scheduled cycle.
func (s *Snapshot) FeatureEnabledAt(feature string, now time.Time) bool {
	switch s.Status {
	case StatusNotActivated:
		return true
	case StatusExpired, StatusRevoked:
		return false
	default:
		if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			return false
		}
		_, ok := s.featureSet[feature]
		return ok
	}
}

// FeatureGate is the single-writer/many-reader holder for the current
// snapshot.
type FeatureGate struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewFeatureGate starts in the not-activated state
func NewFeatureGate() *FeatureGate {
	g := &FeatureGate{}
	g.publish(&Snapshot{Status: StatusNotActivated})
	return g
}

// Current returns the live snapshot. Never nil.
func (g *FeatureGate) Current() *Snapshot {
	return g.current.Load()
}

// Enabled answers a feature check against the live snapshot
func (g *FeatureGate) Enabled(feature string) bool {
	return g.Current().FeatureEnabled(feature)
}

// publish installs a new snapshot, stamping it with a fresh version
func (g *FeatureGate) publish(s *Snapshot) {
	s.Version = g.version.Add(1)
	if s.featureSet == nil {
		s.featureSet = make(map[string]struct{}, len(s.Features))
		for _, f := range s.Features {
			s.featureSet[f] = struct{}{}
		}
	}
	g.current.Store(s)
}

// snapshotFrom builds a snapshot for a license row with its status
// already recomputed.
func snapshotFrom(info *LicenseInfo, status Status) *Snapshot {
	return &Snapshot{
		Status:        status,
		Tier:          info.Tier,
		Features:      info.FeatureList(),
		ExpiresAt:     info.ExpiresAt,
		LastPhoneHome: info.LastPhoneHome,
		Warning:       info.WarningMessage,
	}
}

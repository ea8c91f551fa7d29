package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fixflow/internal/security"
)

// Config holds the state machine's timing parameters
type Config struct {
	GracePeriodDays   int
	PhoneHomeInterval time.Duration
}

// Manager owns the entitlement state machine. It orchestrates
// Activate, PhoneHome, and Deactivate against the remote authority,
// binds activations to the device fingerprint, and publishes an
// atomically-swapped snapshot that feature gating reads from.
type Manager struct {
	store        Store
	client       *AuthorityClient
	fingerprints *security.FingerprintManager
	cfg          Config
	gate         *FeatureGate
	metrics      *Metrics
	logger       *slog.Logger
	sf           singleflight.Group
	onChange     func(*Snapshot)
	now          func() time.Time
}

// NewManager creates the license manager. Metrics may be nil.
func NewManager(store Store, client *AuthorityClient, fingerprints *security.FingerprintManager, cfg Config, metrics *Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        store,
		client:       client,
		fingerprints: fingerprints,
		cfg:          cfg,
		gate:         NewFeatureGate(),
		metrics:      metrics,
		logger:       logger.With(slog.String("component", "license_manager")),
		now:          time.Now,
	}
}

// OnChange registers a callback invoked after every snapshot swap.
// Must be set before the manager starts serving.
func (m *Manager) OnChange(fn func(*Snapshot)) {
	m.onChange = fn
}

// Load reads the persisted license and publishes its recomputed
// status. Called once at startup.
func (m *Manager) Load(ctx context.Context) error {
	info, err := m.store.GetActive(ctx)
	if errors.Is(err, ErrNotActivated) {
		m.publish(&Snapshot{Status: StatusNotActivated})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load license: %w", err)
	}

	matched, matchErr := m.fingerprints.Matches(info.HardwareID)
	if matchErr != nil {
		m.logger.WarnContext(ctx, "device fingerprint check failed",
			slog.String("error", matchErr.Error()),
		)
	} else if !matched {
		// The stored activation belongs to another machine. Close the
		// gate; a fresh Activate rebinds through the authority.
		snap := snapshotFrom(info, StatusExpired)
		snap.Warning = "license is bound to a different device"
		m.publish(snap)
		m.logger.ErrorContext(ctx, "stored license bound to a different device",
			slog.String("stored_hardware_id", info.HardwareID),
		)
		return nil
	}

	status := m.DetermineStatus(info, m.now())
	m.publish(snapshotFrom(info, status))
	m.logger.InfoContext(ctx, "license loaded",
		slog.String("status", string(status)),
		slog.String("tier", info.Tier),
		slog.Time("expires_at", info.ExpiresAt),
	)
	return nil
}

// Activate submits the key and device identity to the authority and,
// on success, persists a fresh activation row (soft-deleting any prior
// one). Network failure fails the activation outright: unlike
// phone-home, activation requires connectivity.
func (m *Manager) Activate(ctx context.Context, licenseKey string) (*LicenseInfo, error) {
	start := m.now()
	var err error
	defer func() { m.metrics.recordActivation(ctx, start, err) }()

	if licenseKey == "" {
		err = ErrActivationRejected
		return nil, fmt.Errorf("%w: empty license key", err)
	}

	device, err := m.fingerprints.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device fingerprint: %w", err)
	}

	resp, err := m.client.Activate(ctx, ActivateRequest{
		LicenseKey:  licenseKey,
		HardwareID:  device.Fingerprint,
		MachineName: device.MachineName,
		OSInfo:      device.OSInfo,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "activation failed",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	now := m.now().UTC()
	info := &LicenseInfo{
		ID:            uuid.New(),
		LicenseKey:    licenseKey,
		Tier:          resp.Tier,
		Features:      JoinFeatures(resp.Features),
		HardwareID:    device.Fingerprint,
		ActivationID:  resp.ActivationID,
		ExpiresAt:     resp.ExpiresAt,
		LastPhoneHome: now,
		Status:        StatusValid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = m.store.Insert(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to persist activation: %w", err)
	}

	m.publish(snapshotFrom(info, StatusValid))
	m.logger.InfoContext(ctx, "license activated",
		slog.String("tier", info.Tier),
		slog.String("activation_id", info.ActivationID),
		slog.Time("expires_at", info.ExpiresAt),
	)
	return info, nil
}

// PhoneHome revalidates the license with the authority. Concurrent
// calls (scheduled plus admin-forced) collapse into one in-flight
// request. Network failure degrades into GracePeriod or Expired per
// the grace window anchored at the last confirmed phone-home; a
// cancelled call leaves the stored license untouched.
func (m *Manager) PhoneHome(ctx context.Context) (*PhoneHomeOutcome, error) {
	out, err, _ := m.sf.Do("phone-home", func() (interface{}, error) {
		return m.phoneHome(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.(*PhoneHomeOutcome), nil
}

func (m *Manager) phoneHome(ctx context.Context) (*PhoneHomeOutcome, error) {
	start := m.now()
	var err error
	defer func() { m.metrics.recordPhoneHome(ctx, start, err) }()

	info, err := m.store.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if info.Status == StatusRevoked {
		// Terminal: no retry path short of a fresh activation.
		err = ErrLicenseRevoked
		return nil, err
	}

	resp, callErr := m.client.PhoneHome(ctx, PhoneHomeRequest{
		LicenseKey: info.LicenseKey,
		HardwareID: info.HardwareID,
	})

	switch {
	case callErr == nil:
		return m.phoneHomeSucceeded(ctx, info, resp)

	case errors.Is(callErr, ErrLicenseRevoked):
		err = callErr
		return m.phoneHomeRevoked(ctx, info, resp)

	case ctx.Err() != nil:
		// Cancellation must not cause a partial status transition.
		err = ctx.Err()
		return nil, err

	case errors.Is(callErr, ErrAuthorityUnreachable):
		return m.phoneHomeUnreachable(ctx, info)

	default:
		err = callErr
		return nil, err
	}
}

func (m *Manager) phoneHomeSucceeded(ctx context.Context, info *LicenseInfo, resp *PhoneHomeResponse) (*PhoneHomeOutcome, error) {
	now := m.now().UTC()
	prev := info.Status

	info.LastPhoneHome = now
	info.WarningMessage = resp.Warning
	info.Status = StatusValid
	if resp.ExpiresAt != nil {
		info.ExpiresAt = *resp.ExpiresAt
	}
	info.UpdatedAt = now

	if err := m.store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to persist phone-home: %w", err)
	}

	status := m.DetermineStatus(info, now)
	m.metrics.recordTransition(ctx, prev, status)
	m.publish(snapshotFrom(info, status))

	outcome := &PhoneHomeOutcome{
		Status:          status,
		DaysUntilExpiry: resp.DaysUntilExpiry,
		Warning:         resp.Warning,
	}
	if resp.LatestVersion != "" {
		outcome.Update = &UpdateInfo{
			LatestVersion: resp.LatestVersion,
			DownloadURL:   resp.DownloadURL,
			SHA256Hash:    resp.SHA256Hash,
		}
	}
	m.logger.InfoContext(ctx, "phone-home succeeded",
		slog.String("status", string(status)),
		slog.Int("days_until_expiry", resp.DaysUntilExpiry),
	)
	return outcome, nil
}

func (m *Manager) phoneHomeRevoked(ctx context.Context, info *LicenseInfo, resp *PhoneHomeResponse) (*PhoneHomeOutcome, error) {
	now := m.now().UTC()
	prev := info.Status

	info.Status = StatusRevoked
	info.WarningMessage = "license revoked by authority"
	if resp != nil && resp.Warning != "" {
		info.WarningMessage = resp.Warning
	}
	info.UpdatedAt = now

	if err := m.store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to persist revocation: %w", err)
	}

	m.metrics.recordTransition(ctx, prev, StatusRevoked)
	m.publish(snapshotFrom(info, StatusRevoked))
	m.logger.ErrorContext(ctx, "license revoked by authority",
		slog.String("warning", info.WarningMessage),
	)
	return nil, ErrLicenseRevoked
}

func (m *Manager) phoneHomeUnreachable(ctx context.Context, info *LicenseInfo) (*PhoneHomeOutcome, error) {
	now := m.now()
	prev := info.Status
	graceEnds := info.LastPhoneHome.Add(m.graceWindow())

	var status Status
	var warning string
	if now.Before(graceEnds) {
		status = StatusGracePeriod
		daysLeft := int(math.Ceil(graceEnds.Sub(now).Hours() / 24))
		warning = fmt.Sprintf("license server unreachable, %d day(s) of grace remaining", daysLeft)
	} else {
		status = StatusExpired
		warning = "license expired: grace period exhausted while server unreachable"
	}

	info.Status = status
	info.WarningMessage = warning
	info.UpdatedAt = now.UTC()
	if err := m.store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to persist grace transition: %w", err)
	}

	m.metrics.recordTransition(ctx, prev, status)
	m.publish(snapshotFrom(info, status))
	m.logger.WarnContext(ctx, "phone-home failed, degraded mode",
		slog.String("status", string(status)),
		slog.Time("last_phone_home", info.LastPhoneHome),
		slog.String("warning", warning),
	)

	outcome := &PhoneHomeOutcome{Status: status, Warning: warning}
	if status == StatusExpired {
		return outcome, ErrLicenseExpired
	}
	return outcome, nil
}

// Deactivate releases the activation. The authority notification is
// best-effort; local state is cleared regardless.
func (m *Manager) Deactivate(ctx context.Context) error {
	info, err := m.store.GetActive(ctx)
	if errors.Is(err, ErrNotActivated) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.client.Deactivate(ctx, DeactivateRequest{
		LicenseKey: info.LicenseKey,
		HardwareID: info.HardwareID,
	}); err != nil {
		m.logger.WarnContext(ctx, "authority deactivation notification failed",
			slog.String("error", err.Error()),
		)
	}

	if err := m.store.SoftDeleteActive(ctx, m.now().UTC()); err != nil {
		return fmt.Errorf("failed to clear license: %w", err)
	}

	m.publish(&Snapshot{Status: StatusNotActivated})
	m.logger.InfoContext(ctx, "license deactivated")
	return nil
}

// DetermineStatus recomputes the entitlement state from stored facts.
// Pure: safe to call on every read. Revocation short-circuits; expiry
// beats grace; a grace window past its end is expired; missed
// check-ins inside the window degrade to GracePeriod.
func (m *Manager) DetermineStatus(info *LicenseInfo, now time.Time) Status {
	if info.Status == StatusRevoked {
		return StatusRevoked
	}
	if !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt) {
		return StatusExpired
	}
	if now.After(info.LastPhoneHome.Add(m.graceWindow())) {
		return StatusExpired
	}
	if now.After(info.LastPhoneHome.Add(2 * m.cfg.PhoneHomeInterval)) {
		return StatusGracePeriod
	}
	return StatusValid
}

// IsFeatureEnabled answers a feature-gate check against the current
// snapshot.
func (m *Manager) IsFeatureEnabled(ctx context.Context, feature string) bool {
	enabled := m.gate.Current().FeatureEnabledAt(feature, m.now())
	m.metrics.recordFeatureCheck(ctx, feature, enabled)
	return enabled
}

// Snapshot returns the live entitlement snapshot
func (m *Manager) Snapshot() *Snapshot {
	return m.gate.Current()
}

// Status returns the license row together with its recomputed status
func (m *Manager) Status(ctx context.Context) (*LicenseInfo, Status, error) {
	info, err := m.store.GetActive(ctx)
	if errors.Is(err, ErrNotActivated) {
		return nil, StatusNotActivated, nil
	}
	if err != nil {
		return nil, "", err
	}
	return info, m.DetermineStatus(info, m.now()), nil
}

// History lists past activation rows, soft-deleted included
func (m *Manager) History(ctx context.Context, limit int) ([]LicenseInfo, error) {
	return m.store.History(ctx, limit)
}

// Run performs scheduled phone-homes until the context is cancelled
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PhoneHomeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.PhoneHome(ctx); err != nil && !errors.Is(err, ErrNotActivated) {
				m.logger.WarnContext(ctx, "scheduled phone-home failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (m *Manager) graceWindow() time.Duration {
	return time.Duration(m.cfg.GracePeriodDays) * 24 * time.Hour
}

func (m *Manager) publish(s *Snapshot) {
	m.gate.publish(s)
	if m.onChange != nil {
		m.onChange(s)
	}
}

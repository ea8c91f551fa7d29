package license

import "errors"

var (
	// ErrNotActivated means no live license row exists.
	ErrNotActivated = errors.New("license not activated")

	// ErrAuthorityUnreachable is a transient infrastructure failure:
	// the license authority could not be contacted. Activation fails
	// outright on it; phone-home degrades into grace handling.
	ErrAuthorityUnreachable = errors.New("license authority unreachable")

	// ErrActivationRejected means the authority refused the key.
	ErrActivationRejected = errors.New("license activation rejected")

	// ErrLicenseRevoked means the authority explicitly revoked the
	// license. Terminal: only a fresh activation recovers from it.
	ErrLicenseRevoked = errors.New("license revoked by authority")

	// ErrLicenseExpired means the grace window has been exhausted.
	ErrLicenseExpired = errors.New("license expired")
)

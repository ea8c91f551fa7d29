package auth

import "errors"

// Sentinel errors for the authentication flow. Handlers map all
// authentication failures to one generic external message; these exist
// so the audit log and tests can distinguish causes internally.
var (
	// ErrInvalidCredentials covers unknown user, wrong password,
	// wrong TOTP code, and failed assertions alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned by repositories; services fold it
	// into ErrInvalidCredentials before it reaches a handler.
	ErrUserNotFound = errors.New("user not found")

	// ErrTooManyAttempts means the identifier is inside a block window.
	ErrTooManyAttempts = errors.New("too many failed attempts")

	// ErrPartialAuthInvalid covers expired, tampered, and absent
	// partial-auth tokens.
	ErrPartialAuthInvalid = errors.New("partial authentication token invalid or expired")

	// ErrCodeReplayed means a TOTP code for an already-accepted time
	// step was presented again.
	ErrCodeReplayed = errors.New("totp code already used")

	// ErrCredentialCloned means an assertion returned a non-increasing
	// signature counter. Terminal for the credential until the user
	// re-registers it.
	ErrCredentialCloned = errors.New("credential clone detected: signature counter did not increase")

	// ErrCredentialExists means a registration ceremony produced a
	// credential ID that is already stored.
	ErrCredentialExists = errors.New("credential already registered")

	// ErrCredentialNotFound means no stored credential matched the
	// assertion's credential ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrTotpNotEnrolled means the user has no TOTP secret on file.
	ErrTotpNotEnrolled = errors.New("totp not enrolled")
)

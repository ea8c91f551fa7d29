package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP parameters: RFC 6238 defaults, 6 digits over 30-second steps.
// Verification accepts the current step plus or minus one to absorb
// clock drift; replaying a code within that window is prevented by the
// caller persisting the last accepted step per user.
const (
	totpPeriod    = 30
	totpSkewSteps = 1
	totpDigits    = otp.DigitsSix

	recoveryCodeCount = 8
)

// TotpEngine implements shared-secret generation and code verification
type TotpEngine struct {
	issuer string
}

// NewTotpEngine creates a TOTP engine issuing secrets under the given issuer name
func NewTotpEngine(issuer string) *TotpEngine {
	return &TotpEngine{issuer: issuer}
}

// GenerateSecret returns a fresh 160-bit Base32-encoded shared secret
// scoped to the given account name.
func (e *TotpEngine) GenerateSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		SecretSize:  20, // 160 bits
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), nil
}

// VerifyCode checks the code against the secret at the current time.
// Returns the time step the code matched so the caller can reject
// replays of an already-accepted step.
func (e *TotpEngine) VerifyCode(secret, code string) (step int64, ok bool) {
	return e.VerifyCodeAt(secret, code, time.Now())
}

// VerifyCodeAt checks the code at a specific instant. Codes for the
// current step and one step either side are accepted.
func (e *TotpEngine) VerifyCodeAt(secret, code string, at time.Time) (int64, bool) {
	if len(code) != int(totpDigits.Length()) {
		return 0, false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	currentStep := at.Unix() / totpPeriod
	for offset := int64(-totpSkewSteps); offset <= totpSkewSteps; offset++ {
		candidateStep := currentStep + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(candidateStep*totpPeriod, 0), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    totpDigits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return candidateStep, true
		}
	}
	return 0, false
}

// EnrollmentURI returns the otpauth:// URI for authenticator apps
func (e *TotpEngine) EnrollmentURI(accountName, secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=%d",
		url.PathEscape(e.issuer),
		url.PathEscape(accountName),
		secret,
		url.QueryEscape(e.issuer),
		totpPeriod,
	)
}

// EnrollmentQR renders the enrollment URI as a PNG image
func (e *TotpEngine) EnrollmentQR(accountName, secret string, size int) ([]byte, error) {
	key, err := otp.NewKeyFromURL(e.EnrollmentURI(accountName, secret))
	if err != nil {
		return nil, fmt.Errorf("failed to build enrollment key: %w", err)
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode QR PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateRecoveryCodes returns 8 single-use recovery codes formatted
// xxxxx-xxxxx (lowercase hex).
func (e *TotpEngine) GenerateRecoveryCodes() ([]string, error) {
	codes := make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		raw := make([]byte, 5)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		h := hex.EncodeToString(raw)
		codes = append(codes, h[:5]+"-"+h[5:])
	}
	return codes, nil
}

// VerifyRecoveryCode reports whether the candidate matches any of the
// given codes. Matching is exact, case-insensitive. Consumption of a
// matched code is the caller's responsibility.
func (e *TotpEngine) VerifyRecoveryCode(candidate string, codes []string) (matched string, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(candidate))
	for _, code := range codes {
		if subtle.ConstantTimeCompare([]byte(normalized), []byte(strings.ToLower(code))) == 1 {
			return code, true
		}
	}
	return "", false
}

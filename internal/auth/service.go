package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
)

// Second-factor method names surfaced to the login page
const (
	SecondFactorTotp     = "totp"
	SecondFactorWebAuthn = "webauthn"
)

// dummyHash is verified against when the user does not exist so the
// response time does not reveal whether a username is registered.
const dummyHash = "$argon2id$v=19$m=47104,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RequestMeta carries per-request client attributes for the audit log
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginResult is returned after a successful first factor
type LoginResult struct {
	PartialToken  string   `json:"partial_token"`
	SecondFactors []string `json:"second_factors"`
	ReturnURL     string   `json:"return_url,omitempty"`
}

// SessionResult is returned after the full flow completes
type SessionResult struct {
	SessionToken string `json:"session_token"`
	ReturnURL    string `json:"return_url,omitempty"`
}

// TotpEnrollment is returned when a user enrolls TOTP
type TotpEnrollment struct {
	Secret        string   `json:"secret"`
	EnrollmentURI string   `json:"enrollment_uri"`
	QRPng         []byte   `json:"qr_png,omitempty"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Service orchestrates the multi-factor login flow: password check,
// partial-auth token issuance, second-factor ceremony, audit entry,
// session issuance.
type Service struct {
	users    UserRepository
	totpRepo TotpRepository

	hasher   *PasswordHasher
	totp     *TotpEngine
	ceremony *WebAuthnCeremony
	tokens   *PartialAuthTokenizer
	sessions *SessionIssuer
	audit    *AuditLogger
	throttle *AttemptThrottle

	logger *slog.Logger
}

// ServiceDeps bundles the service's collaborators
type ServiceDeps struct {
	Users    UserRepository
	Totp     TotpRepository
	Hasher   *PasswordHasher
	Engine   *TotpEngine
	Ceremony *WebAuthnCeremony
	Tokens   *PartialAuthTokenizer
	Sessions *SessionIssuer
	Audit    *AuditLogger
	Throttle *AttemptThrottle
	Logger   *slog.Logger
}

// NewService creates the authentication service
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    deps.Users,
		totpRepo: deps.Totp,
		hasher:   deps.Hasher,
		totp:     deps.Engine,
		ceremony: deps.Ceremony,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		audit:    deps.Audit,
		throttle: deps.Throttle,
		logger:   logger.With(slog.String("component", "auth_service")),
	}
}

// PasswordLogin runs the first factor. On success it returns a
// partial-auth token and the user's available second factors.
func (s *Service) PasswordLogin(ctx context.Context, username, password, returnURL string, meta RequestMeta) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		// Malformed input is rejected before any storage access.
		return nil, ErrInvalidCredentials
	}

	if s.throttle.IsBlocked(username) || s.throttle.IsBlocked(meta.IP) {
		s.audit.Log(ctx, nil, username, false, MethodPassword, "throttled", meta.IP, meta.UserAgent)
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		// Burn a hash verification anyway to keep timing uniform.
		s.hasher.Verify(password, dummyHash)
		s.recordFailure(ctx, nil, username, MethodPassword, "user_not_found", meta)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.recordFailure(ctx, &user.ID, username, MethodPassword, "invalid_password", meta)
		return nil, ErrInvalidCredentials
	}

	s.throttle.RecordAttempt(username, true)
	s.throttle.RecordAttempt(meta.IP, true)

	token, err := s.tokens.Issue(user.ID, user.Username, returnURL)
	if err != nil {
		return nil, err
	}

	factors, err := s.availableSecondFactors(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, &user.ID, username, true, MethodPassword, "", meta.IP, meta.UserAgent)
	s.logger.InfoContext(ctx, "first factor accepted",
		slog.String("username", username),
		slog.Any("second_factors", factors),
	)

	return &LoginResult{
		PartialToken:  token,
		SecondFactors: factors,
		ReturnURL:     returnURL,
	}, nil
}

// ReadPartialToken validates a partial-auth token and loads its user.
// Fails closed on every decode or lookup problem.
func (s *Service) ReadPartialToken(ctx context.Context, token string) (*User, *PartialAuthData, error) {
	data, ok := s.tokens.Read(token)
	if !ok {
		return nil, nil, ErrPartialAuthInvalid
	}
	user, err := s.users.GetByID(ctx, data.UserID)
	if err != nil {
		return nil, nil, ErrPartialAuthInvalid
	}
	return user, data, nil
}

// ReissuePartialToken extends the MFA window after a successful
// token read (sliding expiry).
func (s *Service) ReissuePartialToken(data *PartialAuthData) (string, error) {
	return s.tokens.Issue(data.UserID, data.Username, data.ReturnURL)
}

// PartialTokenTTL exposes the MFA window length for cookie expiry
func (s *Service) PartialTokenTTL() time.Duration {
	return s.tokens.TTL()
}

// CompleteTotp runs the TOTP second factor and issues a session.
// The matched time step is persisted so the same code cannot be
// replayed inside the skew window.
func (s *Service) CompleteTotp(ctx context.Context, token, code string, meta RequestMeta) (*SessionResult, error) {
	user, data, err := s.ReadPartialToken(ctx, token)
	if err != nil {
		return nil, err
	}

	secret, err := s.totpRepo.Get(ctx, user.ID)
	if err != nil {
		s.recordFailure(ctx, &user.ID, user.Username, MethodTotp, "totp_not_enrolled", meta)
		return nil, ErrInvalidCredentials
	}

	step, ok := s.totp.VerifyCode(secret.Secret, code)
	if !ok {
		s.recordFailure(ctx, &user.ID, user.Username, MethodTotp, "invalid_code", meta)
		return nil, ErrInvalidCredentials
	}
	if step <= secret.LastStep {
		s.recordFailure(ctx, &user.ID, user.Username, MethodTotp, "code_replayed", meta)
		return nil, ErrCodeReplayed
	}
	if err := s.totpRepo.UpdateLastStep(ctx, user.ID, step); err != nil {
		return nil, err
	}

	return s.finishLogin(ctx, user, data, MethodTotp, meta)
}

// CompleteRecoveryCode consumes a single-use recovery code in place of
// a TOTP code.
func (s *Service) CompleteRecoveryCode(ctx context.Context, token, code string, meta RequestMeta) (*SessionResult, error) {
	user, data, err := s.ReadPartialToken(ctx, token)
	if err != nil {
		return nil, err
	}

	rows, err := s.totpRepo.ListRecoveryCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	unused := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UsedAt == nil {
			unused = append(unused, row.Code)
		}
	}

	matched, ok := s.totp.VerifyRecoveryCode(code, unused)
	if !ok {
		s.recordFailure(ctx, &user.ID, user.Username, MethodRecovery, "invalid_recovery_code", meta)
		return nil, ErrInvalidCredentials
	}
	if err := s.totpRepo.ConsumeRecoveryCode(ctx, user.ID, matched); err != nil {
		return nil, err
	}

	return s.finishLogin(ctx, user, data, MethodRecovery, meta)
}

// BeginWebAuthnLogin starts the assertion ceremony for the partial-auth user
func (s *Service) BeginWebAuthnLogin(ctx context.Context, token string) (*protocol.CredentialAssertion, error) {
	user, _, err := s.ReadPartialToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.ceremony.BeginAssertion(ctx, user)
}

// FinishWebAuthnLogin completes the assertion ceremony and issues a session
func (s *Service) FinishWebAuthnLogin(ctx context.Context, token string, r *http.Request, meta RequestMeta) (*SessionResult, error) {
	user, data, err := s.ReadPartialToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if _, err := s.ceremony.FinishAssertion(ctx, user, r); err != nil {
		reason := "assertion_failed"
		if errors.Is(err, ErrCredentialCloned) {
			reason = "credential_clone_detected"
		}
		s.recordFailure(ctx, &user.ID, user.Username, MethodWebAuthn, reason, meta)
		if errors.Is(err, ErrCredentialCloned) {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	return s.finishLogin(ctx, user, data, MethodWebAuthn, meta)
}

// BeginWebAuthnRegistration starts credential registration for an
// already-authenticated user.
func (s *Service) BeginWebAuthnRegistration(ctx context.Context, user *User) (*protocol.CredentialCreation, error) {
	return s.ceremony.BeginRegistration(ctx, user)
}

// FinishWebAuthnRegistration completes credential registration
func (s *Service) FinishWebAuthnRegistration(ctx context.Context, user *User, label string, r *http.Request) (*WebAuthnCredential, error) {
	return s.ceremony.FinishRegistration(ctx, user, label, r)
}

// RevokeWebAuthnCredential soft-deletes one of the user's credentials
func (s *Service) RevokeWebAuthnCredential(ctx context.Context, user *User, credentialID string) error {
	id, err := uuid.Parse(credentialID)
	if err != nil {
		return ErrCredentialNotFound
	}
	return s.ceremony.Revoke(ctx, user, id)
}

// EnrollTotp provisions a fresh TOTP secret and recovery codes for the
// user, replacing any previous enrollment.
func (s *Service) EnrollTotp(ctx context.Context, user *User, withQR bool) (*TotpEnrollment, error) {
	secret, err := s.totp.GenerateSecret(user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.totpRepo.Save(ctx, &TotpSecret{UserID: user.ID, Secret: secret}); err != nil {
		return nil, err
	}

	codes, err := s.totp.GenerateRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := s.totpRepo.ReplaceRecoveryCodes(ctx, user.ID, codes); err != nil {
		return nil, err
	}

	enrollment := &TotpEnrollment{
		Secret:        secret,
		EnrollmentURI: s.totp.EnrollmentURI(user.Username, secret),
		RecoveryCodes: codes,
	}
	if withQR {
		qr, err := s.totp.EnrollmentQR(user.Username, secret, 256)
		if err != nil {
			return nil, err
		}
		enrollment.QRPng = qr
	}
	return enrollment, nil
}

// VerifySession validates a session token and loads its user
func (s *Service) VerifySession(ctx context.Context, token string) (*User, error) {
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) finishLogin(ctx context.Context, user *User, data *PartialAuthData, method string, meta RequestMeta) (*SessionResult, error) {
	session, err := s.sessions.Issue(user)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, &user.ID, user.Username, true, method, "", meta.IP, meta.UserAgent)
	s.logger.InfoContext(ctx, "login completed",
		slog.String("username", user.Username),
		slog.String("method", method),
	)
	return &SessionResult{SessionToken: session, ReturnURL: data.ReturnURL}, nil
}

func (s *Service) availableSecondFactors(ctx context.Context, user *User) ([]string, error) {
	factors := make([]string, 0, 2)

	creds, err := s.ceremony.activeCredentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) > 0 {
		factors = append(factors, SecondFactorWebAuthn)
	}
	if user.TotpEnabled {
		factors = append(factors, SecondFactorTotp)
	}
	return factors, nil
}

// recordFailure writes a failed attempt to the audit log and counts it
// against both the username and source IP throttle buckets.
func (s *Service) recordFailure(ctx context.Context, userID *uuid.UUID, username, method, reason string, meta RequestMeta) {
	s.throttle.RecordAttempt(username, false)
	if meta.IP != "" {
		s.throttle.RecordAttempt(meta.IP, false)
	}
	s.audit.Log(ctx, userID, username, false, method, reason, meta.IP, meta.UserAgent)
}


package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"fixflow/internal/auth"
	apierrors "fixflow/internal/errors"
	"fixflow/internal/middleware"
)

// PartialAuthCookieName carries the encrypted partial-auth token
// between the first-factor and second-factor steps.
const PartialAuthCookieName = "fix_partial_auth"

// AuthHandler exposes the multi-factor login flow
type AuthHandler struct {
	service  *auth.Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAuthHandler creates the authentication handler
func NewAuthHandler(service *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "auth")),
	}
}

// Routes mounts the authentication endpoints
func (h *AuthHandler) Routes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/totp", h.CompleteTotp)
	r.Post("/recovery", h.CompleteRecovery)
	r.Post("/webauthn/login/begin", h.BeginWebAuthnLogin)
	r.Post("/webauthn/login/finish", h.FinishWebAuthnLogin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(h.service))
		r.Post("/totp/enroll", h.EnrollTotp)
		r.Post("/webauthn/register/begin", h.BeginWebAuthnRegistration)
		r.Post("/webauthn/register/finish", h.FinishWebAuthnRegistration)
		r.Delete("/webauthn/credentials/{credentialID}", h.RevokeWebAuthnCredential)
		r.Post("/logout", h.Logout)
	})
}

type loginRequest struct {
	Username  string `json:"username" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,max=1024"`
	ReturnURL string `json:"return_url" validate:"omitempty,max=512"`
}

func (req *loginRequest) Bind(*http.Request) error { return nil }

// Login runs the password first factor and hands back a partial-auth
// token, also set as a cookie for the MFA step.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ErrValidationFailed)
		return
	}

	result, err := h.service.PasswordLogin(r.Context(), req.Username, req.Password, req.ReturnURL, requestMeta(r))
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	h.setPartialCookie(w, result.PartialToken)
	render.JSON(w, r, result)
}

type codeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

func (req *codeRequest) Bind(*http.Request) error { return nil }

// CompleteTotp finishes login with a TOTP code
func (h *AuthHandler) CompleteTotp(w http.ResponseWriter, r *http.Request) {
	h.completeWithCode(w, r, h.service.CompleteTotp)
}

// CompleteRecovery finishes login with a single-use recovery code
func (h *AuthHandler) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	h.completeWithCode(w, r, h.service.CompleteRecoveryCode)
}

func (h *AuthHandler) completeWithCode(w http.ResponseWriter, r *http.Request,
	complete func(ctx context.Context, token, code string, meta auth.RequestMeta) (*auth.SessionResult, error),
) {
	var req codeRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ErrValidationFailed)
		return
	}

	token, ok := h.partialToken(w, r)
	if !ok {
		return
	}

	session, err := complete(r.Context(), token, req.Code, requestMeta(r))
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	h.finishSession(w, r, session)
}

// BeginWebAuthnLogin starts the assertion ceremony for the
// partial-auth user.
func (h *AuthHandler) BeginWebAuthnLogin(w http.ResponseWriter, r *http.Request) {
	token, ok := h.partialToken(w, r)
	if !ok {
		return
	}

	assertion, err := h.service.BeginWebAuthnLogin(r.Context(), token)
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}
	render.JSON(w, r, assertion)
}

// FinishWebAuthnLogin completes the assertion ceremony. The request
// body is the browser's credential response, passed through to the
// ceremony verbatim.
func (h *AuthHandler) FinishWebAuthnLogin(w http.ResponseWriter, r *http.Request) {
	token, ok := h.partialToken(w, r)
	if !ok {
		return
	}

	session, err := h.service.FinishWebAuthnLogin(r.Context(), token, r, requestMeta(r))
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	h.finishSession(w, r, session)
}

type enrollTotpRequest struct {
	WithQR bool `json:"with_qr"`
}

func (req *enrollTotpRequest) Bind(*http.Request) error { return nil }

// EnrollTotp provisions a fresh TOTP secret plus recovery codes for
// the authenticated user.
func (h *AuthHandler) EnrollTotp(w http.ResponseWriter, r *http.Request) {
	var req enrollTotpRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	user := middleware.UserFromContext(r.Context())
	enrollment, err := h.service.EnrollTotp(r.Context(), user, req.WithQR)
	if err != nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, enrollment)
}

// BeginWebAuthnRegistration starts credential registration
func (h *AuthHandler) BeginWebAuthnRegistration(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	creation, err := h.service.BeginWebAuthnRegistration(r.Context(), user)
	if err != nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, creation)
}

// FinishWebAuthnRegistration completes credential registration. The
// device label arrives via query parameter since the body is the raw
// authenticator response.
func (h *AuthHandler) FinishWebAuthnRegistration(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	label := r.URL.Query().Get("label")

	cred, err := h.service.FinishWebAuthnRegistration(r.Context(), user, label, r)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialExists) {
			render.Render(w, r, apierrors.ErrValidation("credential", "already registered"))
			return
		}
		h.renderAuthError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, cred)
}

// RevokeWebAuthnCredential soft-deletes one of the user's credentials
func (h *AuthHandler) RevokeWebAuthnCredential(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	credentialID := chi.URLParam(r, "credentialID")

	if err := h.service.RevokeWebAuthnCredential(r.Context(), user, credentialID); err != nil {
		render.Render(w, r, apierrors.NotFoundError("credential"))
		return
	}
	render.NoContent(w, r)
}

// Logout clears the session cookie. The JWT itself simply ages out.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, middleware.SessionCookieName)
	render.NoContent(w, r)
}

// partialToken extracts the partial-auth token, preferring the URL
// parameter over the cookie. A successful read slides the cookie
// expiry by re-issuing; any failure clears the cookie and responds.
func (h *AuthHandler) partialToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if cookie, err := r.Cookie(PartialAuthCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		render.Render(w, r, apierrors.ErrPartialAuthExpired)
		return "", false
	}

	_, data, err := h.service.ReadPartialToken(r.Context(), token)
	if err != nil {
		clearCookie(w, PartialAuthCookieName)
		render.Render(w, r, apierrors.ErrPartialAuthExpired)
		return "", false
	}

	refreshed, err := h.service.ReissuePartialToken(data)
	if err == nil {
		h.setPartialCookie(w, refreshed)
		return refreshed, true
	}
	return token, true
}

func (h *AuthHandler) finishSession(w http.ResponseWriter, r *http.Request, session *auth.SessionResult) {
	clearCookie(w, PartialAuthCookieName)
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.SessionToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	render.JSON(w, r, session)
}

func (h *AuthHandler) setPartialCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     PartialAuthCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.service.PartialTokenTTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) renderAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTooManyAttempts):
		render.Render(w, r, apierrors.ErrTooManyAttempts)
	case errors.Is(err, auth.ErrPartialAuthInvalid):
		clearCookie(w, PartialAuthCookieName)
		render.Render(w, r, apierrors.ErrPartialAuthExpired)
	default:
		// Wrong password, wrong code, failed assertion, cloned
		// credential: all collapse into one generic response.
		clearCookie(w, PartialAuthCookieName)
		render.Render(w, r, apierrors.ErrAuthenticationFailed)
	}
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func requestMeta(r *http.Request) auth.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return auth.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}

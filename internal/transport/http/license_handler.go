package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "fixflow/internal/errors"
	"fixflow/internal/license"
)

// LicenseHandler exposes the entitlement state machine
type LicenseHandler struct {
	manager  *license.Manager
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates the license handler
func NewLicenseHandler(manager *license.Manager, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		manager:  manager,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Routes mounts the license endpoints
func (h *LicenseHandler) Routes(r chi.Router) {
	r.Get("/", h.Status)
	r.Post("/activate", h.Activate)
	r.Post("/phone-home", h.ForcePhoneHome)
	r.Delete("/", h.Deactivate)
	r.Get("/history", h.History)
	r.Get("/features/{feature}", h.FeatureCheck)
}

type activateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8,max=128"`
}

func (req *activateRequest) Bind(*http.Request) error { return nil }

type statusResponse struct {
	Status  license.Status       `json:"status"`
	License *license.LicenseInfo `json:"license,omitempty"`
	Warning string               `json:"warning,omitempty"`
}

// Status reports the current license row with its recomputed status
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	info, status, err := h.manager.Status(r.Context())
	if err != nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	resp := statusResponse{Status: status, License: info}
	if info != nil {
		resp.Warning = info.WarningMessage
	}
	render.JSON(w, r, resp)
}

// Activate submits a license key for this device
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.ErrValidation("license_key", "invalid license key format"))
		return
	}

	info, err := h.manager.Activate(r.Context(), req.LicenseKey)
	if err != nil {
		h.renderLicenseError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, info)
}

// ForcePhoneHome triggers an immediate revalidation. Concurrent with
// the scheduled run; the manager collapses them into one request.
func (h *LicenseHandler) ForcePhoneHome(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.manager.PhoneHome(r.Context())
	if err != nil {
		h.renderLicenseError(w, r, err)
		return
	}
	render.JSON(w, r, outcome)
}

// Deactivate releases the activation
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Deactivate(r.Context()); err != nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.NoContent(w, r)
}

// History lists past activations, soft-deleted rows included
func (h *LicenseHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	rows, err := h.manager.History(r.Context(), limit)
	if err != nil {
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, rows)
}

type featureCheckResponse struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// FeatureCheck answers a single feature-gate query
func (h *LicenseHandler) FeatureCheck(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	render.JSON(w, r, featureCheckResponse{
		Feature: feature,
		Enabled: h.manager.IsFeatureEnabled(r.Context(), feature),
	})
}

func (h *LicenseHandler) renderLicenseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, license.ErrNotActivated):
		render.Render(w, r, apierrors.New(http.StatusConflict, "NOT_ACTIVATED", "No license is activated"))
	case errors.Is(err, license.ErrActivationRejected):
		render.Render(w, r, apierrors.New(http.StatusUnprocessableEntity, "ACTIVATION_REJECTED", "License key was rejected"))
	case errors.Is(err, license.ErrLicenseRevoked):
		render.Render(w, r, apierrors.New(http.StatusForbidden, "LICENSE_REVOKED", "License has been revoked"))
	case errors.Is(err, license.ErrLicenseExpired):
		render.Render(w, r, apierrors.New(http.StatusForbidden, "LICENSE_EXPIRED", "License has expired"))
	case errors.Is(err, license.ErrAuthorityUnreachable):
		render.Render(w, r, apierrors.ErrServiceUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), "license operation failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.ErrInternalServer)
	}
}

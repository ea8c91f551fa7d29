package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Wire types for the license authority protocol (HTTPS, JSON).

// ActivateRequest is submitted once per device activation
type ActivateRequest struct {
	LicenseKey  string `json:"licenseKey"`
	HardwareID  string `json:"hardwareId"`
	MachineName string `json:"machineName"`
	OSInfo      string `json:"osInfo"`
}

// ActivateResponse is the authority's activation verdict
type ActivateResponse struct {
	Success      bool      `json:"success"`
	Tier         string    `json:"tier"`
	Features     []string  `json:"features"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ActivationID string    `json:"activationId"`
	Message      string    `json:"message,omitempty"`
}

// PhoneHomeRequest is the periodic revalidation payload
type PhoneHomeRequest struct {
	LicenseKey string `json:"licenseKey"`
	HardwareID string `json:"hardwareId"`
}

// PhoneHomeResponse carries the authority's current view of the
// license plus an optional available-update descriptor. A revoked
// license is signalled by success=false with reason "revoked".
type PhoneHomeResponse struct {
	Success         bool       `json:"success"`
	Reason          string     `json:"reason,omitempty"`
	DaysUntilExpiry int        `json:"daysUntilExpiry"`
	Warning         string     `json:"warning,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	LatestVersion   string     `json:"latestVersion,omitempty"`
	DownloadURL     string     `json:"downloadUrl,omitempty"`
	SHA256Hash      string     `json:"sha256Hash,omitempty"`
}

// DeactivateRequest releases the activation server-side
type DeactivateRequest struct {
	LicenseKey string `json:"licenseKey"`
	HardwareID string `json:"hardwareId"`
}

const reasonRevoked = "revoked"

// AuthorityClient talks to the remote license authority. Every call
// takes a context; transport failures map to ErrAuthorityUnreachable
// so the state machine can distinguish outages from rejections.
type AuthorityClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewAuthorityClient creates a client for the given authority base URL
func NewAuthorityClient(baseURL string, timeout time.Duration, logger *slog.Logger) *AuthorityClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "license_authority")),
	}
}

// Activate submits an activation request
func (c *AuthorityClient) Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error) {
	var resp ActivateResponse
	if err := c.post(ctx, "/activate", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		c.logger.WarnContext(ctx, "activation rejected",
			slog.String("message", resp.Message),
		)
		return nil, fmt.Errorf("%w: %s", ErrActivationRejected, resp.Message)
	}
	return &resp, nil
}

// PhoneHome submits a revalidation request
func (c *AuthorityClient) PhoneHome(ctx context.Context, req PhoneHomeRequest) (*PhoneHomeResponse, error) {
	var resp PhoneHomeResponse
	if err := c.post(ctx, "/phone-home", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Reason == reasonRevoked {
			return &resp, ErrLicenseRevoked
		}
		return nil, fmt.Errorf("phone-home refused: %s", resp.Reason)
	}
	return &resp, nil
}

// Deactivate notifies the authority that the activation is released
func (c *AuthorityClient) Deactivate(ctx context.Context, req DeactivateRequest) error {
	return c.post(ctx, "/deactivate", req, nil)
}

func (c *AuthorityClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "authority request failed",
			slog.String("path", path),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrAuthorityUnreachable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		io.Copy(io.Discard, httpResp.Body)
		return fmt.Errorf("%w: authority returned %d", ErrAuthorityUnreachable, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return fmt.Errorf("authority returned unexpected status %d", httpResp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, httpResp.Body)
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode authority response: %w", err)
	}
	return nil
}

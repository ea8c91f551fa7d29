package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientActivateRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ActivateResponse{Success: false, Message: "unknown key"})
	}))
	defer srv.Close()

	c := NewAuthorityClient(srv.URL, time.Second, nil)
	_, err := c.Activate(context.Background(), ActivateRequest{LicenseKey: "BAD"})
	assert.ErrorIs(t, err, ErrActivationRejected)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestClientUnreachableMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewAuthorityClient(srv.URL, time.Second, nil)
	_, err := c.PhoneHome(context.Background(), PhoneHomeRequest{LicenseKey: "K"})
	assert.ErrorIs(t, err, ErrAuthorityUnreachable)
}

func TestClientServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAuthorityClient(srv.URL, time.Second, nil)
	_, err := c.PhoneHome(context.Background(), PhoneHomeRequest{LicenseKey: "K"})
	assert.ErrorIs(t, err, ErrAuthorityUnreachable)
}

func TestClientRevokedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PhoneHomeResponse{Success: false, Reason: "revoked", Warning: "chargeback"})
	}))
	defer srv.Close()

	c := NewAuthorityClient(srv.URL, time.Second, nil)
	resp, err := c.PhoneHome(context.Background(), PhoneHomeRequest{LicenseKey: "K"})
	require.ErrorIs(t, err, ErrLicenseRevoked)
	require.NotNil(t, resp)
	assert.Equal(t, "chargeback", resp.Warning)
}

func TestClientCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewAuthorityClient(srv.URL, 10*time.Second, nil)
	_, err := c.PhoneHome(ctx, PhoneHomeRequest{LicenseKey: "K"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientSendsJSONPayload(t *testing.T) {
	var got ActivateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ActivateResponse{Success: true, Tier: "Pro"})
	}))
	defer srv.Close()

	c := NewAuthorityClient(srv.URL+"/", time.Second, nil)
	resp, err := c.Activate(context.Background(), ActivateRequest{
		LicenseKey:  "KEY-9",
		HardwareID:  "hw",
		MachineName: "host-1",
		OSInfo:      "linux/amd64",
	})
	require.NoError(t, err)
	assert.Equal(t, "Pro", resp.Tier)
	assert.Equal(t, "KEY-9", got.LicenseKey)
	assert.Equal(t, "hw", got.HardwareID)
}

package httpgateway_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/gateway"
	"github.com/xraph/tally/gateway/httpgateway"
	"github.com/xraph/tally/types"
)

func TestCreateSession(t *testing.T) {
	expires := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, httpgateway.Sign(body, r.Header.Get("X-Timestamp"), "s3cret"), r.Header.Get("X-Signature"))

		var req gateway.SessionRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "GW-1", req.PaymentReference)
		assert.Equal(t, types.USD(600), req.Amount)

		_ = json.NewEncoder(w).Encode(gateway.Session{
			GatewayReference: "sess_123",
			PaymentURL:       "https://pay.example.com/sess_123",
			ExpiresAt:        expires,
		})
	}))
	defer srv.Close()

	c := httpgateway.New(httpgateway.Config{Name: "acme", BaseURL: srv.URL, APIKey: "key-1", Secret: "s3cret"}, nil)
	assert.Equal(t, "acme", c.Name())

	sess, err := c.CreateSession(t.Context(), gateway.SessionRequest{
		PaymentReference: "GW-1",
		InvoiceNumber:    "INV-1",
		Amount:           types.USD(600),
		ExpiresAt:        expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess_123", sess.GatewayReference)
	assert.Equal(t, "https://pay.example.com/sess_123", sess.PaymentURL)
	assert.True(t, expires.Equal(sess.ExpiresAt))
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/sessions/sess_ok":
			_, _ = io.WriteString(w, `{"status":"succeeded","tracking_code":"TRK-9","amount":{"amount":600,"currency":"usd"}}`)
		case "/sessions/sess_weird":
			_, _ = io.WriteString(w, `{"status":"exploded"}`)
		default:
			http.Error(w, "no such session", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := httpgateway.New(httpgateway.Config{BaseURL: srv.URL}, nil)

	rcpt, err := c.Verify(t.Context(), "sess_ok")
	require.NoError(t, err)
	assert.Equal(t, gateway.ReceiptSucceeded, rcpt.Status)
	assert.Equal(t, "TRK-9", rcpt.TrackingCode)
	assert.Equal(t, "sess_ok", rcpt.GatewayReference)
	assert.Equal(t, types.USD(600), rcpt.Amount)

	_, err = c.Verify(t.Context(), "sess_weird")
	assert.ErrorIs(t, err, errs.ErrGateway)

	_, err = c.Verify(t.Context(), "missing")
	assert.ErrorIs(t, err, errs.ErrGateway)
	assert.True(t, errs.IsGateway(err))
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := httpgateway.New(httpgateway.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Verify(t.Context(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGatewayTimeout)
}

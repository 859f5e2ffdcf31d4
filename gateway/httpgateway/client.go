// Package httpgateway is a JSON-over-HTTP gateway.Client.
//
// Requests are signed with an HMAC-SHA256 of the body and a unix timestamp
// (X-Timestamp, X-Signature) using the configured secret.
package httpgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/gateway"
)

// Config configures the HTTP gateway client.
type Config struct {
	Name    string        `json:"name" mapstructure:"name" yaml:"name"`
	BaseURL string        `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	Secret  string        `json:"secret" mapstructure:"secret" yaml:"secret"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
}

// Client talks to a hosted-payment gateway over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

var _ gateway.Client = (*Client)(nil)

// New creates a Client. A zero Timeout defaults to 30 seconds.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Name implements gateway.Client.
func (c *Client) Name() string { return c.cfg.Name }

// CreateSession implements gateway.Client.
func (c *Client) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	var sess gateway.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &sess); err != nil {
		return nil, err
	}
	if sess.GatewayReference == "" {
		return nil, errs.With(errs.ErrGateway, "session for %s has no reference", req.PaymentReference)
	}
	c.logger.Debug("gateway session created",
		"gateway", c.cfg.Name,
		"payment_reference", req.PaymentReference,
		"gateway_reference", sess.GatewayReference,
	)
	return &sess, nil
}

// Verify implements gateway.Client.
func (c *Client) Verify(ctx context.Context, gatewayReference string) (*gateway.Receipt, error) {
	var rcpt gateway.Receipt
	path := "/sessions/" + url.PathEscape(gatewayReference)
	if err := c.do(ctx, http.MethodGet, path, nil, &rcpt); err != nil {
		return nil, err
	}
	switch rcpt.Status {
	case gateway.ReceiptPending, gateway.ReceiptSucceeded, gateway.ReceiptFailed:
	default:
		return nil, errs.With(errs.ErrGateway, "unknown receipt status %q", rcpt.Status)
	}
	if rcpt.GatewayReference == "" {
		rcpt.GatewayReference = gatewayReference
	}
	return &rcpt, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("httpgateway: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpgateway: build request: %w", err)
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", Sign(body, ts, c.cfg.Secret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return errs.Wrap(errs.ErrGatewayTimeout, err)
		}
		return errs.Wrap(errs.ErrGateway, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.Wrap(errs.ErrGateway, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("gateway returned non-2xx status",
			"gateway", c.cfg.Name,
			"path", path,
			"status_code", resp.StatusCode,
		)
		return errs.With(errs.ErrGateway, "%s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Wrap(errs.ErrGateway, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body and timestamp under secret.
func Sign(body []byte, timestamp, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	h.Write([]byte("."))
	h.Write([]byte(timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

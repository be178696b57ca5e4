// Package accounts hands confirmed registrations to the account service.
package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Registration is the body of POST /api/account. Password carries the bcrypt hash, never the plain text.
type Registration struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	RequestID     string `json:"requestId"`
	EmailVerified bool   `json:"emailVerified"`
}

// TokenSource mints the service bearer token for each call.
type TokenSource interface {
	Issue() (string, error)
}

// Client calls the account service.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	backoff func() retry.Backoff
}

// NewClient returns a client for baseURL (e.g. http://account-service:8080).
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
		},
	}
}

// Register posts reg to the account service. Connection failures and 5xx responses are retried; any other
// non-2xx status fails immediately.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return oops.Code("ACCOUNT_ENCODE_FAILED").Wrap(err)
	}
	url := c.baseURL + "/api/account"

	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		token, err := c.tokens.Issue()
		if err != nil {
			return oops.Code("SERVICE_TOKEN_FAILED").Wrap(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return oops.Code("ACCOUNT_REQUEST_FAILED").Wrap(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(oops.Code("ACCOUNT_UNAVAILABLE").With("url", url).Wrap(err))
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = oops.Code("ACCOUNT_REJECTED").
			With("status", resp.StatusCode).
			With("body", strings.TrimSpace(string(body))).
			Wrap(fmt.Errorf("account service returned %s", resp.Status))
		if resp.StatusCode >= 500 {
			return retry.RetryableError(err)
		}
		return err
	})
}

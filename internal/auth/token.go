// Package auth acquires OAuth2 client-credentials tokens for the upstream
// platforms.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrMissingCredentials is returned when the client id or secret is not
// configured. This is fatal: no upstream call can proceed without a token.
var ErrMissingCredentials = errors.New("missing client credentials")

// TokenSource yields a bearer token for upstream requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials implements TokenSource against an OAuth2 token endpoint
// using the client_credentials grant. Tokens are cached until shortly before
// expiry.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string // optional

	client *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentials creates a token source for the given endpoint.
func NewClientCredentials(tokenURL, clientID, clientSecret, audience string) *ClientCredentials {
	return &ClientCredentials{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Audience:     audience,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token returns a cached token or fetches a fresh one.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if c.TokenURL == "" || c.ClientID == "" || c.ClientSecret == "" {
		return "", ErrMissingCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	if c.Audience != "" {
		form.Set("audience", c.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token endpoint returned no access_token")
	}

	c.token = tr.AccessToken
	if tr.ExpiresIn > 0 {
		// Renew a minute early so in-flight requests never carry a
		// token that expires mid-call.
		c.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	} else {
		c.expiresAt = time.Now().Add(5 * time.Minute)
	}

	return c.token, nil
}

// Static is a TokenSource returning a fixed token. Used in tests.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

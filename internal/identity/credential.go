// Package identity provides credential providers that obtain bearer tokens
// from the Microsoft identity platform.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultAuthorityHost is the public-cloud Microsoft identity endpoint.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// expiryBuffer is the time before actual expiry when we consider the token
// expired, so in-flight requests never carry a token that lapses mid-call.
const expiryBuffer = 30 * time.Second

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
	defaultFetchTimeout = 15 * time.Second
)

// ClientSecretConfig configures a ClientSecretCredential.
type ClientSecretConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// AuthorityHost defaults to DefaultAuthorityHost.
	AuthorityHost string

	// RetryMax is the number of retries for transient token endpoint
	// failures. Negative disables retries; zero uses the default.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// ClientSecretCredential fetches tokens with the OAuth2 client credentials
// grant and caches them per scope until shortly before they expire.
type ClientSecretCredential struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *retryablehttp.Client
	log          *slog.Logger
	now          func() time.Time

	mu     sync.RWMutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type tokenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// NewClientSecretCredential validates cfg and returns a credential.
func NewClientSecretCredential(cfg ClientSecretConfig) (*ClientSecretCredential, error) {
	var missing []string
	if cfg.TenantID == "" {
		missing = append(missing, "tenant ID")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "client ID")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("identity: missing %s", strings.Join(missing, ", "))
	}

	authority := strings.TrimRight(cfg.AuthorityHost, "/")
	if authority == "" {
		authority = DefaultAuthorityHost
	}
	tokenURL, err := url.JoinPath(authority, url.PathEscape(cfg.TenantID), "oauth2", "v2.0", "token")
	if err != nil {
		return nil, fmt.Errorf("identity: invalid authority host %q: %w", cfg.AuthorityHost, err)
	}

	log := slog.Default().With("component", "identity")

	client := retryablehttp.NewClient()
	client.Logger = log
	client.HTTPClient.Timeout = defaultFetchTimeout
	client.RetryMax = defaultRetryMax
	switch {
	case cfg.RetryMax < 0:
		client.RetryMax = 0
	case cfg.RetryMax > 0:
		client.RetryMax = cfg.RetryMax
	}
	client.RetryWaitMin = orDefault(cfg.RetryWaitMin, defaultRetryWaitMin)
	client.RetryWaitMax = orDefault(cfg.RetryWaitMax, defaultRetryWaitMax)
	// Hand the final response back so the token endpoint's error body can
	// be reported instead of a generic "giving up" message.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &ClientSecretCredential{
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		log:          log,
		now:          time.Now,
		tokens:       make(map[string]cachedToken),
	}, nil
}

// GetToken returns a valid access token for scope, fetching a new one if
// the cached token is missing or about to expire.
func (c *ClientSecretCredential) GetToken(ctx context.Context, scope string) (string, error) {
	c.mu.RLock()
	if token, ok := c.valid(scope); ok {
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed it while we waited.
	if token, ok := c.valid(scope); ok {
		return token, nil
	}
	c.log.Debug("fetching access token", "scope", scope)

	token, expiresAt, err := c.fetchToken(ctx, scope)
	if err != nil {
		return "", err
	}
	if expiresAt.IsZero() {
		c.log.Warn("access token carries no expiry; not caching", "scope", scope)
		return token, nil
	}

	c.tokens[scope] = cachedToken{value: token, expiresAt: expiresAt}
	c.log.Info("fetched new access token",
		"scope", scope,
		"expires_at", expiresAt.Format(time.RFC3339),
	)
	return token, nil
}

// valid must be called with at least a read lock held.
func (c *ClientSecretCredential) valid(scope string) (string, bool) {
	cached, ok := c.tokens[scope]
	if !ok {
		return "", false
	}
	return cached.value, c.now().Add(expiryBuffer).Before(cached.expiresAt)
}

func (c *ClientSecretCredential) fetchToken(ctx context.Context, scope string) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {scope},
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, []byte(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("identity: read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenErr tokenErrorResponse
		if json.Unmarshal(raw, &tokenErr) == nil && tokenErr.Error != "" {
			return "", time.Time{}, fmt.Errorf("identity: token endpoint returned %d: %s: %s",
				resp.StatusCode, tokenErr.Error, tokenErr.Description)
		}
		return "", time.Time{}, fmt.Errorf("identity: token endpoint returned %d: %s", resp.StatusCode, string(raw))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(raw, &tokenResp); err != nil {
		return "", time.Time{}, fmt.Errorf("identity: decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", time.Time{}, errors.New("identity: empty access token in response")
	}

	return tokenResp.AccessToken, c.expiry(tokenResp), nil
}

// expiry prefers expires_in and falls back to the JWT exp claim. It returns
// the zero time when neither is usable.
func (c *ClientSecretCredential) expiry(resp tokenResponse) time.Time {
	if seconds, err := resp.ExpiresIn.Int64(); err == nil && seconds > 0 {
		return c.now().Add(time.Duration(seconds) * time.Second)
	}

	token, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

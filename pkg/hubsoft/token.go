package hubsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// tokenRefreshMargin renews the token this long before it expires.
	tokenRefreshMargin = 300 * time.Second

	// tokenRefreshMinInterval throttles refresh attempts so an upstream
	// auth outage cannot turn into a request storm.
	tokenRefreshMinInterval = time.Second
)

// tokenManager owns the OAuth password-grant token. Refreshes are
// serialized; concurrent callers wait for the one in flight. The token
// value itself is never logged.
type tokenManager struct {
	baseURL      string
	clientID     string
	clientSecret string
	user         string
	password     string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	lastAttempt time.Time
}

func newTokenManager(baseURL, clientID, clientSecret, user, password string, httpClient *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		user:         user,
		password:     password,
		httpClient:   httpClient,
	}
}

// Token returns a valid access token, refreshing if it is missing or
// inside the renewal margin.
func (m *tokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.accessToken != "" && time.Now().Before(m.expiresAt.Add(-tokenRefreshMargin)) {
		return m.accessToken, nil
	}
	if since := time.Since(m.lastAttempt); since < tokenRefreshMinInterval {
		select {
		case <-time.After(tokenRefreshMinInterval - since):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.lastAttempt = time.Now()

	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}
	return m.accessToken, nil
}

// Invalidate drops the cached token. Called on a 401 so the next call
// authenticates from scratch.
func (m *tokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.expiresAt = time.Time{}
}

func (m *tokenManager) refreshLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"username":      {m.user},
		"password":      {m.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "authentication failed"}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("token response carried no access_token")
	}

	m.accessToken = body.AccessToken
	m.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return nil
}

package gds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// defaultTokenLifetime is used when the provider omits expires_in.
const defaultTokenLifetime = 1799 * time.Second

// TokenManager holds the provider access token for the whole process.
// Concurrent callers that find the token missing or close to expiry share a
// single refresh request.
type TokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	buffer       time.Duration
	client       *http.Client
	logger       *logrus.Logger
	now          func() time.Time

	// Token state
	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time

	refresh singleflight.Group
}

// TokenConfig holds OAuth2 client-credentials settings
type TokenConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	RefreshBuffer time.Duration // refresh when less than this remains
	Timeout       time.Duration
}

// NewTokenManager creates a token manager for the client-credentials flow
func NewTokenManager(cfg TokenConfig, logger *logrus.Logger) *TokenManager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TokenManager{
		tokenURL:     strings.TrimRight(cfg.BaseURL, "/") + "/v1/security/oauth2/token",
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		buffer:       cfg.RefreshBuffer,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing it first if needed.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if token, ok := m.cached(); ok {
		return token, nil
	}

	ch := m.refresh.DoChan("token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited to get in.
		if token, ok := m.cached(); ok {
			return token, nil
		}
		// Detached so one caller giving up does not fail everyone sharing the request.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.client.Timeout)
		defer cancel()
		return m.fetch(rctx)
	})

	select {
	case <-ctx.Done():
		return "", apperrors.Wrap(apperrors.KindProviderUnavailable, "gds.Token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the provider answered 401.
func (m *TokenManager) Invalidate() {
	m.tokenMutex.Lock()
	m.token = ""
	m.tokenExpiry = time.Time{}
	m.tokenMutex.Unlock()
}

// cached returns the token if more than the buffer remains before expiry.
func (m *TokenManager) cached() (string, bool) {
	m.tokenMutex.RLock()
	defer m.tokenMutex.RUnlock()

	if m.token == "" {
		return "", false
	}
	if !m.now().Before(m.tokenExpiry.Add(-m.buffer)) {
		return "", false
	}
	return m.token, true
}

func (m *TokenManager) fetch(ctx context.Context) (string, error) {
	const op = "gds.Token"

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.Internal(op, fmt.Errorf("failed to create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.WithError(err).Error("GDS authentication request failed")
		return "", apperrors.Wrap(apperrors.KindProviderUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindProviderUnavailable, op, err)
	}

	if resp.StatusCode != http.StatusOK {
		m.logger.WithField("status", resp.StatusCode).Error("GDS authentication failed")
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", apperrors.RateLimited(op, parseRetryAfter(resp.Header.Get("Retry-After")))
		}
		return "", apperrors.New(apperrors.KindProviderUnavailable, op,
			fmt.Sprintf("authentication failed with status %d", resp.StatusCode))
	}

	token := gjson.GetBytes(body, "access_token").String()
	if token == "" {
		return "", apperrors.New(apperrors.KindProviderUnavailable, op, "token response has no access_token")
	}
	lifetime := defaultTokenLifetime
	if v := gjson.GetBytes(body, "expires_in"); v.Exists() && v.Int() > 0 {
		lifetime = time.Duration(v.Int()) * time.Second
	}

	m.tokenMutex.Lock()
	m.token = token
	m.tokenExpiry = m.now().Add(lifetime)
	m.tokenMutex.Unlock()

	m.logger.WithField("expires_in_seconds", int(lifetime.Seconds())).Info("GDS access token refreshed")
	return token, nil
}

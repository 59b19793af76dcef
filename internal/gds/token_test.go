package gds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/pkg/apperrors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// tokenServer serves the OAuth2 endpoint and counts refreshes.
func tokenServer(t *testing.T, expiresIn int, delay time.Duration) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/security/oauth2/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))

		n := atomic.AddInt32(&hits, 1)
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d,"token_type":"Bearer"}`, n, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestTokenManager(baseURL string) *TokenManager {
	return NewTokenManager(TokenConfig{
		BaseURL:       baseURL,
		ClientID:      "test-client",
		ClientSecret:  "test-secret",
		RefreshBuffer: 5 * time.Minute,
		Timeout:       5 * time.Second,
	}, testLogger())
}

func TestTokenManager_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	srv, hits := tokenServer(t, 1799, 50*time.Millisecond)
	m := newTestTokenManager(srv.URL)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	for _, tok := range tokens {
		assert.Equal(t, "token-1", tok)
	}
}

func TestTokenManager_RefreshesInsideBuffer(t *testing.T) {
	srv, hits := tokenServer(t, 1799, 0)
	m := newTestTokenManager(srv.URL)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	// 20 minutes later, ~10 minutes remain: still cached
	now = now.Add(20 * time.Minute)
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	// 26 minutes in, under 5 minutes remain: refresh
	now = now.Add(6 * time.Minute)
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestTokenManager_Invalidate(t *testing.T) {
	srv, hits := tokenServer(t, 1799, 0)
	m := newTestTokenManager(srv.URL)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	m.Invalidate()
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestTokenManager_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	_, err := newTestTokenManager(srv.URL).Token(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.KindProviderUnavailable))
}

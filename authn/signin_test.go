package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signInServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSignInProvider(srv *httptest.Server) *SignInProvider {
	return NewSignInProvider(SignInProviderOptions{
		Username:   "user",
		Password:   "pass",
		SignInURL:  srv.URL,
		RetryLimit: 3,
		RetryDelay: time.Millisecond,
	})
}

func TestSignInSuccess(t *testing.T) {
	srv := signInServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user", r.PostForm.Get("username"))
		assert.Equal(t, "pass", r.PostForm.Get("password"))
		assert.Equal(t, "on", r.PostForm.Get("remember"))
		w.Write([]byte(`{"user":{"auth_token":"tok-xyz"}}`))
	})

	p := newTestSignInProvider(srv)
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", token)
}

func TestSignInTokenIsMemoized(t *testing.T) {
	var hits int32
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"user":{"auth_token":"tok-xyz"}}`))
	})

	p := newTestSignInProvider(srv)
	_, err := p.Token(context.Background())
	require.NoError(t, err)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "a second Token call reuses the signed-in token")
}

func TestSignInRefreshDiscardsRejectedToken(t *testing.T) {
	var hits int32
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Write([]byte(`{"user":{"auth_token":"tok-old"}}`))
			return
		}
		w.Write([]byte(`{"user":{"auth_token":"tok-new"}}`))
	})

	p := newTestSignInProvider(srv)
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-old", token)

	token, err = p.Refresh(context.Background(), "tok-old")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)

	// The fresh token is memoized for subsequent Token calls.
	token, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSignInRateLimitRetriesThenGivesUp(t *testing.T) {
	var hits int32
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"code":"rate_limit","error":"slow down"}`))
	})

	p := newTestSignInProvider(srv)
	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "rate limiting is retried up to the limit")
}

func TestSignInRateLimitRecovers(t *testing.T) {
	var hits int32
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Write([]byte(`{"code":"rate_limit"}`))
			return
		}
		w.Write([]byte(`{"user":{"auth_token":"tok-xyz"}}`))
	})

	p := newTestSignInProvider(srv)
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", token)
}

func TestSignInInteractiveChallenges(t *testing.T) {
	for _, code := range []string{"recaptcha_required", "2FA_required"} {
		code := code
		t.Run(code, func(t *testing.T) {
			srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"code":"` + code + `"}`))
			})
			_, err := newTestSignInProvider(srv).Token(context.Background())
			assert.ErrorIs(t, err, ErrInteractiveLoginRequired)
		})
	}
}

func TestSignInCredentialErrorSurfaced(t *testing.T) {
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"invalid_credentials","error":"wrong password"}`))
	})
	_, err := newTestSignInProvider(srv).Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestSignInNonJSONResponse(t *testing.T) {
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>gateway error</html>"))
	})
	_, err := newTestSignInProvider(srv).Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSignInReportsPlan(t *testing.T) {
	srv := signInServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"user":{"auth_token":"tok-xyz","pro_plan":"pro_premium"}}`))
	})

	p := newTestSignInProvider(srv)
	assert.Empty(t, p.Plan(), "no tier known before the first sign-in")

	_, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pro_premium", p.Plan())
}

func TestSignInWithoutCredentials(t *testing.T) {
	p := NewSignInProvider(SignInProviderOptions{})
	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

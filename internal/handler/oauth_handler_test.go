package handler

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func startFederatedLogin(t *testing.T, env *testEnv, target string) (*http.Cookie, string) {
	t.Helper()
	rec := env.do(t, http.MethodGet, target, nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	return cookie, loc.Query().Get("state")
}

func TestOAuthLogin_StoresStateEmbeddedInRedirect(t *testing.T) {
	env := setupRouter(t)
	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon?next=/workspace/projects")

	sess, err := env.store.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotNil(t, sess.Handshake)
	require.Equal(t, state, sess.Handshake.State)
	require.Equal(t, "https://portal.example.org/auth/callback?next=%2Fworkspace%2Fprojects", sess.Handshake.RedirectURI)
	require.Equal(t, "cilogon", env.provider.lastAuth.IDPHint)
	require.False(t, sess.Authenticated())
}

func TestOAuthLogin_UnknownAliasNoRedirect(t *testing.T) {
	env := setupRouter(t)
	rec := env.do(t, http.MethodGet, "/auth/login/github", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, rec.Header().Get("Location"))
	require.Nil(t, sessionCookie(rec))
}

func TestOAuthCallback_Success(t *testing.T) {
	env := setupRouter(t)
	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon?next=/workspace/projects")

	rec := env.do(t, http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(state), nil, cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/workspace/projects", rec.Header().Get("Location"))
	authCookie := sessionCookie(rec)
	require.NotNil(t, authCookie)
	require.NotEqual(t, cookie.Value, authCookie.Value)

	old, err := env.store.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.Nil(t, old)

	rec = env.do(t, http.MethodGet, "/auth/session", nil, authCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", decode(t, rec).Data["username"])
}

func TestOAuthCallback_StateMismatchNeverAuthenticates(t *testing.T) {
	env := setupRouter(t)
	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon")

	rec := env.do(t, http.MethodGet, "/auth/callback?code=good-code&state=forged", nil, cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/auth/error", rec.Header().Get("Location"))

	sess, err := env.store.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.False(t, sess.Authenticated())
	require.Nil(t, sess.Handshake)

	// the real state is gone too
	rec = env.do(t, http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(state), nil, cookie)
	require.Equal(t, "/auth/error", rec.Header().Get("Location"))
	rec = env.do(t, http.MethodGet, "/auth/session", nil, cookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOAuthCallback_ConcurrentReplayAuthenticatesOnce(t *testing.T) {
	env := setupRouter(t)
	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon")
	target := "/auth/callback?code=good-code&state=" + url.QueryEscape(state)

	const n = 8
	locations := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locations[i] = env.do(t, http.MethodGet, target, nil, cookie).Header().Get("Location")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, loc := range locations {
		if loc == "/workspace" {
			wins++
			continue
		}
		require.Equal(t, "/auth/error", loc)
	}
	require.Equal(t, 1, wins)
}

func TestOAuthCallback_FailuresGoToErrorPage(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodGet, "/auth/callback?code=good-code&state=x", nil, nil)
	require.Equal(t, "/auth/error", rec.Header().Get("Location"))

	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon")
	rec = env.do(t, http.MethodGet, "/auth/callback?code=bad-code&state="+url.QueryEscape(state), nil, cookie)
	require.Equal(t, "/auth/error", rec.Header().Get("Location"))
	require.NotContains(t, rec.Body.String(), "unauthorized")

	cookie, state = startFederatedLogin(t, env, "/auth/login/cilogon")
	rec = env.do(t, http.MethodGet, "/auth/callback?error=access_denied&state="+url.QueryEscape(state), nil, cookie)
	require.Equal(t, "/auth/error", rec.Header().Get("Location"))
}

func TestOAuthLogin_UnsafeNextFallsBackToLanding(t *testing.T) {
	env := setupRouter(t)
	cookie, state := startFederatedLogin(t, env, "/auth/login/cilogon?next="+url.QueryEscape("//evil.example.org/x"))
	rec := env.do(t, http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(state), nil, cookie)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/workspace", rec.Header().Get("Location"))
}

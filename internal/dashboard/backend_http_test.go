package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	refreshes []string
	logouts   []string
	authSeen  []string
}

func (a *fakeAPI) seen() (auth, refreshes, logouts []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.authSeen...), append([]string(nil), a.refreshes...), append([]string(nil), a.logouts...)
}

func (a *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, data any, errMsg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		var errField any
		if errMsg != "" {
			errField = errMsg
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "error": errField, "status": status})
	}
	tokens := func(access, refresh string) map[string]any {
		return map[string]any{
			"accessToken":  access,
			"refreshToken": refresh,
			"userId":       "u1",
			"email":        "ada@example.com",
			"expiresAt":    1700000000,
		}
	}
	mux.HandleFunc("POST /api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct-horse" {
			write(w, http.StatusBadRequest, nil, "Invalid email or password")
			return
		}
		write(w, http.StatusOK, tokens("access-1", "refresh-1"), "")
	})
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.authSeen = append(a.authSeen, r.Header.Get("Authorization"))
		a.mu.Unlock()
		if r.Header.Get("Authorization") == "" {
			write(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil, "session": nil}, "")
			return
		}
		write(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"user":          map[string]string{"id": "u1", "email": "ada@example.com"},
			"session":       map[string]any{"expiresAt": 1700000000, "devBypass": false},
		}, "")
	})
	mux.HandleFunc("GET /api/profile", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"id": "u1", "email": "ada@example.com", "display_name": "Ada", "tier": "free"}, "")
	})
	mux.HandleFunc("POST /api/session/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.refreshes = append(a.refreshes, body["refreshToken"])
		a.mu.Unlock()
		write(w, http.StatusOK, tokens("access-2", "refresh-2"), "")
	})
	mux.HandleFunc("POST /api/session/logout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.logouts = append(a.logouts, body["refreshToken"])
		a.mu.Unlock()
		write(w, http.StatusOK, map[string]bool{"success": true}, "")
	})
	return mux
}

func newTestBackend(t *testing.T) (*HTTPBackend, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewHTTPBackend(srv.URL, zerolog.Nop(), WithHTTPClient(srv.Client())), api
}

func TestHTTPBackendSessionLifecycle(t *testing.T) {
	backend, api := newTestBackend(t)
	events, unsubscribe := backend.Subscribe()
	defer unsubscribe()
	ctx := context.Background()

	sess, err := backend.CurrentSession(ctx)
	require.NoError(t, err)
	require.Nil(t, sess)

	sess, err = backend.SignIn(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "u1", sess.UserID)
	require.Equal(t, int64(1700000000), sess.ExpiresAt.Unix())
	require.Equal(t, EventSignedIn, (<-events).Type)

	current, err := backend.CurrentSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", current.Email)
	require.Equal(t, "access-1", current.AccessToken)
	authSeen, _, _ := api.seen()
	require.Equal(t, []string{"", "Bearer access-1"}, authSeen)

	profile, err := backend.FetchProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ada", profile.DisplayName)

	refreshed, err := backend.RefreshSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", refreshed.AccessToken)
	require.Equal(t, EventTokenRefreshed, (<-events).Type)
	_, refreshes, _ := api.seen()
	require.Equal(t, []string{"refresh-1"}, refreshes)
	require.Equal(t, "access-2", backend.AccessToken())

	require.NoError(t, backend.SignOut(ctx))
	require.Equal(t, EventSignedOut, (<-events).Type)
	_, _, logouts := api.seen()
	require.Equal(t, []string{"refresh-2"}, logouts)
	require.Empty(t, backend.AccessToken())

	_, err = backend.RefreshSession(ctx)
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestHTTPBackendSignInRejected(t *testing.T) {
	backend, _ := newTestBackend(t)
	events, unsubscribe := backend.Subscribe()

	_, err := backend.SignIn(context.Background(), "ada@example.com", "wrong")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "Invalid email or password", reqErr.Message)
	require.Equal(t, http.StatusBadRequest, reqErr.Status)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	require.False(t, open, "unsubscribe closes the channel without emitting")
}

func TestHTTPBackendRestoreFeedsProvider(t *testing.T) {
	backend, _ := newTestBackend(t)
	backend.Restore("access-1", "refresh-1")

	provider := NewAuthProvider(backend, nil, nil, AuthConfig{}, zerolog.Nop())
	t.Cleanup(provider.Close)
	provider.Start(context.Background())

	snap := provider.Snapshot()
	require.Equal(t, StateAuthenticated, snap.State)
	require.Equal(t, "u1", snap.User.ID)
	require.Equal(t, "Ada", snap.Profile.DisplayName)
	require.Equal(t, "access-1", provider.AccessToken())
}

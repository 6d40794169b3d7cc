package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func TestFetcherAttachesCredentialsAndUnwrapsEnvelope(t *testing.T) {
	var gotAuth, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"c1"}],"error":null,"status":200}`))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(srv.URL, staticToken("tok-1"))
	env := f.Do(context.Background(), "/api/companies", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"q": "solar"},
		Query:  url.Values{"limit": {"5"}},
	})

	require.True(t, env.OK())
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, "limit=5", gotQuery)
	require.JSONEq(t, `{"q":"solar"}`, gotBody)
	require.JSONEq(t, `[{"id":"c1"}]`, string(env.Data))
	require.Equal(t, http.StatusOK, env.Status)
}

func TestFetcherUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired","status":401}`))
	}))
	t.Cleanup(srv.Close)

	env := NewFetcher(srv.URL, nil).Do(context.Background(), "/api/profile", RequestOptions{})
	require.Equal(t, "Unauthorized", env.Error)
	require.True(t, env.Unauthorized())
	require.Equal(t, http.StatusUnauthorized, env.Status)
}

func TestFetcherPassesNonEnvelopeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/array":
			_, _ = w.Write([]byte(`[{"id":"e1","company_id":"c1"}]`))
		case "/success":
			_, _ = w.Write([]byte(`{"success":true,"data":{"id":"e1"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	f := NewFetcher(srv.URL, nil)

	env := f.Do(context.Background(), "/array", RequestOptions{})
	require.True(t, env.OK())
	require.JSONEq(t, `[{"id":"e1","company_id":"c1"}]`, string(env.Data))

	env = f.Do(context.Background(), "/success", RequestOptions{})
	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Equal(t, true, body["success"])
}

func TestFetcherErrorEnvelopeKeepsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"data":null,"error":"Company does not exist","status":404,"code":"NOT_FOUND"}`))
	}))
	t.Cleanup(srv.Close)

	env := NewFetcher(srv.URL, nil).Do(context.Background(), "/api/companies/x", RequestOptions{})
	require.Equal(t, "Company does not exist", env.Error)
	require.Equal(t, "NOT_FOUND", env.Code)
	require.Equal(t, http.StatusNotFound, env.Status)
}

func TestFetcherFoldsFailuresIntoUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	t.Cleanup(srv.Close)

	env := NewFetcher(srv.URL, nil).Do(context.Background(), "/", RequestOptions{})
	require.Equal(t, CodeUnknown, env.Code)
	require.NotEmpty(t, env.Error)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	env = NewFetcher(closedURL, nil).Do(context.Background(), "/", RequestOptions{})
	require.Equal(t, CodeUnknown, env.Code)
	require.False(t, env.Unauthorized())
}

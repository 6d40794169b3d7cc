package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"terravest/api/internal/metrics"
	"terravest/api/internal/store"
)

func serve(t *testing.T, handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

// signedIn issues a real access token for userID against svc.
func signedIn(t *testing.T, svc *Service, userID string) string {
	t.Helper()
	sess, err := svc.issueSession(context.Background(), store.User{ID: userID, Email: userID + "@example.com"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return sess.Token
}

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(t, server.Handler(), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeMap(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := NewHTTPServer(newTestService(fs), "*")
	rr := serve(t, server.Handler(), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
	checks := payload["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Fatalf("expected database error in checks, got %v", database)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/profile"},
		{http.MethodGet, "/api/dashboard/profile"},
		{http.MethodGet, "/api/dashboard/community-feed"},
		{http.MethodGet, "/api/companies"},
		{http.MethodGet, "/api/communities"},
		{http.MethodGet, "/api/user/watchlist"},
		{http.MethodPost, "/api/user/watchlist"},
		{http.MethodPost, "/api/protected/watchlist/add"},
		{http.MethodPost, "/api/communities/c1/join"},
		{http.MethodDelete, "/api/communities/c1/posts/p1"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rr := serve(t, server.Handler(), route.method, route.path, `{}`, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
			}
			payload := decodeMap(t, rr)
			if payload["error"] != "Unauthorized" {
				t.Fatalf("expected error Unauthorized, got %v", payload["error"])
			}
			if payload["status"] != float64(http.StatusUnauthorized) {
				t.Fatalf("expected status 401 in envelope, got %v", payload["status"])
			}
		})
	}
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(t, server.Handler(), http.MethodGet, "/api/profile", "", "not-a-jwt")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSignUpReturnsCreatedEnvelope(t *testing.T) {
	var created store.User
	var profile store.Profile
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User, p store.Profile) error {
			created = user
			profile = p
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")
	rr := serve(t, server.Handler(), http.MethodPost, "/api/auth/signup",
		`{"email":"Ada@Example.com","password":"long-enough","displayName":"Ada"}`, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := decodeMap(t, rr)["data"].(map[string]any)
	if data["userId"] != created.ID || created.ID == "" {
		t.Fatalf("expected userId %q, got %v", created.ID, data["userId"])
	}
	if created.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if profile.Tier != "free" {
		t.Fatalf("expected free tier, got %q", profile.Tier)
	}
}

func TestSignUpConflictAndValidation(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email == "taken@example.com" {
				return store.User{ID: "u1", Email: email}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := serve(t, server.Handler(), http.MethodPost, "/api/auth/signup",
		`{"email":"taken@example.com","password":"long-enough","displayName":"T"}`, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "EMAIL_EXISTS" {
		t.Fatalf("expected EMAIL_EXISTS, got %v", code)
	}

	rr = serve(t, server.Handler(), http.MethodPost, "/api/auth/signup",
		`{"email":"new@example.com","password":"short","displayName":"N"}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	details := decodeMap(t, rr)["details"].(map[string]any)
	if details["field"] != "password" {
		t.Fatalf("expected password field, got %v", details["field"])
	}
}

func TestSignInSessionRefreshLogout(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email != "ada@example.com" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "user-1", Email: email, PasswordHash: string(hash)}, nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := serve(t, handler, http.MethodPost, "/api/auth/signin", `{"email":"ada@example.com","password":"wrong-horse"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}
	if msg := decodeMap(t, rr)["error"]; msg != "Invalid email or password" {
		t.Fatalf("unexpected error %v", msg)
	}

	rr = serve(t, handler, http.MethodPost, "/api/auth/signin", `{"email":"ada@example.com","password":"correct-horse"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	tokens := decodeMap(t, rr)["data"].(map[string]any)
	access, _ := tokens["accessToken"].(string)
	refresh, _ := tokens["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("expected both tokens, got %v", tokens)
	}

	rr = serve(t, handler, http.MethodGet, "/api/session", "", access)
	session := decodeMap(t, rr)["data"].(map[string]any)
	if session["authenticated"] != true {
		t.Fatalf("expected authenticated session, got %v", session)
	}

	rr = serve(t, handler, http.MethodPost, "/api/session/refresh", `{"refreshToken":"`+refresh+`"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected refresh 200, got %d", rr.Code)
	}
	rotated := decodeMap(t, rr)["data"].(map[string]any)
	if rotated["refreshToken"] == refresh {
		t.Fatal("expected refresh token rotation")
	}

	rr = serve(t, handler, http.MethodPost, "/api/session/refresh", `{"refreshToken":"`+refresh+`"}`, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused refresh token to be rejected, got %d", rr.Code)
	}

	rr = serve(t, handler, http.MethodPost, "/api/session/logout", `{}`, access)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", rr.Code)
	}
	rr = serve(t, handler, http.MethodGet, "/api/session", "", access)
	if decodeMap(t, rr)["data"].(map[string]any)["authenticated"] != false {
		t.Fatal("expected revoked token to be unauthenticated")
	}
}

func TestSessionWithoutTokenIsUnauthenticated(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(t, server.Handler(), http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decodeMap(t, rr)["data"].(map[string]any)
	if data["authenticated"] != false || data["user"] != nil {
		t.Fatalf("expected anonymous session, got %v", data)
	}
}

func TestDevBypassResolvesWithoutCredentials(t *testing.T) {
	fs := &fakeStore{
		getProfileFn: func(_ context.Context, userID string) (store.Profile, error) {
			return store.Profile{UserID: userID, Email: "dev@terravest.local", DisplayName: "Dev User", Tier: "premium"}, nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.AuthEnabled = false
	svc.cfg.DevBypassEmail = "dev@terravest.local"
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler := NewHTTPServer(svc, "*").Handler()

	rr := serve(t, handler, http.MethodGet, "/api/profile", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bypass 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	profile := decodeMap(t, rr)["data"].(map[string]any)
	if profile["email"] != "dev@terravest.local" {
		t.Fatalf("unexpected profile %v", profile)
	}

	svc.cfg.AppEnv = "production"
	rr = serve(t, handler, http.MethodGet, "/api/profile", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected production to ignore bypass, got %d", rr.Code)
	}
}

func TestProfileServedFromCache(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		getProfileFn: func(_ context.Context, userID string) (store.Profile, error) {
			calls++
			return store.Profile{UserID: userID, DisplayName: "Ada", Tier: "free"}, nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := signedIn(t, svc, "user-1")

	for i := 0; i < 3; i++ {
		rr := serve(t, handler, http.MethodGet, "/api/profile", "", token)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one store read, got %d", calls)
	}
}

func TestListCompaniesMarksSaved(t *testing.T) {
	var searched store.CompanySearch
	fs := &fakeStore{
		listCompaniesFn: func(context.Context) ([]store.Company, error) {
			return []store.Company{{ID: "c1", Name: "Solar"}, {ID: "c2", Name: "Water"}}, nil
		},
		searchCompaniesFn: func(_ context.Context, search store.CompanySearch) ([]store.Company, error) {
			searched = search
			return []store.Company{{ID: "c2", Name: "Water"}}, nil
		},
		savedCompanyIDsFn: func(context.Context, string) ([]string, error) { return []string{"c2"}, nil },
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()
	token := signedIn(t, svc, "user-1")

	rr := serve(t, handler, http.MethodGet, "/api/companies", "", token)
	var listed struct {
		Data []CompanyView `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(listed.Data) != 2 || listed.Data[0].Saved || !listed.Data[1].Saved {
		t.Fatalf("unexpected saved flags: %+v", listed.Data)
	}

	rr = serve(t, handler, http.MethodGet, "/api/companies?q=water", "", token)
	if rr.Code != http.StatusOK || searched.Text != "water" {
		t.Fatalf("expected search fallback with q=water, got %d %+v", rr.Code, searched)
	}

	rr = serve(t, handler, http.MethodGet, "/api/companies?sector=Water&min_score=70&limit=5", "", token)
	want := store.CompanySearch{Sector: "Water", MinScore: 70, Limit: 5}
	if rr.Code != http.StatusOK || searched != want {
		t.Fatalf("expected sector and score filters to reach the store, got %d %+v", rr.Code, searched)
	}

	rr = serve(t, handler, http.MethodGet, "/api/companies?min_score=high", "", token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad min_score, got %d", rr.Code)
	}
}

func TestGetCompanyNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*").Handler()
	rr := serve(t, handler, http.MethodGet, "/api/companies/missing", "", signedIn(t, svc, "user-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if msg := decodeMap(t, rr)["error"]; msg != "Company does not exist" {
		t.Fatalf("unexpected message %v", msg)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*", WithGatherer(registry)).Handler()

	serve(t, handler, http.MethodGet, "/api/health", "", "")
	rr := serve(t, handler, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `terravest_http_requests_total{method="GET",route="/api/health",status="200"}`) {
		t.Fatalf("expected request counter for /api/health, got:\n%s", rr.Body.String())
	}
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "*", WithRateLimit(0.001, 2)).Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := serve(t, handler, http.MethodPost, "/api/auth/signin", `{}`, "")
		codes = append(codes, rr.Code)
	}
	if codes[0] == http.StatusTooManyRequests || codes[1] == http.StatusTooManyRequests {
		t.Fatalf("expected burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third write to be limited, got %v", codes)
	}

	rr := serve(t, handler, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reads to bypass limiter, got %d", rr.Code)
	}
}

func TestIPLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := newIPLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	limiter.allow("10.0.0.1")
	now = now.Add(10 * time.Minute)
	limiter.allow("10.0.0.2")

	if _, ok := limiter.buckets["10.0.0.1"]; ok {
		t.Fatal("expected idle bucket to be swept")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected one live bucket, got %d", len(limiter.buckets))
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), "*")
	rr := serve(t, server.Handler(), http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if decodeMap(t, rr)["code"] != "NOT_FOUND" {
		t.Fatal("expected NOT_FOUND code")
	}
}

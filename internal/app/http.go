package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"terravest/api/internal/auth"
	"terravest/api/internal/authpw"
	"terravest/api/internal/search"
)

const (
	watchlistCacheControl         = "private, max-age=60"
	watchlistDegradedCacheControl = "private, max-age=30"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
	gatherer   prometheus.Gatherer
	limiter    *ipLimiter
}

type ServerOption func(*HTTPServer)

func WithRequestLogger(logger zerolog.Logger) ServerOption {
	return func(s *HTTPServer) { s.logger = logger }
}

// WithGatherer serves /metrics from gatherer instead of the default registry.
func WithGatherer(gatherer prometheus.Gatherer) ServerOption {
	return func(s *HTTPServer) { s.gatherer = gatherer }
}

// WithRateLimit throttles write routes per client IP. A non-positive rps
// disables the limiter.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *HTTPServer) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = newIPLimiter(rps, burst)
	}
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     zerolog.Nop(),
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors(s.corsOrigin))
	if s.limiter != nil {
		r.Use(s.limiter.limitWrites)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Post("/api/auth/signup", s.handleSignUp)
	r.Post("/api/auth/signin", s.handleSignIn)
	r.Get("/api/session", s.handleSession)
	r.Post("/api/session/refresh", s.handleRefresh)
	r.Post("/api/session/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/api/profile", s.handleProfile)
		r.Get("/api/dashboard/profile", s.handleDashboardProfile)
		r.Get("/api/dashboard/community-feed", s.handleCommunityFeed)

		r.Get("/api/companies", s.handleListCompanies)
		r.Get("/api/companies/{companyID}", s.handleGetCompany)

		r.Get("/api/communities", s.handleListCommunities)
		r.Post("/api/communities/{communityID}/join", s.handleJoinCommunity)
		r.Post("/api/communities/{communityID}/leave", s.handleLeaveCommunity)
		r.Post("/api/communities/{communityID}/posts", s.handleCreatePost)
		r.Delete("/api/communities/{communityID}/posts/{postID}", s.handleDeletePost)

		r.Post("/api/protected/watchlist/add", s.handleProtectedWatchlistAdd)
		r.Get("/api/user/watchlist", s.handleGetWatchlist)
		r.Post("/api/user/watchlist", s.handlePostWatchlist)
	})
	return r
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) Session {
	sess, _ := ctx.Value(sessionKey{}).(Session)
	return sess
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.service.ResolveSession(r.Context(), bearerToken(r))
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string   `json:"email"`
		Password    string   `json:"password"`
		DisplayName string   `json:"displayName"`
		Interests   []string `json:"interests"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Interests:   body.Interests,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"userId": user.ID})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tokenPayload(sess))
}

// handleSession reports the current session without failing when there is
// none.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.ResolveSession(r.Context(), bearerToken(r))
	if err != nil {
		writeData(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil, "session": nil})
		return
	}
	session := map[string]any{"devBypass": sess.DevBypass}
	if !sess.ExpiresAt.IsZero() {
		session["expiresAt"] = sess.ExpiresAt.Unix()
	}
	writeData(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          map[string]any{"id": sess.UserID, "email": sess.Email},
		"session":       session,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tokenPayload(sess))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var sess Session
	if token := bearerToken(r); token != "" {
		if resolved, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			sess = resolved
		}
	}
	if err := s.service.Logout(r.Context(), sess, body.RefreshToken); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"ok": true})
}

func tokenPayload(sess Session) map[string]any {
	return map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"email":        sess.Email,
		"expiresAt":    sess.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.Profile(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleDashboardProfile(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.DashboardProfile(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCommunityFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.service.CommunityFeed(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, feed)
}

func (s *HTTPServer) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:   query.Get("q"),
		Sector: query.Get("sector"),
	}
	if raw := query.Get("min_score"); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "min_score must be a number", nil)
			return
		}
		q.MinScore = score
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		q.Limit = limit
	}
	companies, err := s.service.ListCompanies(r.Context(), sessionFrom(r.Context()).UserID, q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, companies)
}

func (s *HTTPServer) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	company, err := s.service.GetCompany(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "companyID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, company)
}

func (s *HTTPServer) handleListCommunities(w http.ResponseWriter, r *http.Request) {
	communities, err := s.service.ListCommunities(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, communities)
}

func (s *HTTPServer) handleJoinCommunity(w http.ResponseWriter, r *http.Request) {
	if err := s.service.JoinCommunity(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "communityID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleLeaveCommunity(w http.ResponseWriter, r *http.Request) {
	left, err := s.service.LeaveCommunity(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "communityID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "left": left})
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var body CreatePostInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	post, err := s.service.CreatePost(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "communityID"), body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, post)
}

func (s *HTTPServer) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeletePost(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "communityID"), chi.URLParam(r, "postID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleProtectedWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyID string `json:"companyId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.AddToWatchlist(r.Context(), sessionFrom(r.Context()).UserID, body.CompanyID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result.Entry})
}

// handleGetWatchlist returns a bare array. Store failures degrade to an
// empty list with a shorter cache window instead of an error.
func (s *HTTPServer) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListWatchlist(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("watchlist degraded to empty list")
		w.Header().Set("Cache-Control", watchlistDegradedCacheControl)
		writeJSON(w, http.StatusOK, []WatchlistEntry{})
		return
	}
	w.Header().Set("Cache-Control", watchlistCacheControl)
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handlePostWatchlist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CompanyID string `json:"company_id"`
		Action    string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	userID := sessionFrom(r.Context()).UserID

	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "", WatchlistAdd:
		result, err := s.service.AddToWatchlist(r.Context(), userID, body.CompanyID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		response := map[string]any{"success": true, "data": result.Entry}
		if result.AlreadySaved {
			response["message"] = "Company already in watchlist"
		}
		writeJSON(w, http.StatusOK, response)
	case WatchlistRemove:
		result, err := s.service.RemoveFromWatchlist(r.Context(), userID, body.CompanyID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"removed": result.Removed}})
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "action must be add or remove", map[string]any{"field": "action"})
	}
}

func (s *HTTPServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData wraps payload in the {data, error, status} envelope.
func writeData(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, map[string]any{
		"data":   payload,
		"error":  nil,
		"status": status,
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"data":   nil,
		"error":  message,
		"status": status,
		"code":   code,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", unauthorizedMessage, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoRefreshToken = errors.New("no refresh token")

// RequestError carries a failed envelope as a Go error.
type RequestError struct {
	Message string
	Code    string
	Status  int
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *RequestError) Unauthorized() bool {
	return e.Message == UnauthorizedMessage
}

func envelopeError(env Envelope) error {
	if env.OK() {
		return nil
	}
	return &RequestError{Message: env.Error, Code: env.Code, Status: env.Status}
}

// HTTPBackend implements AuthBackend against the terravest API and fans auth
// events out to subscribers.
type HTTPBackend struct {
	fetcher *Fetcher
	logger  zerolog.Logger

	mu      sync.Mutex
	session *Session
	subs    map[int]chan AuthEvent
	nextSub int
}

func NewHTTPBackend(baseURL string, logger zerolog.Logger, opts ...FetcherOption) *HTTPBackend {
	b := &HTTPBackend{
		logger: logger,
		subs:   make(map[int]chan AuthEvent),
	}
	opts = append([]FetcherOption{WithFetcherLogger(logger)}, opts...)
	b.fetcher = NewFetcher(baseURL, b, opts...)
	return b
}

func (b *HTTPBackend) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return ""
	}
	return b.session.AccessToken
}

// Restore installs previously issued tokens without contacting the API.
func (b *HTTPBackend) Restore(accessToken, refreshToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = &Session{AccessToken: accessToken, RefreshToken: refreshToken}
}

// Tokens returns the current access and refresh tokens.
func (b *HTTPBackend) Tokens() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return "", ""
	}
	return b.session.AccessToken, b.session.RefreshToken
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	ExpiresAt    int64  `json:"expiresAt"`
}

func (t tokenResponse) session() *Session {
	return &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		UserID:       t.UserID,
		Email:        t.Email,
		ExpiresAt:    time.Unix(t.ExpiresAt, 0),
	}
}

func (b *HTTPBackend) SignUp(ctx context.Context, email, password, displayName string) (string, error) {
	env := b.fetcher.Do(ctx, "/api/auth/signup", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"email": email, "password": password, "displayName": displayName},
	})
	if err := envelopeError(env); err != nil {
		return "", err
	}
	var created struct {
		UserID string `json:"userId"`
	}
	if err := env.Decode(&created); err != nil {
		return "", fmt.Errorf("decode sign-up: %w", err)
	}
	return created.UserID, nil
}

func (b *HTTPBackend) SignIn(ctx context.Context, email, password string) (*Session, error) {
	env := b.fetcher.Do(ctx, "/api/auth/signin", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"email": email, "password": password},
	})
	if err := envelopeError(env); err != nil {
		return nil, err
	}
	var tokens tokenResponse
	if err := env.Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode sign-in: %w", err)
	}
	sess := tokens.session()
	b.setSession(sess)
	b.emit(AuthEvent{Type: EventSignedIn, Session: sess})
	return sess, nil
}

func (b *HTTPBackend) CurrentSession(ctx context.Context) (*Session, error) {
	env := b.fetcher.Do(ctx, "/api/session", RequestOptions{})
	if err := envelopeError(env); err != nil {
		return nil, err
	}
	var payload struct {
		Authenticated bool `json:"authenticated"`
		User          *struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Session *struct {
			ExpiresAt int64 `json:"expiresAt"`
			DevBypass bool  `json:"devBypass"`
		} `json:"session"`
	}
	if err := env.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !payload.Authenticated || payload.User == nil {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sess := Session{UserID: payload.User.ID, Email: payload.User.Email}
	if b.session != nil {
		sess.AccessToken = b.session.AccessToken
		sess.RefreshToken = b.session.RefreshToken
	}
	if payload.Session != nil {
		sess.DevBypass = payload.Session.DevBypass
		if payload.Session.ExpiresAt > 0 {
			sess.ExpiresAt = time.Unix(payload.Session.ExpiresAt, 0)
		}
	}
	b.session = &sess
	out := sess
	return &out, nil
}

func (b *HTTPBackend) FetchProfile(ctx context.Context, _ string) (*Profile, error) {
	env := b.fetcher.Do(ctx, "/api/profile", RequestOptions{})
	if err := envelopeError(env); err != nil {
		return nil, err
	}
	var profile Profile
	if err := env.Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

func (b *HTTPBackend) RefreshSession(ctx context.Context) (*Session, error) {
	_, refresh := b.Tokens()
	if refresh == "" {
		return nil, ErrNoRefreshToken
	}
	env := b.fetcher.Do(ctx, "/api/session/refresh", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"refreshToken": refresh},
	})
	if err := envelopeError(env); err != nil {
		return nil, err
	}
	var tokens tokenResponse
	if err := env.Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode refresh: %w", err)
	}
	sess := tokens.session()
	b.setSession(sess)
	b.emit(AuthEvent{Type: EventTokenRefreshed, Session: sess})
	return sess, nil
}

func (b *HTTPBackend) SignOut(ctx context.Context) error {
	_, refresh := b.Tokens()
	env := b.fetcher.Do(ctx, "/api/session/logout", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"refreshToken": refresh},
	})
	b.setSession(nil)
	b.emit(AuthEvent{Type: EventSignedOut})
	return envelopeError(env)
}

// Subscribe registers an event channel. The returned func unregisters and
// closes it.
func (b *HTTPBackend) Subscribe() (<-chan AuthEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan AuthEvent, 8)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *HTTPBackend) setSession(sess *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess == nil {
		b.session = nil
		return
	}
	copied := *sess
	b.session = &copied
}

// emit never blocks; a full subscriber misses the event.
func (b *HTTPBackend) emit(event AuthEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn().Int("subscriber", id).Str("event", string(event.Type)).Msg("auth event dropped")
		}
	}
}

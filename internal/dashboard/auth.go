package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"terravest/api/internal/cache"
)

type AuthState string

const (
	StateUninitialized   AuthState = "uninitialized"
	StateLoading         AuthState = "loading"
	StateAuthenticated   AuthState = "authenticated"
	StateUnauthenticated AuthState = "unauthenticated"
)

type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventUserDeleted    AuthEventType = "USER_DELETED"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// AuthBackend is the identity service the provider talks to. CurrentSession
// returns nil without error when nobody is signed in.
type AuthBackend interface {
	CurrentSession(ctx context.Context) (*Session, error)
	FetchProfile(ctx context.Context, userID string) (*Profile, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	Subscribe() (<-chan AuthEvent, func())
}

type AuthConfig struct {
	// DevBypassEmail only applies when auth is disabled outside production.
	DevBypassEmail   string
	AuthEnabled      bool
	AppEnv           string
	EmergencyTimeout time.Duration
	ProfileTTL       time.Duration
}

// DevBypassAllowed reports whether the provider resolves to the synthetic
// development identity instead of asking the backend for a session.
func (c AuthConfig) DevBypassAllowed() bool {
	if c.AuthEnabled || strings.EqualFold(strings.TrimSpace(c.AppEnv), "production") {
		return false
	}
	return strings.TrimSpace(c.DevBypassEmail) != ""
}

type AuthSnapshot struct {
	User    *User
	Session *Session
	Profile *Profile
	State   AuthState
	Loading bool
}

const devUserID = "dev-user"

// AuthProvider owns the session and profile for one client context. The
// initial session check and backend events are not ordered against each
// other; whichever writes last wins.
type AuthProvider struct {
	backend AuthBackend
	cache   cache.Cache
	nav     Navigator
	cfg     AuthConfig
	logger  zerolog.Logger

	mu      sync.Mutex
	state   AuthState
	loading bool
	mounted bool
	started bool
	user    *User
	session *Session
	profile *Profile
	timer   *time.Timer

	ctx         context.Context
	cancel      context.CancelFunc
	stop        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func NewAuthProvider(backend AuthBackend, c cache.Cache, nav Navigator, cfg AuthConfig, logger zerolog.Logger) *AuthProvider {
	if cfg.EmergencyTimeout <= 0 {
		cfg.EmergencyTimeout = 10 * time.Second
	}
	if cfg.ProfileTTL <= 0 {
		cfg.ProfileTTL = 5 * time.Minute
	}
	if nav == nil {
		nav = nopNavigator{}
	}
	if c == nil {
		c = cache.NewMemory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AuthProvider{
		backend: backend,
		cache:   c,
		nav:     nav,
		cfg:     cfg,
		logger:  logger,
		state:   StateUninitialized,
		mounted: true,
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
}

// Start resolves the initial session. It is a no-op after the first call.
func (p *AuthProvider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || !p.mounted {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.state = StateLoading
	p.loading = true
	p.timer = time.AfterFunc(p.cfg.EmergencyTimeout, p.forceLoaded)
	p.mu.Unlock()
	defer p.stopTimer()

	if p.cfg.DevBypassAllowed() {
		p.applyDevBypass(strings.TrimSpace(p.cfg.DevBypassEmail))
		return
	}
	if p.cfg.DevBypassEmail != "" {
		p.logger.Warn().Str("app_env", p.cfg.AppEnv).Bool("auth_enabled", p.cfg.AuthEnabled).Msg("dev bypass email ignored")
	}

	events, unsubscribe := p.backend.Subscribe()
	p.mu.Lock()
	if !p.mounted {
		p.mu.Unlock()
		unsubscribe()
		return
	}
	p.unsubscribe = unsubscribe
	p.wg.Add(1)
	p.mu.Unlock()
	go p.listen(events)

	sess, err := p.backend.CurrentSession(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("session check failed")
	}
	if err != nil || sess == nil {
		p.write(func() {
			p.clearLocked()
			p.state = StateUnauthenticated
		})
		return
	}
	p.applySession(ctx, sess)
}

func (p *AuthProvider) applyDevBypass(email string) {
	p.logger.Warn().Str("email", email).Msg("development auth bypass active")
	p.write(func() {
		p.user = &User{ID: devUserID, Email: email}
		p.session = &Session{UserID: devUserID, Email: email, DevBypass: true}
		p.profile = &Profile{ID: devUserID, Email: email, DisplayName: "Dev User", Tier: "premium", Interests: []string{}}
		p.state = StateAuthenticated
		p.loading = false
	})
}

func (p *AuthProvider) listen(events <-chan AuthEvent) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			p.handleEvent(event)
		}
	}
}

func (p *AuthProvider) handleEvent(event AuthEvent) {
	p.logger.Debug().Str("event", string(event.Type)).Msg("auth event")
	switch event.Type {
	case EventSignedIn:
		if event.Session != nil {
			p.applySession(p.ctx, event.Session)
		}
	case EventSignedOut, EventUserDeleted:
		p.clearAndInvalidate(p.ctx)
	case EventTokenRefreshed:
		if event.Session == nil {
			return
		}
		p.mu.Lock()
		previous := ""
		if p.user != nil {
			previous = p.user.ID
		}
		p.mu.Unlock()
		if previous != event.Session.UserID {
			p.applySession(p.ctx, event.Session)
			return
		}
		sess := *event.Session
		p.write(func() { p.session = &sess })
	}
}

func (p *AuthProvider) applySession(ctx context.Context, sess *Session) {
	profile := p.loadProfile(ctx, sess.UserID)
	copied := *sess
	p.write(func() {
		p.session = &copied
		p.user = &User{ID: sess.UserID, Email: sess.Email}
		p.profile = profile
		p.state = StateAuthenticated
		p.loading = false
	})
}

// loadProfile reads through the profile cache. Failures leave the profile
// nil; the session stays valid.
func (p *AuthProvider) loadProfile(ctx context.Context, userID string) *Profile {
	key := cache.ProfileKey(userID)
	var cached Profile
	err := cache.GetJSON(ctx, p.cache, key, &cached)
	if err == nil {
		return &cached
	}
	if !errors.Is(err, cache.ErrMiss) {
		p.logger.Warn().Err(err).Msg("profile cache read failed")
	}
	profile, err := p.backend.FetchProfile(ctx, userID)
	if err != nil || profile == nil {
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("profile fetch failed")
		return nil
	}
	if err := cache.SetJSON(ctx, p.cache, key, profile, p.cfg.ProfileTTL); err != nil {
		p.logger.Warn().Err(err).Msg("profile cache write failed")
	}
	return profile
}

func (p *AuthProvider) clearAndInvalidate(ctx context.Context) {
	p.mu.Lock()
	userID := ""
	if p.user != nil {
		userID = p.user.ID
	}
	p.mu.Unlock()
	if userID != "" {
		if err := p.cache.Invalidate(ctx, cache.ProfileKey(userID)); err != nil {
			p.logger.Warn().Err(err).Msg("profile cache invalidate failed")
		}
	}
	p.write(func() {
		p.clearLocked()
		p.state = StateUnauthenticated
	})
}

func (p *AuthProvider) clearLocked() {
	p.user = nil
	p.session = nil
	p.profile = nil
	p.loading = false
}

// write applies fn under the lock unless the provider has been closed.
func (p *AuthProvider) write(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.mounted {
		return
	}
	fn()
}

func (p *AuthProvider) forceLoaded() {
	p.write(func() {
		if p.loading {
			p.logger.Warn().Dur("timeout", p.cfg.EmergencyTimeout).Msg("auth check timed out, clearing loading state")
			p.loading = false
		}
	})
}

func (p *AuthProvider) stopTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}

// SignOut ends the backend session, clears local state and returns home.
func (p *AuthProvider) SignOut(ctx context.Context) {
	if err := p.backend.SignOut(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("backend sign-out failed")
	}
	p.clearAndInvalidate(ctx)
	p.nav.Navigate("/")
}

// RefreshSession forces a token refresh and reloads the profile on success.
func (p *AuthProvider) RefreshSession(ctx context.Context) bool {
	sess, err := p.backend.RefreshSession(ctx)
	if err != nil || sess == nil {
		p.logger.Warn().Err(err).Msg("session refresh failed")
		return false
	}
	if err := p.cache.Invalidate(ctx, cache.ProfileKey(sess.UserID)); err != nil {
		p.logger.Warn().Err(err).Msg("profile cache invalidate failed")
	}
	p.applySession(ctx, sess)
	return true
}

func (p *AuthProvider) Snapshot() AuthSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := AuthSnapshot{State: p.state, Loading: p.loading}
	if p.user != nil {
		user := *p.user
		snap.User = &user
	}
	if p.session != nil {
		sess := *p.session
		snap.Session = &sess
	}
	if p.profile != nil {
		profile := *p.profile
		snap.Profile = &profile
	}
	return snap
}

func (p *AuthProvider) AccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ""
	}
	return p.session.AccessToken
}

// Unauthenticated reports whether the provider has concluded nobody is
// signed in. It is false while the check is still running.
func (p *AuthProvider) Unauthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateUnauthenticated
}

// Close unmounts the provider. Later state writes are dropped and the event
// listener exits.
func (p *AuthProvider) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.mounted = false
		if p.timer != nil {
			p.timer.Stop()
		}
		unsubscribe := p.unsubscribe
		p.mu.Unlock()

		close(p.stop)
		p.cancel()
		if unsubscribe != nil {
			unsubscribe()
		}
		p.wg.Wait()
	})
}

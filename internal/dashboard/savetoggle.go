package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"terravest/api/internal/cache"
	"terravest/api/internal/metrics"
)

const (
	// DashboardCacheKey is the client cache entry for the dashboard aggregate.
	DashboardCacheKey = "dashboard_profile_data"

	watchlistPath         = "/api/user/watchlist"
	defaultReconcileDelay = time.Second
)

var (
	ErrAuthLoading      = errors.New("authentication is still loading")
	ErrSignInRequired   = errors.New("sign in required")
	ErrToggleInProgress = errors.New("save already in progress")
	ErrToggleClosed     = errors.New("save toggle closed")
)

type watchlistWrite struct {
	CompanyID string `json:"company_id"`
	Action    string `json:"action"`
}

type ToggleState string

const (
	ToggleIdle     ToggleState = "idle"
	ToggleToggling ToggleState = "toggling"
	ToggleError    ToggleState = "error"
)

type SnapshotSource interface {
	Snapshot() AuthSnapshot
}

type ToggleDeps struct {
	Auth      SnapshotSource
	Fetcher   Doer
	Cache     cache.Cache
	Saved     *SavedSet
	Watchlist *WatchlistView
	Navigator Navigator
	Notifier  Notifier
	Logger    zerolog.Logger
}

type SaveToggleConfig struct {
	CompanyID      string
	InitiallySaved bool
	// ReconcileDelay postpones the post-write refresh to give the backend
	// time to make the write visible to reads.
	ReconcileDelay time.Duration
	OnChange       func(saved bool)
}

// SaveToggle adds or removes one company from the watchlist. After each
// successful write it schedules exactly one delayed reconciliation.
type SaveToggle struct {
	cfg  SaveToggleConfig
	deps ToggleDeps

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   ToggleState
	saved   bool
	closed  bool
	nextID  int
	pending map[int]*time.Timer
	wg      sync.WaitGroup
}

func NewSaveToggle(cfg SaveToggleConfig, deps ToggleDeps) *SaveToggle {
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = defaultReconcileDelay
	}
	if deps.Navigator == nil {
		deps.Navigator = nopNavigator{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SaveToggle{
		cfg:     cfg,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		state:   ToggleIdle,
		saved:   cfg.InitiallySaved,
		pending: make(map[int]*time.Timer),
	}
}

func (t *SaveToggle) IsSaved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saved
}

func (t *SaveToggle) State() ToggleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ToggleSave flips the saved state through the API. The local state only
// changes after the server accepts the write.
func (t *SaveToggle) ToggleSave(ctx context.Context) error {
	snap := t.deps.Auth.Snapshot()
	if snap.Loading {
		t.deps.Notifier.Notify(Notice{Level: NoticeInfo, Message: "Please wait while we check your session"})
		return ErrAuthLoading
	}
	if snap.User == nil {
		t.deps.Notifier.Notify(Notice{Level: NoticeInfo, Message: "Sign in to save companies"})
		t.deps.Navigator.Navigate(signInPath)
		return ErrSignInRequired
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrToggleClosed
	}
	if t.state == ToggleToggling {
		t.mu.Unlock()
		return ErrToggleInProgress
	}
	t.state = ToggleToggling
	action := "add"
	if t.saved {
		action = "remove"
	}
	t.mu.Unlock()

	if t.deps.Cache != nil {
		if err := t.deps.Cache.Invalidate(ctx, DashboardCacheKey); err != nil {
			t.deps.Logger.Warn().Err(err).Msg("dashboard cache invalidate failed")
		}
	}

	env := t.deps.Fetcher.Do(ctx, watchlistPath, RequestOptions{
		Method: http.MethodPost,
		Body:   watchlistWrite{CompanyID: t.cfg.CompanyID, Action: action},
	})
	if err := envelopeError(env); err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Unauthorized() {
			t.mu.Lock()
			t.state = ToggleIdle
			t.mu.Unlock()
			t.deps.Notifier.Notify(Notice{Level: NoticeInfo, Message: sessionExpiredMessage})
			t.deps.Navigator.Navigate(signInPath)
			return err
		}
		t.fail(err)
		return err
	}

	saved := action == "add"
	t.mu.Lock()
	t.saved = saved
	t.state = ToggleIdle
	t.mu.Unlock()

	if t.cfg.OnChange != nil {
		t.cfg.OnChange(saved)
	}
	if t.deps.Saved != nil {
		if saved {
			t.deps.Saved.Add(t.cfg.CompanyID)
		} else {
			t.deps.Saved.Remove(t.cfg.CompanyID)
		}
	}
	message := "Company removed from watchlist"
	if saved {
		message = "Company added to watchlist"
	}
	t.deps.Notifier.Notify(Notice{Level: NoticeSuccess, Message: message})
	t.scheduleReconcile()
	return nil
}

func (t *SaveToggle) fail(err error) {
	t.mu.Lock()
	t.state = ToggleError
	t.mu.Unlock()
	t.deps.Logger.Warn().Err(err).Str("company_id", t.cfg.CompanyID).Msg("watchlist toggle failed")
	t.deps.Notifier.Notify(Notice{Level: NoticeError, Message: "Failed to update watchlist"})
	t.mu.Lock()
	t.state = ToggleIdle
	t.mu.Unlock()
}

func (t *SaveToggle) scheduleReconcile() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	id := t.nextID
	t.nextID++
	t.wg.Add(1)
	t.pending[id] = time.AfterFunc(t.cfg.ReconcileDelay, func() {
		defer t.wg.Done()
		t.mu.Lock()
		delete(t.pending, id)
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			t.reconcile()
		}
	})
}

// reconcile re-reads the saved ids and the watchlist, then refreshes the
// page.
func (t *SaveToggle) reconcile() {
	var errs []error
	if t.deps.Saved != nil {
		errs = append(errs, t.deps.Saved.Refresh(t.ctx))
	}
	if t.deps.Watchlist != nil {
		errs = append(errs, t.deps.Watchlist.Refresh(t.ctx))
	}
	err := errors.Join(errs...)
	if err != nil {
		t.deps.Logger.Warn().Err(err).Msg("watchlist reconciliation failed")
	}
	metrics.ObserveReconcile(err)
	t.deps.Navigator.Refresh()
}

// Close cancels pending reconciliations and waits for a running one.
func (t *SaveToggle) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for id, timer := range t.pending {
		if timer.Stop() {
			t.wg.Done()
		}
		delete(t.pending, id)
	}
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

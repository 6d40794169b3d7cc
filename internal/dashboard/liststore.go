package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultLoadingTimeout = 8 * time.Second
	formatErrorMessage    = "Received an unexpected data format"
	sessionExpiredMessage = "Your session has expired. Please sign in again."
	signInPath            = "/sign-in"
)

// AuthGate tells stores whether the auth layer has concluded nobody is
// signed in.
type AuthGate interface {
	Unauthenticated() bool
}

// StoreDeps wires a domain store. Only Fetcher is required.
type StoreDeps struct {
	Fetcher        Doer
	Gate           AuthGate
	Notifier       Notifier
	Navigator      Navigator
	Logger         zerolog.Logger
	LoadingTimeout time.Duration
}

func (d StoreDeps) withDefaults() StoreDeps {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Navigator == nil {
		d.Navigator = nopNavigator{}
	}
	if d.LoadingTimeout <= 0 {
		d.LoadingTimeout = defaultLoadingTimeout
	}
	return d
}

type ListState[T any] struct {
	Data    []T
	Loading bool
	Err     string
}

// listLoader holds one fetched list with in-flight de-duplication, an
// unauthorized backoff and a loading timeout.
type listLoader[T any] struct {
	name string
	path string
	deps StoreDeps

	mu          sync.Mutex
	data        []T
	loading     bool
	inFlight    bool
	authBackoff bool
	err         string
	lastShape   ShapeKind
}

func newListLoader[T any](name, path string, deps StoreDeps) *listLoader[T] {
	return &listLoader[T]{name: name, path: path, deps: deps.withDefaults(), data: []T{}}
}

// Fetch loads the list. It returns without a request when the user is
// signed out, a fetch is already running, or a previous fetch was rejected
// as unauthorized.
func (l *listLoader[T]) Fetch(ctx context.Context) {
	if l.deps.Gate != nil && l.deps.Gate.Unauthenticated() {
		return
	}
	l.mu.Lock()
	if l.inFlight || l.authBackoff {
		l.mu.Unlock()
		return
	}
	l.inFlight = true
	l.loading = true
	l.err = ""
	timer := time.AfterFunc(l.deps.LoadingTimeout, l.expire)
	l.mu.Unlock()

	env := l.deps.Fetcher.Do(ctx, l.path, RequestOptions{})
	timer.Stop()

	if env.Unauthorized() {
		l.rejectUnauthorized()
		l.deps.redirectToSignIn()
		return
	}
	notice := l.apply(env)
	if notice != nil {
		l.deps.Notifier.Notify(*notice)
	}
}

// rejectUnauthorized clears the list and stops further fetches until
// ResetAuthBackoff.
func (l *listLoader[T]) rejectUnauthorized() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	l.loading = false
	l.authBackoff = true
	l.data = []T{}
	l.err = UnauthorizedMessage
}

// redirectToSignIn sends the user to the sign-in page instead of showing
// an error.
func (d StoreDeps) redirectToSignIn() {
	d.Notifier.Notify(Notice{Level: NoticeInfo, Message: sessionExpiredMessage})
	d.Navigator.Navigate(signInPath)
}

// apply stores a completed response. Failures leave the list empty.
func (l *listLoader[T]) apply(env Envelope) *Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	l.loading = false

	if !env.OK() {
		l.data = []T{}
		l.err = env.Error
		return &Notice{Level: NoticeError, Message: "Failed to load " + l.name + ": " + env.Error}
	}

	kind, items := ParseList(env.Data)
	l.lastShape = kind
	if kind == ShapeUnknown {
		l.logger().Warn().Str("store", l.name).Int("bytes", len(env.Data)).Msg("unrecognized list response shape")
		l.data = []T{}
		l.err = formatErrorMessage
		return &Notice{Level: NoticeError, Message: formatErrorMessage}
	}
	decoded, skipped := decodeItems[T](items)
	if skipped > 0 {
		l.logger().Warn().Str("store", l.name).Int("skipped", skipped).Msg("dropped undecodable list items")
	}
	l.data = decoded
	return nil
}

func (l *listLoader[T]) expire() {
	l.mu.Lock()
	if !l.loading {
		l.mu.Unlock()
		return
	}
	l.loading = false
	l.data = []T{}
	l.mu.Unlock()
	l.logger().Warn().Str("store", l.name).Dur("timeout", l.deps.LoadingTimeout).Msg("list loading timed out")
	l.deps.Notifier.Notify(Notice{Level: NoticeError, Message: "Loading " + l.name + " is taking too long. Please try again."})
}

// ResetAuthBackoff allows fetching again after a new sign-in.
func (l *listLoader[T]) ResetAuthBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authBackoff = false
	if l.err == UnauthorizedMessage {
		l.err = ""
	}
}

func (l *listLoader[T]) State() ListState[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ListState[T]{Data: append([]T(nil), l.data...), Loading: l.loading, Err: l.err}
}

// Shape reports how the last successful response was laid out.
func (l *listLoader[T]) Shape() ShapeKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastShape
}

// patch applies fn to every item under the lock.
func (l *listLoader[T]) patch(fn func(*T)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.data {
		fn(&l.data[i])
	}
}

func (l *listLoader[T]) logger() *zerolog.Logger {
	return &l.deps.Logger
}

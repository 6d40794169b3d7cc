package dashboard

import (
	"sync"

	"github.com/rs/zerolog"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

type Notice struct {
	Level   NoticeLevel
	Message string
}

// Notifier surfaces user-facing messages.
type Notifier interface {
	Notify(Notice)
}

// Navigator moves the user between pages. Refresh re-renders the current
// page from fresh data.
type Navigator interface {
	Navigate(path string)
	Refresh()
}

// LogNotifier writes notices to a zerolog logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(notice Notice) {
	event := n.Logger.Info()
	if notice.Level == NoticeError {
		event = n.Logger.Warn()
	}
	event.Str("level", string(notice.Level)).Msg(notice.Message)
}

// RecordingNavigator keeps the navigation history in memory.
type RecordingNavigator struct {
	mu        sync.Mutex
	paths     []string
	refreshes int
}

func (n *RecordingNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *RecordingNavigator) Refresh() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshes++
}

func (n *RecordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func (n *RecordingNavigator) Refreshes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refreshes
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}
func (nopNavigator) Refresh()        {}

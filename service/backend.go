package service

import (
	"context"
	"strings"

	"github.com/yllada/g15-config/common"
)

// EventKind identifies a backend signal.
type EventKind int

const (
	EventStarting EventKind = iota
	EventStarted
	EventStopping
	EventStopped
	EventScreenAdded
	EventScreenRemoved
	EventConnected
	EventDisconnected
	// EventBackendAppeared and EventBackendVanished report the backend
	// process taking or losing its bus name.
	EventBackendAppeared
	EventBackendVanished
)

var eventNames = map[EventKind]string{
	EventStarting:        "Starting",
	EventStarted:         "Started",
	EventStopping:        "Stopping",
	EventStopped:         "Stopped",
	EventScreenAdded:     "ScreenAdded",
	EventScreenRemoved:   "ScreenRemoved",
	EventConnected:       "Connected",
	EventDisconnected:    "Disconnected",
	EventBackendAppeared: "BackendAppeared",
	EventBackendVanished: "BackendVanished",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Event is one inbound backend signal. Screen is set for screen events.
type Event struct {
	Kind   EventKind
	Screen string
}

// Sink receives events from a backend subscription. Sinks are called on
// the backend's dispatch goroutine and must not block; owners hand the
// event to their own event loop.
type Sink func(Event)

// Cancel releases a subscription. It is safe to call more than once.
type Cancel func()

// Backend is the desktop service as seen by the monitor. Queries are
// synchronous and fail with a *common.BackendUnavailableError.
type Backend interface {
	IsStarting(ctx context.Context) (bool, error)
	IsStopping(ctx context.Context) (bool, error)
	GetScreens(ctx context.Context) ([]string, error)
	IsConnected(ctx context.Context, screen string) (bool, error)
	GetLastError(ctx context.Context, screen string) (string, error)
	Stop(ctx context.Context) error

	// SubscribeService delivers the lifecycle and screen add/remove signals.
	SubscribeService(sink Sink) (Cancel, error)
	// SubscribeScreen delivers Connected/Disconnected for one screen.
	SubscribeScreen(screen string, sink Sink) (Cancel, error)
	// WatchPresence delivers EventBackendAppeared/EventBackendVanished.
	WatchPresence(sink Sink) (Cancel, error)
}

// ScreenPath returns the screen identifier the backend uses for a device.
func ScreenPath(deviceUID string) string {
	return common.ScreenPathPrefix + deviceUID
}

// DeviceUID returns the device uid of a screen identifier, if it is one.
func DeviceUID(screen string) (string, bool) {
	if !strings.HasPrefix(screen, common.ScreenPathPrefix) {
		return "", false
	}
	uid := strings.TrimPrefix(screen, common.ScreenPathPrefix)
	return uid, uid != ""
}

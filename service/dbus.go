package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/g15-config/common"
)

const (
	dbusInterface    = "org.freedesktop.DBus"
	nameOwnerChanged = "NameOwnerChanged"
	signalBufferSize = 32
)

type signalRoute struct {
	match  []dbus.MatchOption
	decode func(*dbus.Signal) (Event, bool)
	sink   Sink
}

// DBusBackend talks to the desktop service over the session bus.
type DBusBackend struct {
	conn    *dbus.Conn
	timeout time.Duration
	logger  common.Logger

	mu      sync.Mutex
	routes  map[uint64]*signalRoute
	nextID  uint64
	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
}

// ConnectDBusBackend opens a private session bus connection.
func ConnectDBusBackend(logger common.Logger) (*DBusBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, common.Unavailable("connect to session bus", err)
	}
	return NewDBusBackend(conn, logger), nil
}

// NewDBusBackend wraps conn. The backend owns conn and closes it.
func NewDBusBackend(conn *dbus.Conn, logger common.Logger) *DBusBackend {
	if logger == nil {
		logger = common.GetLogger()
	}
	b := &DBusBackend{
		conn:    conn,
		timeout: common.BusCallTimeout,
		logger:  logger,
		routes:  make(map[uint64]*signalRoute),
		signals: make(chan *dbus.Signal, signalBufferSize),
		done:    make(chan struct{}),
	}
	conn.Signal(b.signals)
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Close stops signal dispatch and closes the bus connection.
func (b *DBusBackend) Close() error {
	select {
	case <-b.done:
		return nil
	default:
	}
	close(b.done)
	b.conn.RemoveSignal(b.signals)
	b.wg.Wait()
	return b.conn.Close()
}

func (b *DBusBackend) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case sig, ok := <-b.signals:
			if !ok {
				return
			}
			b.route(sig)
		}
	}
}

func (b *DBusBackend) route(sig *dbus.Signal) {
	b.mu.Lock()
	var sinks []Sink
	var events []Event
	for _, r := range b.routes {
		if ev, ok := r.decode(sig); ok {
			sinks = append(sinks, r.sink)
			events = append(events, ev)
		}
	}
	b.mu.Unlock()

	for i, sink := range sinks {
		sink(events[i])
	}
}

func (b *DBusBackend) subscribe(r *signalRoute) (Cancel, error) {
	if err := b.conn.AddMatchSignal(r.match...); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.routes[id] = r
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.routes, id)
			b.mu.Unlock()
			if err := b.conn.RemoveMatchSignal(r.match...); err != nil {
				b.logger.Debug("Failed to remove signal match: %v", err)
			}
		})
	}, nil
}

func (b *DBusBackend) call(ctx context.Context, path, method string, args []interface{}, out ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	obj := b.conn.Object(common.BackendBusName, dbus.ObjectPath(path))
	call := obj.CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return common.Unavailable(method, call.Err)
	}
	if len(out) == 0 {
		return nil
	}
	if err := call.Store(out...); err != nil {
		return common.Unavailable(method, err)
	}
	return nil
}

func (b *DBusBackend) IsStarting(ctx context.Context) (bool, error) {
	var v bool
	err := b.call(ctx, common.BackendObjectPath, common.ServiceInterface+".IsStarting", nil, &v)
	return v, err
}

func (b *DBusBackend) IsStopping(ctx context.Context) (bool, error) {
	var v bool
	err := b.call(ctx, common.BackendObjectPath, common.ServiceInterface+".IsStopping", nil, &v)
	return v, err
}

func (b *DBusBackend) GetScreens(ctx context.Context) ([]string, error) {
	var paths []string
	err := b.call(ctx, common.BackendObjectPath, common.ServiceInterface+".GetScreens", nil, &paths)
	return paths, err
}

func (b *DBusBackend) IsConnected(ctx context.Context, screen string) (bool, error) {
	var v bool
	err := b.call(ctx, screen, common.ScreenInterface+".IsConnected", nil, &v)
	return v, err
}

func (b *DBusBackend) GetLastError(ctx context.Context, screen string) (string, error) {
	var v string
	err := b.call(ctx, screen, common.ScreenInterface+".GetLastError", nil, &v)
	return v, err
}

func (b *DBusBackend) Stop(ctx context.Context) error {
	return b.call(ctx, common.BackendObjectPath, common.ServiceInterface+".Stop", nil)
}

var serviceSignals = map[string]EventKind{
	"Starting":      EventStarting,
	"Started":       EventStarted,
	"Stopping":      EventStopping,
	"Stopped":       EventStopped,
	"ScreenAdded":   EventScreenAdded,
	"ScreenRemoved": EventScreenRemoved,
}

func (b *DBusBackend) SubscribeService(sink Sink) (Cancel, error) {
	return b.subscribe(&signalRoute{
		match: []dbus.MatchOption{
			dbus.WithMatchInterface(common.ServiceInterface),
			dbus.WithMatchObjectPath(dbus.ObjectPath(common.BackendObjectPath)),
		},
		decode: decodeServiceSignal,
		sink:   sink,
	})
}

func decodeServiceSignal(sig *dbus.Signal) (Event, bool) {
	member, ok := memberOf(sig, common.ServiceInterface)
	if !ok || sig.Path != dbus.ObjectPath(common.BackendObjectPath) {
		return Event{}, false
	}
	kind, ok := serviceSignals[member]
	if !ok {
		return Event{}, false
	}
	ev := Event{Kind: kind}
	if kind == EventScreenAdded || kind == EventScreenRemoved {
		ev.Screen = screenArg(sig)
		if ev.Screen == "" {
			return Event{}, false
		}
	}
	return ev, true
}

func (b *DBusBackend) SubscribeScreen(screen string, sink Sink) (Cancel, error) {
	path := dbus.ObjectPath(screen)
	if !path.IsValid() {
		return nil, &common.PreconditionError{Op: "subscribe to screen", Reason: "invalid object path " + screen}
	}
	return b.subscribe(&signalRoute{
		match: []dbus.MatchOption{
			dbus.WithMatchInterface(common.ScreenInterface),
			dbus.WithMatchObjectPath(path),
		},
		decode: func(sig *dbus.Signal) (Event, bool) {
			member, ok := memberOf(sig, common.ScreenInterface)
			if !ok || sig.Path != path {
				return Event{}, false
			}
			switch member {
			case "Connected":
				return Event{Kind: EventConnected, Screen: screen}, true
			case "Disconnected":
				return Event{Kind: EventDisconnected, Screen: screen}, true
			}
			return Event{}, false
		},
		sink: sink,
	})
}

func (b *DBusBackend) WatchPresence(sink Sink) (Cancel, error) {
	return b.subscribe(&signalRoute{
		match: []dbus.MatchOption{
			dbus.WithMatchInterface(dbusInterface),
			dbus.WithMatchMember(nameOwnerChanged),
			dbus.WithMatchArg(0, common.BackendBusName),
		},
		decode: decodeOwnerChanged,
		sink:   sink,
	})
}

// decodeOwnerChanged maps NameOwnerChanged(name, old, new) for the backend
// name to appeared (old owner empty) or vanished (new owner empty).
func decodeOwnerChanged(sig *dbus.Signal) (Event, bool) {
	member, ok := memberOf(sig, dbusInterface)
	if !ok || member != nameOwnerChanged || len(sig.Body) < 3 {
		return Event{}, false
	}
	name, _ := sig.Body[0].(string)
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	if name != common.BackendBusName {
		return Event{}, false
	}
	switch {
	case oldOwner == "" && newOwner != "":
		return Event{Kind: EventBackendAppeared}, true
	case oldOwner != "" && newOwner == "":
		return Event{Kind: EventBackendVanished}, true
	}
	return Event{}, false
}

func memberOf(sig *dbus.Signal, iface string) (string, bool) {
	prefix := iface + "."
	if !strings.HasPrefix(sig.Name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(sig.Name, prefix), true
}

func screenArg(sig *dbus.Signal) string {
	if len(sig.Body) == 0 {
		return ""
	}
	switch v := sig.Body[0].(type) {
	case string:
		return v
	case dbus.ObjectPath:
		return string(v)
	}
	return ""
}

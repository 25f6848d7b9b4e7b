// Package service tracks the Gnome15 desktop service: its lifecycle state,
// the keyboards (screens) it drives, and the single-instance presence
// object of the configuration tool.
package service

import (
	"context"

	"github.com/yllada/g15-config/common"
)

type screenState struct {
	id        string
	connected bool
	lastError string
	cancel    Cancel
}

// ScreenStatus is the connectivity of one screen.
type ScreenStatus struct {
	ID        string
	Connected bool
	LastError string
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Deliver receives every backend signal. The owner must pass each event
	// back to Handle on the goroutine that owns the monitor.
	Deliver Sink
	Logger  common.Logger
}

// Listener is a status callback registered with Monitor.Listen.
type Listener struct {
	m      *Monitor
	screen string
	id     uint64
}

// Remove unregisters the listener. It is safe to call more than once.
func (l *Listener) Remove() {
	if l == nil || l.m == nil {
		return
	}
	if byID, ok := l.m.listeners[l.screen]; ok {
		delete(byID, l.id)
		if len(byID) == 0 {
			delete(l.m.listeners, l.screen)
		}
	}
	l.m = nil
}

// Monitor is the backend link state machine.
//
// Signals only change state once passed to Handle, so a Monitor is driven
// from a single goroutine and is not safe for concurrent use.
type Monitor struct {
	backend Backend
	deliver Sink
	logger  common.Logger

	linked         bool
	state          State
	ids            []string
	screens        map[string]*screenState
	serviceCancel  Cancel
	presenceCancel Cancel

	listeners map[string]map[uint64]func(Status)
	nextID    uint64
	last      Status
}

// NewMonitor returns a stopped monitor for backend.
func NewMonitor(backend Backend, opts MonitorOptions) *Monitor {
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}
	if opts.Deliver == nil {
		opts.Deliver = func(Event) {}
	}
	return &Monitor{
		backend:   backend,
		deliver:   opts.Deliver,
		logger:    opts.Logger,
		screens:   make(map[string]*screenState),
		listeners: make(map[string]map[uint64]func(Status)),
	}
}

// Start watches the backend's bus name and connects if it is running.
// A backend that is not running leaves the monitor Stopped without error;
// it connects once the backend appears.
func (m *Monitor) Start(ctx context.Context) error {
	if m.presenceCancel == nil {
		cancel, err := m.backend.WatchPresence(m.deliver)
		if err != nil {
			return common.Unavailable("watch backend presence", err)
		}
		m.presenceCancel = cancel
	}
	if err := m.Connect(ctx); err != nil {
		m.logger.Debug("Backend not reachable: %v", err)
	}
	return nil
}

// Connect subscribes to the backend's signals and seeds the state and
// screen map from its current status. Any failure leaves the monitor
// Stopped with nothing tracked.
func (m *Monitor) Connect(ctx context.Context) error {
	if m.linked {
		return nil
	}

	cancel, err := m.backend.SubscribeService(m.deliver)
	if err != nil {
		m.Disconnect()
		return common.Unavailable("subscribe to service signals", err)
	}
	m.serviceCancel = cancel

	starting, err := m.backend.IsStarting(ctx)
	if err != nil {
		m.Disconnect()
		return err
	}
	stopping := false
	if !starting {
		if stopping, err = m.backend.IsStopping(ctx); err != nil {
			m.Disconnect()
			return err
		}
	}
	switch {
	case starting:
		m.state = StateStarting
	case stopping:
		m.state = StateStopping
	default:
		m.state = StateStarted
	}
	m.logger.Debug("Backend state is %s", m.state)

	screens, err := m.backend.GetScreens(ctx)
	if err != nil {
		m.Disconnect()
		return err
	}
	for _, id := range screens {
		if err := m.addScreen(ctx, id); err != nil {
			m.Disconnect()
			return err
		}
	}

	m.linked = true
	m.notify("")
	return nil
}

// Disconnect releases every backend subscription except the presence
// watch and returns to Stopped.
func (m *Monitor) Disconnect() {
	m.clearScreens()
	if m.serviceCancel != nil {
		m.serviceCancel()
		m.serviceCancel = nil
	}
	m.linked = false
	m.state = StateStopped
	m.notify("")
}

// Close releases every subscription and listener.
func (m *Monitor) Close() {
	m.Disconnect()
	if m.presenceCancel != nil {
		m.presenceCancel()
		m.presenceCancel = nil
	}
	m.listeners = make(map[string]map[uint64]func(Status))
}

func (m *Monitor) clearScreens() {
	for _, id := range m.ids {
		if s := m.screens[id]; s.cancel != nil {
			s.cancel()
		}
	}
	m.ids = nil
	m.screens = make(map[string]*screenState)
}

func (m *Monitor) addScreen(ctx context.Context, id string) error {
	if _, ok := m.screens[id]; ok {
		return nil
	}
	cancel, err := m.backend.SubscribeScreen(id, m.deliver)
	if err != nil {
		return common.Unavailable("subscribe to screen "+id, err)
	}
	s := &screenState{id: id, cancel: cancel}
	m.ids = append(m.ids, id)
	m.screens[id] = s
	m.refresh(ctx, s)
	m.logger.Debug("Screen added %s", id)
	return nil
}

func (m *Monitor) removeScreen(id string) bool {
	s, ok := m.screens[id]
	if !ok {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	delete(m.screens, id)
	m.ids = common.RemoveFromSlice(m.ids, id)
	m.logger.Debug("Screen removed %s", id)
	return true
}

// refresh queries one screen. A failed query counts as disconnected with
// no error detail.
func (m *Monitor) refresh(ctx context.Context, s *screenState) {
	connected, err := m.backend.IsConnected(ctx, s.id)
	if err != nil {
		m.logger.Warn("Failed to query screen %s: %v", s.id, err)
		s.connected, s.lastError = false, ""
		return
	}
	s.connected = connected
	s.lastError = ""
	if connected {
		return
	}
	msg, err := m.backend.GetLastError(ctx, s.id)
	if err != nil {
		m.logger.Warn("Failed to read last error of screen %s: %v", s.id, err)
		return
	}
	s.lastError = msg
}

// Handle applies one backend event and reports whether the aggregate
// status changed.
func (m *Monitor) Handle(ctx context.Context, ev Event) bool {
	before := m.Status()

	switch ev.Kind {
	case EventBackendAppeared:
		if !m.linked {
			if err := m.Connect(ctx); err != nil {
				m.logger.Warn("Failed to connect to backend: %v", err)
			}
		}
	case EventBackendVanished:
		if m.linked {
			m.Disconnect()
		}
	default:
		if !m.linked {
			// Late delivery from a released subscription.
			return false
		}
		m.apply(ctx, ev)
	}

	after := m.Status()
	m.notify(ev.Screen)
	return after != before
}

func (m *Monitor) apply(ctx context.Context, ev Event) {
	m.logger.Debug("Got %s signal %s", ev.Kind, ev.Screen)
	switch ev.Kind {
	case EventStarting:
		m.state = StateStarting
	case EventStarted:
		m.state = StateStarted
	case EventStopping:
		m.state = StateStopping
	case EventStopped:
		m.state = StateStopped
		m.clearScreens()
	case EventScreenAdded:
		if err := m.addScreen(ctx, ev.Screen); err != nil {
			m.logger.Warn("Lost backend link: %v", err)
			m.Disconnect()
		}
	case EventScreenRemoved:
		m.removeScreen(ev.Screen)
	case EventConnected, EventDisconnected:
		if s, ok := m.screens[ev.Screen]; ok {
			m.refresh(ctx, s)
		}
	}
}

// State returns the lifecycle phase.
func (m *Monitor) State() State { return m.state }

// Linked reports whether the monitor is subscribed to the backend.
func (m *Monitor) Linked() bool { return m.linked }

// Screens returns every tracked screen in the order it was added.
func (m *Monitor) Screens() []ScreenStatus {
	out := make([]ScreenStatus, 0, len(m.ids))
	for _, id := range m.ids {
		s := m.screens[id]
		out = append(out, ScreenStatus{ID: id, Connected: s.connected, LastError: s.lastError})
	}
	return out
}

// Screen returns the status of one screen.
func (m *Monitor) Screen(id string) (ScreenStatus, bool) {
	s, ok := m.screens[id]
	if !ok {
		return ScreenStatus{}, false
	}
	return ScreenStatus{ID: id, Connected: s.connected, LastError: s.lastError}, true
}

// Status derives the aggregate status from the tracked screens.
func (m *Monitor) Status() Status {
	st := Status{State: m.state}
	if m.state != StateStarted {
		return st
	}
	st.Total = len(m.ids)
	for _, id := range m.ids {
		s := m.screens[id]
		if s.connected {
			st.Connected++
			continue
		}
		if st.FirstError == "" {
			st.FirstError = s.lastError
		}
	}
	return st
}

// Stop asks the backend to shut down. It is only valid while Started.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.linked || m.state != StateStarted {
		return &common.PreconditionError{Op: "stop service", Reason: "the service is not running"}
	}
	m.logger.Info("Requesting backend stop")
	return m.backend.Stop(ctx)
}

// Listen calls fn with the aggregate status whenever it changes and
// whenever an event concerns screen. An empty screen listens to
// aggregate changes only.
func (m *Monitor) Listen(screen string, fn func(Status)) *Listener {
	m.nextID++
	byID, ok := m.listeners[screen]
	if !ok {
		byID = make(map[uint64]func(Status))
		m.listeners[screen] = byID
	}
	byID[m.nextID] = fn
	return &Listener{m: m, screen: screen, id: m.nextID}
}

// Listeners returns the number of listeners registered for screen.
func (m *Monitor) Listeners(screen string) int {
	return len(m.listeners[screen])
}

func (m *Monitor) notify(screen string) {
	st := m.Status()
	changed := st != m.last
	m.last = st

	for key, byID := range m.listeners {
		if !changed && (screen == "" || key != screen) {
			continue
		}
		for _, fn := range byID {
			fn(st)
		}
	}
}

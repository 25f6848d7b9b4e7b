// Package session binds one selected keyboard to its profiles, macros,
// driver and backend link.
//
// A Session is a single-goroutine actor: Run consumes a bounded queue of
// closures, and every public method, store notification and backend
// signal is turned into one. The profile registry, the manager and the
// service monitor are therefore only ever touched by the Run goroutine
// and carry no locks of their own.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/device"
	"github.com/yllada/g15-config/profile"
	"github.com/yllada/g15-config/service"
	"github.com/yllada/g15-config/store"
)

// ErrClosed is returned by calls made after the session stopped.
var ErrClosed = errors.New("session closed")

// Status is the snapshot passed to OnStatusChanged.
type Status struct {
	Device        string
	Service       service.Status
	Screen        service.ScreenStatus
	ScreenTracked bool
	ActiveProfile int
	ProfileName   string
	Enabled       bool
}

// Options configures a Session.
type Options struct {
	Store   *store.Store
	Devices []device.Device
	// Backend is the desktop service link. Nil disables it and the service
	// is reported as stopped.
	Backend   service.Backend
	QueueSize int
	Logger    common.Logger
	// OnStatusChanged runs on the session goroutine whenever the service
	// status, the active profile or the enabled flag of the selected
	// device changes. It must not call back into the session.
	OnStatusChanged func(Status)
}

// Session is the controller for the selected device.
type Session struct {
	st       *store.Store
	kv       *store.Client
	source   string
	devices  []device.Device
	monitor  *service.Monitor
	logger   common.Logger
	onStatus func(Status)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	ctx       context.Context
	dev       *device.Device
	driver    device.Driver
	profiles  *profile.Manager
	registry  *profile.Registry
	bank      int
	subs      []*store.Subscription
	watch     *store.Watch
	listener  *service.Listener
	last      Status
	announced bool
}

// New creates a session. Nothing happens until Run is called.
func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session: nil store")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = common.DefaultEventQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}

	s := &Session{
		st:       opts.Store,
		source:   "session-" + uuid.NewString(),
		devices:  append([]device.Device(nil), opts.Devices...),
		logger:   opts.Logger,
		onStatus: opts.OnStatusChanged,
		events:   make(chan func(), opts.QueueSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		bank:     1,
	}
	s.kv = s.st.Client(s.source)
	if opts.Backend != nil {
		s.monitor = service.NewMonitor(opts.Backend, service.MonitorOptions{
			Deliver: s.deliver,
			Logger:  opts.Logger,
		})
	}
	return s, nil
}

// Run processes events until ctx is cancelled or Close is called. It
// connects to the backend and restores the last selected device first.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx
	defer s.shutdown()

	if s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			s.logger.Warn("Service link disabled: %v", err)
		}
	}
	s.restoreSelection()
	s.emit()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

// Close stops the session. Pending and later calls fail with ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) shutdown() {
	s.release()
	if s.monitor != nil {
		s.monitor.Close()
	}
	s.Close()
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.events <- func() { errc <- fn() }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it to run.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Session) deliver(ev service.Event) {
	s.post(func() {
		s.monitor.Handle(s.ctx, ev)
		s.emit()
	})
}

func (s *Session) restoreSelection() {
	if len(s.devices) == 0 {
		s.logger.Info("No supported devices found")
		return
	}
	uid := s.devices[0].UID
	if v, ok, err := s.kv.Get(device.SelectedDeviceKey); err != nil {
		s.logger.Warn("Failed to read selected device: %v", err)
	} else if _, found := device.Find(s.devices, v.Str()); ok && found {
		uid = v.Str()
	}
	if err := s.selectDevice(uid); err != nil {
		s.logger.Error("Failed to select device %s: %v", uid, err)
	}
}

// release drops every store subscription and monitor listener of the
// selected device.
func (s *Session) release() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.watch.Remove()
	s.watch = nil
	s.listener.Remove()
	s.listener = nil
}

func (s *Session) selectDevice(uid string) error {
	dev, ok := device.Find(s.devices, uid)
	if !ok {
		return &common.NotFoundError{Entity: "device", Key: uid}
	}
	drv, err := device.SelectDriver(s.kv, dev)
	if err != nil {
		return err
	}
	mgr, err := profile.NewManager(s.kv, dev.Root(), dev.Model)
	if err != nil {
		return err
	}
	active, err := mgr.ActiveProfileID()
	if err != nil {
		return err
	}
	reg, err := mgr.Registry(active)
	if err != nil {
		return err
	}

	s.release()
	s.dev = &dev
	s.driver = drv
	s.profiles = mgr
	s.registry = reg
	s.bank = 1

	root := dev.Root()
	s.subs = append(s.subs, s.st.OnChange(root, func(c store.Change) {
		s.post(func() { s.handleChange(root, c) })
	}))
	s.watch = s.st.AddWatch(root)
	if s.monitor != nil {
		s.listener = s.monitor.Listen(service.ScreenPath(dev.UID), func(service.Status) { s.emit() })
	}

	if err := s.kv.Set(device.SelectedDeviceKey, store.String(uid)); err != nil {
		s.logger.Warn("Failed to remember selected device: %v", err)
	}
	s.logger.Info("Selected device %s (%s, driver %s)", uid, dev.FullName(), drv.ID())
	s.emit()
	return nil
}

// handleChange reacts to writes by other sessions and processes.
func (s *Session) handleChange(root string, c store.Change) {
	if s.dev == nil || s.dev.Root() != root || c.Source == s.source {
		return
	}
	s.logger.Debug("External change %s %s", c.Type, c.Path)

	if store.Under(s.profiles.ProfilesRoot(), c.Path) {
		if err := s.reloadRegistry(); err != nil {
			s.logger.Warn("Failed to reload macros: %v", err)
		}
	}
	s.emit()
}

func (s *Session) reloadRegistry() error {
	id := s.registry.ProfileID()
	if _, err := s.profiles.Profile(id); errors.Is(err, common.ErrNotFound) {
		if id, err = s.profiles.ActiveProfileID(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	reg, err := s.profiles.Registry(id)
	if err != nil {
		return err
	}
	s.registry = reg
	return nil
}

func (s *Session) snapshot() Status {
	var st Status
	if s.monitor != nil {
		st.Service = s.monitor.Status()
	}
	if s.dev == nil {
		return st
	}
	st.Device = s.dev.UID
	if s.monitor != nil {
		st.Screen, st.ScreenTracked = s.monitor.Screen(service.ScreenPath(s.dev.UID))
	}

	st.Enabled = true
	if v, ok, err := s.kv.Get(s.dev.Key("enabled")); err != nil {
		s.logger.Warn("Failed to read enabled flag: %v", err)
	} else if ok {
		st.Enabled = v.BoolValue()
	}

	p, err := s.profiles.ActiveProfile()
	if err != nil {
		s.logger.Warn("Failed to read active profile: %v", err)
		return st
	}
	st.ActiveProfile = p.ID
	st.ProfileName = p.Name
	return st
}

func (s *Session) emit() {
	st := s.snapshot()
	if s.announced && st == s.last {
		return
	}
	s.last, s.announced = st, true
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

func (s *Session) requireDevice(op string) error {
	if s.dev == nil {
		return &common.PreconditionError{Op: op, Reason: "no device selected"}
	}
	return nil
}

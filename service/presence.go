package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/g15-config/common"
)

// nameBus is the part of the session bus the presence object needs.
type nameBus interface {
	// RequestName reports whether the caller became the primary owner.
	RequestName(name string) (bool, error)
	ReleaseName(name string) error
	Export(v interface{}, path, iface string) error
	Unexport(path, iface string) error
	// CallPresent invokes Present on the current owner of the presence name.
	CallPresent(ctx context.Context) error
	Close() error
}

type connBus struct {
	conn *dbus.Conn
}

func (c connBus) RequestName(name string) (bool, error) {
	reply, err := c.conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return false, err
	}
	return reply == dbus.RequestNameReplyPrimaryOwner, nil
}

func (c connBus) ReleaseName(name string) error {
	_, err := c.conn.ReleaseName(name)
	return err
}

func (c connBus) Export(v interface{}, path, iface string) error {
	return c.conn.Export(v, dbus.ObjectPath(path), iface)
}

func (c connBus) Unexport(path, iface string) error {
	return c.conn.Export(nil, dbus.ObjectPath(path), iface)
}

func (c connBus) CallPresent(ctx context.Context) error {
	obj := c.conn.Object(common.PresenceBusName, dbus.ObjectPath(common.PresenceObjectPath))
	return obj.CallWithContext(ctx, common.PresenceInterface+".Present", 0).Err
}

func (c connBus) Close() error { return c.conn.Close() }

// presenceObject is exported on the bus. godbus calls Present on its own
// goroutine.
type presenceObject struct {
	onPresent func()
}

func (o *presenceObject) Present() *dbus.Error {
	if o.onPresent != nil {
		o.onPresent()
	}
	return nil
}

// Presence is the single-instance identity of the configuration tool.
// The first instance claims it; later instances forward Present to the
// first one and exit.
type Presence struct {
	bus    nameBus
	obj    *presenceObject
	logger common.Logger

	mu      sync.Mutex
	claimed bool
}

// NewPresence connects to the session bus. onPresent runs when another
// instance asks this one to come to the foreground.
func NewPresence(onPresent func(), logger common.Logger) (*Presence, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, common.Unavailable("connect to session bus", err)
	}
	return newPresence(connBus{conn: conn}, onPresent, logger), nil
}

func newPresence(bus nameBus, onPresent func(), logger common.Logger) *Presence {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Presence{bus: bus, obj: &presenceObject{onPresent: onPresent}, logger: logger}
}

// Claim takes the presence identity. It fails with common.ErrAlreadyRunning
// when another instance holds it.
func (p *Presence) Claim() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed {
		return nil
	}

	if err := p.bus.Export(p.obj, common.PresenceObjectPath, common.PresenceInterface); err != nil {
		return common.Unavailable("export presence object", err)
	}
	owner, err := p.bus.RequestName(common.PresenceBusName)
	if err != nil {
		p.unexport()
		return common.Unavailable("request "+common.PresenceBusName, err)
	}
	if !owner {
		p.unexport()
		return fmt.Errorf("%s: %w", common.PresenceBusName, common.ErrAlreadyRunning)
	}

	p.claimed = true
	p.logger.Debug("Claimed %s", common.PresenceBusName)
	return nil
}

func (p *Presence) unexport() {
	if err := p.bus.Unexport(common.PresenceObjectPath, common.PresenceInterface); err != nil {
		p.logger.Debug("Failed to unexport presence object: %v", err)
	}
}

// Forward asks the running instance to come to the foreground.
func (p *Presence) Forward(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, common.BusCallTimeout)
	defer cancel()
	if err := p.bus.CallPresent(ctx); err != nil {
		return common.Unavailable("forward Present", err)
	}
	return nil
}

// Claimed reports whether this process holds the identity.
func (p *Presence) Claimed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.claimed
}

// Close releases the identity, if held, and the bus connection.
func (p *Presence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed {
		if err := p.bus.ReleaseName(common.PresenceBusName); err != nil {
			p.logger.Warn("Failed to release %s: %v", common.PresenceBusName, err)
		}
		p.unexport()
		p.claimed = false
	}
	return p.bus.Close()
}

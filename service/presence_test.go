package service

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/g15-config/common"
)

// fakeBus is a session bus shared by several Presence instances.
type fakeBus struct {
	owner    *fakeConn
	requests int
}

type fakeConn struct {
	bus      *fakeBus
	exported map[string]interface{}
	closed   bool
	callErr  error
}

func (b *fakeBus) conn() *fakeConn {
	return &fakeConn{bus: b, exported: make(map[string]interface{})}
}

func (c *fakeConn) RequestName(name string) (bool, error) {
	c.bus.requests++
	if c.bus.owner != nil && c.bus.owner != c {
		return false, nil
	}
	c.bus.owner = c
	return true, nil
}

func (c *fakeConn) ReleaseName(string) error {
	if c.bus.owner == c {
		c.bus.owner = nil
	}
	return nil
}

func (c *fakeConn) Export(v interface{}, path, iface string) error {
	c.exported[path+" "+iface] = v
	return nil
}

func (c *fakeConn) Unexport(path, iface string) error {
	delete(c.exported, path+" "+iface)
	return nil
}

func (c *fakeConn) CallPresent(context.Context) error {
	if c.callErr != nil {
		return c.callErr
	}
	owner := c.bus.owner
	if owner == nil {
		return errors.New("name has no owner")
	}
	obj, ok := owner.exported[common.PresenceObjectPath+" "+common.PresenceInterface].(*presenceObject)
	if !ok {
		return errors.New("no such object")
	}
	if derr := obj.Present(); derr != nil {
		return derr
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestPresence_ClaimAndForward(t *testing.T) {
	bus := &fakeBus{}
	presented := 0
	first := newPresence(bus.conn(), func() { presented++ }, quietLogger())
	if err := first.Claim(); err != nil {
		t.Fatalf("first Claim() error = %v", err)
	}
	if !first.Claimed() {
		t.Error("first instance should hold the identity")
	}

	secondConn := bus.conn()
	second := newPresence(secondConn, nil, quietLogger())
	err := second.Claim()
	if !errors.Is(err, common.ErrAlreadyRunning) {
		t.Fatalf("second Claim() error = %v, want ErrAlreadyRunning", err)
	}
	if errors.Is(err, common.ErrBackendUnavailable) {
		t.Error("an owned name must not look like a bus failure")
	}
	if len(secondConn.exported) != 0 {
		t.Error("losing instance left its object exported")
	}

	if err := second.Forward(context.Background()); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if presented != 1 {
		t.Errorf("Present called %d times, want 1", presented)
	}

	second.Close()
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	if bus.owner != nil {
		t.Error("Close() should release the name")
	}

	third := newPresence(bus.conn(), nil, quietLogger())
	if err := third.Claim(); err != nil {
		t.Errorf("Claim() after release error = %v", err)
	}
}

func TestPresence_ForwardFailure(t *testing.T) {
	conn := (&fakeBus{}).conn()
	conn.callErr = errors.New("timeout")
	p := newPresence(conn, nil, quietLogger())

	if err := p.Forward(context.Background()); !errors.Is(err, common.ErrBackendUnavailable) {
		t.Errorf("Forward() error = %v", err)
	}
}

func TestPresence_ClaimTwice(t *testing.T) {
	bus := &fakeBus{}
	p := newPresence(bus.conn(), nil, quietLogger())
	p.Claim()
	if err := p.Claim(); err != nil || bus.requests != 1 {
		t.Errorf("second Claim() = %v, requests %d", err, bus.requests)
	}
}

func TestDecodeSignals(t *testing.T) {
	tests := []struct {
		name   string
		sig    *dbus.Signal
		decode func(*dbus.Signal) (Event, bool)
		want   Event
		ok     bool
	}{
		{
			name:   "started",
			sig:    &dbus.Signal{Path: "/org/gnome15/Service", Name: "org.gnome15.Service.Started"},
			decode: decodeServiceSignal,
			want:   Event{Kind: EventStarted},
			ok:     true,
		},
		{
			name: "screen added",
			sig: &dbus.Signal{
				Path: "/org/gnome15/Service",
				Name: "org.gnome15.Service.ScreenAdded",
				Body: []interface{}{dbus.ObjectPath("/org/gnome15/Screen/g19_0")},
			},
			decode: decodeServiceSignal,
			want:   Event{Kind: EventScreenAdded, Screen: "/org/gnome15/Screen/g19_0"},
			ok:     true,
		},
		{
			name:   "screen removed without argument",
			sig:    &dbus.Signal{Path: "/org/gnome15/Service", Name: "org.gnome15.Service.ScreenRemoved"},
			decode: decodeServiceSignal,
		},
		{
			name:   "other interface",
			sig:    &dbus.Signal{Path: "/org/gnome15/Service", Name: "org.example.Started"},
			decode: decodeServiceSignal,
		},
		{
			name: "backend appeared",
			sig: &dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: []interface{}{"org.gnome15.Gnome15", "", ":1.42"},
			},
			decode: decodeOwnerChanged,
			want:   Event{Kind: EventBackendAppeared},
			ok:     true,
		},
		{
			name: "backend vanished",
			sig: &dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: []interface{}{"org.gnome15.Gnome15", ":1.42", ""},
			},
			decode: decodeOwnerChanged,
			want:   Event{Kind: EventBackendVanished},
			ok:     true,
		},
		{
			name: "other name",
			sig: &dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: []interface{}{"org.example", "", ":1.7"},
			},
			decode: decodeOwnerChanged,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.decode(tt.sig)
			if ok != tt.ok || got != tt.want {
				t.Errorf("decode() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

package device

import (
	"fmt"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

// Driver is the capability surface of a keyboard driver bound to one
// device. The controller never talks to hardware itself; it only needs
// to know what a driver supports in order to present and persist its
// settings.
type Driver interface {
	ID() string
	Name() string
	SupportedModels() []string
	HasPreferences() bool
	KeyLayout() [][]string
	Controls() []Control
	// BPP is the LCD colour depth; 0 means the device has no screen.
	BPP() int
	Model() *Model
}

// Driver ids.
const (
	DriverDirect    = "direct"
	DriverG15Daemon = "g15daemon"
	DriverVirtual   = "virtual"
)

type driverInfo struct {
	id     string
	models []string
	open   func(m *Model) Driver
}

var (
	directModels    = []string{"g15v1", "g15v2", "g13", "g19", "g110", "z10"}
	g15daemonModels = []string{"g15v1", "g15v2", "g13", "z10"}
	virtualModels   = []string{VirtualModelID}
)

// drivers is in preference order: the first compatible entry is the
// default for a device.
var drivers = []driverInfo{
	{
		id:     DriverDirect,
		models: directModels,
		open:   func(m *Model) Driver { return &directDriver{model: m} },
	},
	{
		id:     DriverG15Daemon,
		models: g15daemonModels,
		open:   func(m *Model) Driver { return &g15daemonDriver{model: m} },
	},
	{
		id:     DriverVirtual,
		models: virtualModels,
		open:   func(m *Model) Driver { return &virtualDriver{model: m} },
	},
}

func (d driverInfo) supports(modelID string) bool {
	return common.StringInSlice(modelID, d.models)
}

// DriversFor returns the ids of the drivers supporting dev, in preference
// order.
func DriversFor(dev Device) []string {
	var ids []string
	for _, d := range drivers {
		if d.supports(dev.ModelID()) {
			ids = append(ids, d.id)
		}
	}
	return ids
}

// OpenDriver binds driver id to dev.
func OpenDriver(id string, dev Device) (Driver, error) {
	for _, d := range drivers {
		if d.id != id {
			continue
		}
		if !d.supports(dev.ModelID()) {
			return nil, &common.PreconditionError{
				Op:     "open driver " + id,
				Reason: fmt.Sprintf("model %s not supported", dev.ModelID()),
			}
		}
		return d.open(dev.Model), nil
	}
	return nil, &common.NotFoundError{Entity: "driver", Key: id}
}

// SelectDriver opens the driver persisted for dev. When none is persisted,
// or the persisted one no longer supports the model, the first compatible
// driver is chosen and written back.
func SelectDriver(kv store.KV, dev Device) (Driver, error) {
	key := dev.Key("driver")
	v, ok, err := kv.Get(key)
	if err != nil {
		return nil, err
	}
	if ok {
		if drv, err := OpenDriver(v.Str(), dev); err == nil {
			return drv, nil
		}
	}

	ids := DriversFor(dev)
	if len(ids) == 0 {
		return nil, &common.NotFoundError{Entity: "driver for model", Key: dev.ModelID()}
	}
	if err := kv.Set(key, store.String(ids[0])); err != nil {
		return nil, err
	}
	return OpenDriver(ids[0], dev)
}

type directDriver struct{ model *Model }

func (d *directDriver) ID() string                { return DriverDirect }
func (d *directDriver) Name() string              { return "Direct USB" }
func (d *directDriver) SupportedModels() []string { return directModels }
func (d *directDriver) HasPreferences() bool      { return false }
func (d *directDriver) KeyLayout() [][]string     { return d.model.KeyLayout }
func (d *directDriver) Controls() []Control       { return d.model.Controls }
func (d *directDriver) BPP() int                  { return d.model.BPP }
func (d *directDriver) Model() *Model             { return d.model }

// g15daemonDriver talks to the g15daemon socket, which only exposes the
// monochrome LCD and backlight level, not colours.
type g15daemonDriver struct{ model *Model }

func (d *g15daemonDriver) ID() string                { return DriverG15Daemon }
func (d *g15daemonDriver) Name() string              { return "g15daemon" }
func (d *g15daemonDriver) SupportedModels() []string { return g15daemonModels }
func (d *g15daemonDriver) HasPreferences() bool      { return true }
func (d *g15daemonDriver) KeyLayout() [][]string     { return d.model.KeyLayout }
func (d *g15daemonDriver) BPP() int {
	if d.model.BPP > 1 {
		return 1
	}
	return d.model.BPP
}
func (d *g15daemonDriver) Model() *Model { return d.model }

func (d *g15daemonDriver) Controls() []Control {
	var out []Control
	for _, c := range d.model.Controls {
		if c.Kind != ControlColour {
			out = append(out, c)
		}
	}
	return out
}

// virtualDriver renders the LCD in a window; it has no hardware controls.
type virtualDriver struct{ model *Model }

func (d *virtualDriver) ID() string                { return DriverVirtual }
func (d *virtualDriver) Name() string              { return "Virtual Screen" }
func (d *virtualDriver) SupportedModels() []string { return virtualModels }
func (d *virtualDriver) HasPreferences() bool      { return true }
func (d *virtualDriver) KeyLayout() [][]string     { return d.model.KeyLayout }
func (d *virtualDriver) Controls() []Control       { return nil }
func (d *virtualDriver) BPP() int                  { return d.model.BPP }
func (d *virtualDriver) Model() *Model             { return d.model }

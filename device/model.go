// Package device describes the keyboards the controller can configure:
// the model catalogue (key layouts, reserved keys, controls), discovery of
// attached hardware, and the drivers able to talk to each model.
package device

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

//go:embed models.toml
var builtinModels []byte

// VirtualModelID is the model of the software-only LCD device.
const VirtualModelID = "virtual"

// ControlKind is the widget family a driver control maps to.
type ControlKind string

const (
	ControlSlider ControlKind = "slider"
	ControlColour ControlKind = "colour"
	ControlSwitch ControlKind = "switch"
)

// Control is an adjustable hardware setting exposed by a driver.
type Control struct {
	ID            string      `toml:"id"`
	Name          string      `toml:"name"`
	Kind          ControlKind `toml:"kind"`
	Lower         int         `toml:"lower"`
	Upper         int         `toml:"upper"`
	Default       int         `toml:"default"`
	DefaultColour string      `toml:"default_colour"`
	// Dimmable marks the backlight colour control whose value a profile
	// may override per memory bank.
	Dimmable bool `toml:"dimmable"`
}

// Model is one keyboard model from the catalogue.
type Model struct {
	ID         string     `toml:"id"`
	Name       string     `toml:"name"`
	ProductIDs []uint16   `toml:"product_ids"`
	BPP        int        `toml:"bpp"`
	Macros     bool       `toml:"macros"`
	KeyLayout  [][]string `toml:"key_layout"`
	Reserved   []string   `toml:"reserved"`
	Controls   []Control  `toml:"control"`
}

// AreKeysReserved reports whether any of keys is bound to a fixed
// hardware action on this model.
func (m *Model) AreKeysReserved(keys []string) bool {
	for _, k := range keys {
		if common.StringInSlice(k, m.Reserved) {
			return true
		}
	}
	return false
}

// Keys returns the layout flattened in display order.
func (m *Model) Keys() []string {
	var out []string
	for _, row := range m.KeyLayout {
		out = append(out, row...)
	}
	return out
}

// ControlFor returns the control with id, or nil.
func (m *Model) ControlFor(id string) *Control {
	for i := range m.Controls {
		if m.Controls[i].ID == id {
			return &m.Controls[i]
		}
	}
	return nil
}

// DimmableControl returns the colour control that memory banks may
// override, or nil when the model has none.
func (m *Model) DimmableControl() *Control {
	for i := range m.Controls {
		if m.Controls[i].Dimmable && m.Controls[i].Kind == ControlColour {
			return &m.Controls[i]
		}
	}
	return nil
}

// Catalogue is the set of known models.
type Catalogue struct {
	Models []*Model `toml:"model"`
}

// LoadCatalogue returns the built-in catalogue, or the file at path when
// path is not empty.
func LoadCatalogue(path string) (*Catalogue, error) {
	data := builtinModels
	source := "built-in models"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading model catalogue %s: %w", path, err)
		}
		data, source = b, path
	}
	return ParseCatalogue(source, data)
}

// ParseCatalogue decodes a TOML catalogue.
func ParseCatalogue(source string, data []byte) (*Catalogue, error) {
	var cat Catalogue
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}

	seen := make(map[string]bool)
	for _, m := range cat.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("parsing %s: model without id", source)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("parsing %s: duplicate model %q", source, m.ID)
		}
		seen[m.ID] = true
		for _, c := range m.Controls {
			if c.Kind == ControlColour {
				if _, err := common.ParseRGB(c.DefaultColour); err != nil {
					return nil, fmt.Errorf("parsing %s: model %s control %s: %w", source, m.ID, c.ID, err)
				}
			}
		}
	}
	return &cat, nil
}

// Model returns the model with id.
func (c *Catalogue) Model(id string) (*Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// ByProductID returns the model with a matching USB product id.
func (c *Catalogue) ByProductID(pid uint16) (*Model, bool) {
	for _, m := range c.Models {
		for _, p := range m.ProductIDs {
			if p == pid {
				return m, true
			}
		}
	}
	return nil, false
}

// Device is one keyboard available for configuration.
type Device struct {
	// UID is stable for a given attachment order, e.g. "g19_0".
	UID   string
	Model *Model
}

// ModelID returns the device's model id.
func (d Device) ModelID() string { return d.Model.ID }

// FullName returns the human-readable model name.
func (d Device) FullName() string { return d.Model.Name }

// Key returns the store path of a device-scoped key.
func (d Device) Key(parts ...string) string {
	return store.Join(append([]string{common.StoreRoot, d.UID}, parts...)...)
}

// Root returns the store prefix holding all of this device's settings.
func (d Device) Root() string { return d.Key() }

// SelectedDeviceKey is where the last selected device uid is remembered.
var SelectedDeviceKey = store.Join(common.StoreRoot, "config_device_name")

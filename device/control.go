package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

// ControlValue is the current setting of a control as text: a decimal
// integer for sliders and switches, "R,G,B" for colours.
type ControlValue struct {
	Control Control
	Value   string
}

// ReadControls returns the persisted value of each driver control,
// falling back to the control's default when unset.
func ReadControls(kv store.KV, dev Device, drv Driver) ([]ControlValue, error) {
	var out []ControlValue
	for _, c := range drv.Controls() {
		v, ok, err := kv.Get(dev.Key(c.ID))
		if err != nil {
			return nil, err
		}
		text := defaultText(c)
		if ok {
			text = v.Str()
		}
		out = append(out, ControlValue{Control: c, Value: text})
	}
	return out, nil
}

func defaultText(c Control) string {
	if c.Kind == ControlColour {
		return c.DefaultColour
	}
	return strconv.Itoa(c.Default)
}

// WriteControl validates value against the control with id and persists
// it. Colours are stored as "R,G,B" strings, everything else as integers.
func WriteControl(kv store.KV, dev Device, drv Driver, id, value string) error {
	var ctl *Control
	for _, c := range drv.Controls() {
		if c.ID == id {
			c := c
			ctl = &c
			break
		}
	}
	if ctl == nil {
		return &common.NotFoundError{Entity: "control", Key: id}
	}

	value = strings.TrimSpace(value)
	switch ctl.Kind {
	case ControlColour:
		rgb, err := common.ParseRGB(value)
		if err != nil {
			return &common.PreconditionError{Op: "set " + id, Reason: err.Error()}
		}
		return kv.Set(dev.Key(id), store.String(rgb.String()))

	case ControlSwitch:
		on, err := strconv.ParseBool(value)
		if err != nil {
			return &common.PreconditionError{Op: "set " + id, Reason: fmt.Sprintf("%q is not on/off", value)}
		}
		n := 0
		if on {
			n = 1
		}
		return kv.Set(dev.Key(id), store.Int(n))

	default:
		n, err := strconv.Atoi(value)
		if err != nil || n < ctl.Lower || n > ctl.Upper {
			return &common.PreconditionError{
				Op:     "set " + id,
				Reason: fmt.Sprintf("value must be between %d and %d", ctl.Lower, ctl.Upper),
			}
		}
		return kv.Set(dev.Key(id), store.Int(n))
	}
}

package session

import (
	"context"
	"strconv"
	"strings"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/device"
	"github.com/yllada/g15-config/profile"
	"github.com/yllada/g15-config/store"
)

// DeviceInfo describes the selected device and its driver.
type DeviceInfo struct {
	Device         device.Device
	DriverID       string
	DriverName     string
	HasPreferences bool
	// Drivers lists every driver able to handle the device.
	Drivers []string
}

// Devices returns the devices the session was created with.
func (s *Session) Devices() []device.Device {
	return append([]device.Device(nil), s.devices...)
}

// SelectDevice switches the session to another device. Subscriptions of
// the previous device are released and its profiles are reloaded from
// the store on the next selection.
func (s *Session) SelectDevice(ctx context.Context, uid string) error {
	return s.do(ctx, func() error { return s.selectDevice(uid) })
}

// Device describes the selected device.
func (s *Session) Device(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	err := s.do(ctx, func() error {
		if err := s.requireDevice("device info"); err != nil {
			return err
		}
		info = DeviceInfo{
			Device:         *s.dev,
			DriverID:       s.driver.ID(),
			DriverName:     s.driver.Name(),
			HasPreferences: s.driver.HasPreferences(),
			Drivers:        device.DriversFor(*s.dev),
		}
		return nil
	})
	return info, err
}

// SetDriver selects the driver used for the device.
func (s *Session) SetDriver(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("set driver"); err != nil {
			return err
		}
		drv, err := device.OpenDriver(id, *s.dev)
		if err != nil {
			return err
		}
		if err := s.kv.Set(s.dev.Key("driver"), store.String(id)); err != nil {
			return err
		}
		s.driver = drv
		return nil
	})
}

// Status returns the current status snapshot.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() error {
		st = s.snapshot()
		return nil
	})
	return st, err
}

// SetEnabled enables or disables the selected device.
func (s *Session) SetEnabled(ctx context.Context, on bool) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("set enabled"); err != nil {
			return err
		}
		if err := s.kv.Set(s.dev.Key("enabled"), store.Bool(on)); err != nil {
			return err
		}
		s.emit()
		return nil
	})
}

// StopService asks the backend to shut down.
func (s *Session) StopService(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.monitor == nil {
			return &common.PreconditionError{Op: "stop service", Reason: "the service link is disabled"}
		}
		return s.monitor.Stop(s.ctx)
	})
}

// Profiles returns every profile of the selected device.
func (s *Session) Profiles(ctx context.Context) ([]profile.Profile, error) {
	var out []profile.Profile
	err := s.do(ctx, func() error {
		if err := s.requireDevice("list profiles"); err != nil {
			return err
		}
		profiles, err := s.profiles.Profiles()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			out = append(out, *p)
		}
		return nil
	})
	return out, err
}

// SelectedProfile returns the id of the profile whose macros are edited.
func (s *Session) SelectedProfile(ctx context.Context) (int, error) {
	var id int
	err := s.do(ctx, func() error {
		if err := s.requireDevice("selected profile"); err != nil {
			return err
		}
		id = s.registry.ProfileID()
		return nil
	})
	return id, err
}

// SelectProfile chooses the profile whose macros are edited. It does not
// change the active profile.
func (s *Session) SelectProfile(ctx context.Context, id int) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("select profile"); err != nil {
			return err
		}
		reg, err := s.profiles.Registry(id)
		if err != nil {
			return err
		}
		s.registry = reg
		return nil
	})
}

// ActivateProfile makes id the active profile.
func (s *Session) ActivateProfile(ctx context.Context, id int) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("activate profile"); err != nil {
			return err
		}
		if err := s.profiles.Activate(id); err != nil {
			return err
		}
		s.emit()
		return nil
	})
}

// CreateProfile adds a profile and selects it for editing.
func (s *Session) CreateProfile(ctx context.Context, name string) (profile.Profile, error) {
	var out profile.Profile
	err := s.do(ctx, func() error {
		if err := s.requireDevice("create profile"); err != nil {
			return err
		}
		p, err := s.profiles.CreateProfile(name)
		if err != nil {
			return err
		}
		reg, err := s.profiles.Registry(p.ID)
		if err != nil {
			return err
		}
		s.registry = reg
		out = *p
		return nil
	})
	return out, err
}

// RemoveProfile deletes a profile. When it is the active one the Default
// profile is activated first.
func (s *Session) RemoveProfile(ctx context.Context, id int) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("remove profile"); err != nil {
			return err
		}
		if err := s.profiles.RemoveProfile(id); err != nil {
			return err
		}
		if s.registry.ProfileID() == id {
			reg, err := s.profiles.Registry(profile.DefaultProfileID)
			if err != nil {
				return err
			}
			s.registry = reg
		}
		s.emit()
		return nil
	})
}

// RenameProfile renames profile id.
func (s *Session) RenameProfile(ctx context.Context, id int, name string) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("rename profile"); err != nil {
			return err
		}
		if err := s.profiles.Rename(id, name); err != nil {
			return err
		}
		s.emit()
		return nil
	})
}

// UpdateProfile runs fn against the profile manager on the session
// goroutine, for the field setters.
func (s *Session) UpdateProfile(ctx context.Context, fn func(*profile.Manager) error) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("update profile"); err != nil {
			return err
		}
		err := fn(s.profiles)
		s.emit()
		return err
	})
}

// SelectBank chooses the memory bank whose macros are listed and created.
func (s *Session) SelectBank(ctx context.Context, bank int) error {
	return s.do(ctx, func() error {
		if bank < 1 || bank > common.MemoryBanks {
			return &common.PreconditionError{Op: "select bank", Reason: "memory bank out of range"}
		}
		s.bank = bank
		return nil
	})
}

// Bank returns the selected memory bank.
func (s *Session) Bank(ctx context.Context) (int, error) {
	var bank int
	err := s.do(ctx, func() error {
		bank = s.bank
		return nil
	})
	return bank, err
}

func copyMacro(m *profile.Macro) profile.Macro {
	c := *m
	c.Keys = append([]string(nil), m.Keys...)
	return c
}

// Macros returns the macros of the selected profile and bank.
func (s *Session) Macros(ctx context.Context) ([]profile.Macro, error) {
	var out []profile.Macro
	err := s.do(ctx, func() error {
		if err := s.requireDevice("list macros"); err != nil {
			return err
		}
		for _, m := range s.registry.MacrosInBank(s.bank) {
			out = append(out, copyMacro(m))
		}
		return nil
	})
	return out, err
}

// NewMacro creates a keystroke macro on the first free key of the
// selected bank.
func (s *Session) NewMacro(ctx context.Context) (profile.Macro, error) {
	return s.CreateMacro(ctx, nil, "", profile.MacroSimple, "")
}

// CreateMacro creates a macro in the selected bank in one step. Empty keys
// pick the first free key and an empty name is derived from the keys. A
// failed create leaves nothing behind.
func (s *Session) CreateMacro(ctx context.Context, keys []string, name string, typ profile.MacroType, payload string) (profile.Macro, error) {
	var out profile.Macro
	err := s.do(ctx, func() error {
		if err := s.requireDevice("new macro"); err != nil {
			return err
		}
		if len(keys) == 0 {
			key, ok := s.registry.FirstFreeKey(s.bank, s.driver.KeyLayout())
			if !ok {
				return &common.NotFoundError{Entity: "free key in bank", Key: "M" + strconv.Itoa(s.bank)}
			}
			keys = []string{key}
		}
		if name == "" {
			name = "Macro " + strings.Join(profile.KeyNames(profile.KeysFromCanonical(profile.Canonical(keys))), "+")
		}
		m, err := s.registry.CreateMacro(s.bank, keys, name, typ, payload)
		if err != nil {
			return err
		}
		out = copyMacro(m)
		return nil
	})
	return out, err
}

// macro resolves the macro bound to keys in the selected bank.
func (s *Session) macro(op string, keys []string) (*profile.Macro, error) {
	if err := s.requireDevice(op); err != nil {
		return nil, err
	}
	m, ok := s.registry.Macro(s.bank, keys)
	if !ok {
		return nil, &common.NotFoundError{Entity: "macro", Key: profile.Canonical(keys)}
	}
	return m, nil
}

// DeleteMacro removes the macro bound to keys.
func (s *Session) DeleteMacro(ctx context.Context, keys []string) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("delete macro"); err != nil {
			return err
		}
		return s.registry.DeleteMacro(s.bank, keys)
	})
}

// RenameMacro renames the macro bound to keys.
func (s *Session) RenameMacro(ctx context.Context, keys []string, name string) error {
	return s.do(ctx, func() error {
		m, err := s.macro("rename macro", keys)
		if err != nil {
			return err
		}
		return s.registry.RenameMacro(m, name)
	})
}

// SetMacroType changes the type of the macro bound to keys.
func (s *Session) SetMacroType(ctx context.Context, keys []string, typ profile.MacroType) error {
	return s.do(ctx, func() error {
		m, err := s.macro("set macro type", keys)
		if err != nil {
			return err
		}
		return s.registry.SetMacroType(m, typ)
	})
}

// SetMacroPayload sets the payload of the macro bound to keys.
func (s *Session) SetMacroPayload(ctx context.Context, keys []string, payload string) error {
	return s.do(ctx, func() error {
		m, err := s.macro("set macro payload", keys)
		if err != nil {
			return err
		}
		return s.registry.SetMacroPayload(m, payload)
	})
}

// SetMacroKeys rebinds the macro bound to keys.
func (s *Session) SetMacroKeys(ctx context.Context, keys, newKeys []string) error {
	return s.do(ctx, func() error {
		m, err := s.macro("set macro keys", keys)
		if err != nil {
			return err
		}
		return s.registry.SetMacroKeys(m, newKeys)
	})
}

// Controls returns the driver controls of the selected device with their
// current values.
func (s *Session) Controls(ctx context.Context) ([]device.ControlValue, error) {
	var out []device.ControlValue
	err := s.do(ctx, func() error {
		if err := s.requireDevice("list controls"); err != nil {
			return err
		}
		values, err := device.ReadControls(s.kv, *s.dev, s.driver)
		out = values
		return err
	})
	return out, err
}

// SetControl writes a driver control value.
func (s *Session) SetControl(ctx context.Context, id, value string) error {
	return s.do(ctx, func() error {
		if err := s.requireDevice("set control"); err != nil {
			return err
		}
		return device.WriteControl(s.kv, *s.dev, s.driver, id, value)
	})
}

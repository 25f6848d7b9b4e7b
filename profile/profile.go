// Package profile holds the per-device macro profiles: the profile set
// and active-profile pointer (Manager), the macros of one profile with
// their key-conflict rules (Registry), and the key toggle edit buffer
// (KeyEditor).
//
// Nothing here caches store state across calls except a Registry's macro
// map; other controller instances writing to the same store are picked up
// by re-reading, driven by store change notifications.
package profile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

// DefaultProfileID is the profile that always exists and cannot be deleted.
const DefaultProfileID = 0

// DefaultProfileName is the name given to the Default profile.
const DefaultProfileName = "Default"

const defaultKeyDelay = 50

// Profile is a named macro configuration of a device.
type Profile struct {
	ID              int
	Name            string
	WindowName      string
	ActivateOnFocus bool
	Icon            string
	SendDelays      bool
	FixedDelays     bool
	PressDelay      int
	ReleaseDelay    int
	// BankColours holds per-bank backlight overrides, indexed bank-1.
	BankColours [common.MemoryBanks]*common.RGB

	seq int
}

// IsDefault reports whether p is the Default profile.
func (p *Profile) IsDefault() bool { return p.ID == DefaultProfileID }

// BankColour returns the colour override for bank, if any.
func (p *Profile) BankColour(bank int) (common.RGB, bool) {
	if bank < 1 || bank > common.MemoryBanks || p.BankColours[bank-1] == nil {
		return common.RGB{}, false
	}
	return *p.BankColours[bank-1], true
}

// Manager owns the profiles of one device. It reads through to the store
// on every call and is the only writer of profile records.
type Manager struct {
	kv       store.KV
	root     string
	reserved Reserver
}

// NewManager returns a manager for the device whose settings live under
// deviceRoot, creating the Default profile if it is missing.
func NewManager(kv store.KV, deviceRoot string, reserved Reserver) (*Manager, error) {
	m := &Manager{kv: kv, root: deviceRoot, reserved: reserved}

	_, ok, err := kv.Get(m.profileKey(DefaultProfileID, "name"))
	if err != nil {
		return nil, err
	}
	if !ok {
		common.LogInfo("Creating default profile under %s", deviceRoot)
		if err := kv.Set(m.profileKey(DefaultProfileID, "seq"), store.Int(0)); err != nil {
			return nil, err
		}
		if err := kv.Set(m.profileKey(DefaultProfileID, "name"), store.String(DefaultProfileName)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ProfilesRoot returns the store prefix holding every profile.
func (m *Manager) ProfilesRoot() string { return store.Join(m.root, "profiles") }

// ProfileRoot returns the store prefix of profile id.
func (m *Manager) ProfileRoot(id int) string {
	return store.Join(m.ProfilesRoot(), strconv.Itoa(id))
}

// ActiveProfileKey is the store key of the active-profile pointer.
func (m *Manager) ActiveProfileKey() string { return store.Join(m.root, "active_profile") }

func (m *Manager) profileKey(id int, key string) string {
	return store.Join(m.ProfileRoot(id), key)
}

func (m *Manager) ids() ([]int, error) {
	names, err := m.kv.Children(m.ProfilesRoot())
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(names))
	for _, n := range names {
		id, err := strconv.Atoi(n)
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) exists(id int) (bool, error) {
	ids, err := m.ids()
	if err != nil {
		return false, err
	}
	for _, i := range ids {
		if i == id {
			return true, nil
		}
	}
	return false, nil
}

// Profiles returns every profile in creation order.
func (m *Manager) Profiles() ([]*Profile, error) {
	ids, err := m.ids()
	if err != nil {
		return nil, err
	}
	profiles := make([]*Profile, 0, len(ids))
	for _, id := range ids {
		p, err := m.read(id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].seq != profiles[j].seq {
			return profiles[i].seq < profiles[j].seq
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles, nil
}

// Profile returns profile id.
func (m *Manager) Profile(id int) (*Profile, error) {
	ok, err := m.exists(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
	}
	return m.read(id)
}

func (m *Manager) read(id int) (*Profile, error) {
	p := &Profile{ID: id, PressDelay: defaultKeyDelay, ReleaseDelay: defaultKeyDelay}

	values := make(map[string]store.Value)
	for _, key := range []string{
		"name", "window_name", "activate_on_focus", "icon", "send_delays",
		"fixed_delays", "press_delay", "release_delay", "seq",
		"mkey_color_1", "mkey_color_2", "mkey_color_3",
	} {
		v, ok, err := m.kv.Get(m.profileKey(id, key))
		if err != nil {
			return nil, err
		}
		if ok {
			values[key] = v
		}
	}

	p.Name = values["name"].Str()
	p.WindowName = values["window_name"].Str()
	p.ActivateOnFocus = values["activate_on_focus"].BoolValue()
	p.Icon = values["icon"].Str()
	p.SendDelays = values["send_delays"].BoolValue()
	p.FixedDelays = values["fixed_delays"].BoolValue()
	if v, ok := values["press_delay"]; ok {
		p.PressDelay = v.IntValue()
	}
	if v, ok := values["release_delay"]; ok {
		p.ReleaseDelay = v.IntValue()
	}
	p.seq = values["seq"].IntValue()

	for bank := 1; bank <= common.MemoryBanks; bank++ {
		v, ok := values[fmt.Sprintf("mkey_color_%d", bank)]
		if !ok || v.Str() == "" {
			continue
		}
		rgb, err := common.ParseRGB(v.Str())
		if err != nil {
			common.LogWarn("Ignoring bank %d colour of profile %d: %v", bank, id, err)
			continue
		}
		p.BankColours[bank-1] = &rgb
	}
	return p, nil
}

// ActiveProfileID returns the persisted active profile id, or the Default
// profile when the pointer is unset or stale. It never writes.
func (m *Manager) ActiveProfileID() (int, error) {
	v, ok, err := m.kv.Get(m.ActiveProfileKey())
	if err != nil {
		return DefaultProfileID, err
	}
	if !ok {
		return DefaultProfileID, nil
	}
	id := v.IntValue()
	exists, err := m.exists(id)
	if err != nil {
		return DefaultProfileID, err
	}
	if !exists {
		return DefaultProfileID, nil
	}
	return id, nil
}

// ActiveProfile returns the active profile.
func (m *Manager) ActiveProfile() (*Profile, error) {
	id, err := m.ActiveProfileID()
	if err != nil {
		return nil, err
	}
	return m.read(id)
}

// Activate makes profile id the active one.
func (m *Manager) Activate(id int) error {
	ok, err := m.exists(id)
	if err != nil {
		return err
	}
	if !ok {
		return &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
	}
	return m.kv.Set(m.ActiveProfileKey(), store.Int(id))
}

// CreateProfile adds a profile with the lowest unused positive id.
func (m *Manager) CreateProfile(name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &common.PreconditionError{Op: "create profile", Reason: "name must not be empty"}
	}

	profiles, err := m.Profiles()
	if err != nil {
		return nil, err
	}
	used := make(map[int]bool, len(profiles))
	seq := 0
	for _, p := range profiles {
		used[p.ID] = true
		if p.seq >= seq {
			seq = p.seq + 1
		}
	}
	id := 1
	for used[id] {
		id++
	}

	if err := m.kv.Set(m.profileKey(id, "seq"), store.Int(seq)); err != nil {
		return nil, err
	}
	if err := m.kv.Set(m.profileKey(id, "name"), store.String(name)); err != nil {
		if undoErr := m.kv.UnsetTree(m.ProfileRoot(id)); undoErr != nil {
			common.LogWarn("Failed to roll back partial profile %d: %v", id, undoErr)
		}
		return nil, err
	}
	return m.read(id)
}

// DeleteProfile removes profile id and its macros. The Default profile,
// the sole remaining profile and the active profile cannot be deleted;
// activate another profile first.
func (m *Manager) DeleteProfile(id int) error {
	const op = "delete profile"
	if id == DefaultProfileID {
		return &common.PreconditionError{Op: op, Reason: "the Default profile cannot be deleted"}
	}

	ids, err := m.ids()
	if err != nil {
		return err
	}
	found := false
	for _, i := range ids {
		if i == id {
			found = true
		}
	}
	if !found {
		return &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
	}
	if len(ids) <= 1 {
		return &common.PreconditionError{Op: op, Reason: "the only profile cannot be deleted"}
	}

	active, err := m.ActiveProfileID()
	if err != nil {
		return err
	}
	if active == id {
		return &common.PreconditionError{Op: op, Reason: "the active profile cannot be deleted"}
	}

	return m.kv.UnsetTree(m.ProfileRoot(id))
}

// RemoveProfile deletes profile id like DeleteProfile, activating the
// Default profile first when id is active. If the delete fails the
// previous active profile is restored.
func (m *Manager) RemoveProfile(id int) error {
	if id == DefaultProfileID {
		return &common.PreconditionError{Op: "remove profile", Reason: "the Default profile cannot be deleted"}
	}
	if _, err := m.Profile(id); err != nil {
		return err
	}
	active, err := m.ActiveProfileID()
	if err != nil {
		return err
	}
	if active != id {
		return m.DeleteProfile(id)
	}

	if err := m.Activate(DefaultProfileID); err != nil {
		return err
	}
	if err := m.DeleteProfile(id); err != nil {
		if undoErr := m.kv.Set(m.ActiveProfileKey(), store.Int(id)); undoErr != nil {
			common.LogWarn("Failed to restore active profile %d: %v", id, undoErr)
		}
		return err
	}
	return nil
}

// Registry loads the macros of profile id.
func (m *Manager) Registry(id int) (*Registry, error) {
	ok, err := m.exists(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
	}
	return LoadRegistry(m.kv, m.ProfileRoot(id), id, m.reserved)
}

func (m *Manager) set(id int, key string, v store.Value) error {
	ok, err := m.exists(id)
	if err != nil {
		return err
	}
	if !ok {
		return &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
	}
	return m.kv.Set(m.profileKey(id, key), v)
}

// Rename sets the profile's name, which must not be empty.
func (m *Manager) Rename(id int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &common.PreconditionError{Op: "rename profile", Reason: "name must not be empty"}
	}
	return m.set(id, "name", store.String(name))
}

// SetWindowName sets the window title that activates the profile on focus.
func (m *Manager) SetWindowName(id int, window string) error {
	return m.set(id, "window_name", store.String(window))
}

// SetActivateOnFocus switches between always-active and activate on focus.
func (m *Manager) SetActivateOnFocus(id int, on bool) error {
	return m.set(id, "activate_on_focus", store.Bool(on))
}

// SetIcon sets the profile's icon path.
func (m *Manager) SetIcon(id int, path string) error {
	return m.set(id, "icon", store.String(path))
}

// SetSendDelays enables sending key press/release delays.
func (m *Manager) SetSendDelays(id int, on bool) error {
	return m.set(id, "send_delays", store.Bool(on))
}

// SetFixedDelays selects fixed rather than recorded delays.
func (m *Manager) SetFixedDelays(id int, on bool) error {
	return m.set(id, "fixed_delays", store.Bool(on))
}

// SetPressDelay sets the fixed key press delay in milliseconds.
func (m *Manager) SetPressDelay(id, ms int) error {
	if ms < 0 {
		return &common.PreconditionError{Op: "set press delay", Reason: "delay must not be negative"}
	}
	return m.set(id, "press_delay", store.Int(ms))
}

// SetReleaseDelay sets the fixed key release delay in milliseconds.
func (m *Manager) SetReleaseDelay(id, ms int) error {
	if ms < 0 {
		return &common.PreconditionError{Op: "set release delay", Reason: "delay must not be negative"}
	}
	return m.set(id, "release_delay", store.Int(ms))
}

// SetBankColour sets or, with a nil colour, clears the backlight override
// of a memory bank.
func (m *Manager) SetBankColour(id, bank int, colour *common.RGB) error {
	if err := checkBank("set bank colour", bank); err != nil {
		return err
	}
	key := fmt.Sprintf("mkey_color_%d", bank)
	if colour == nil {
		ok, err := m.exists(id)
		if err != nil {
			return err
		}
		if !ok {
			return &common.NotFoundError{Entity: "profile", Key: strconv.Itoa(id)}
		}
		return m.kv.Unset(m.profileKey(id, key))
	}
	return m.set(id, key, store.String(colour.String()))
}

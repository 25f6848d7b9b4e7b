package profile

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

type reservedKeys []string

func (r reservedKeys) AreKeysReserved(keys []string) bool {
	for _, k := range keys {
		if common.StringInSlice(k, r) {
			return true
		}
	}
	return false
}

const testRoot = "/apps/gnome15/g15v1_0"

var testLayout = [][]string{
	{"g1", "g2", "g3", "g4", "g5", "g6"},
	{"m1", "m2", "m3", "mr"},
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{
		Path:   filepath.Join(t.TempDir(), "config.db"),
		Logger: common.NewLogger(&bytes.Buffer{}, common.LevelError),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s := openStore(t)
	m, err := NewManager(s, testRoot, reservedKeys{"m1", "m2", "m3", "mr"})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, s
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	m, _ := newManager(t)
	r, err := m.Registry(DefaultProfileID)
	if err != nil {
		t.Fatalf("Registry() error = %v", err)
	}
	return r
}

func assertDisjoint(t *testing.T, r *Registry) {
	t.Helper()
	for bank := 1; bank <= common.MemoryBanks; bank++ {
		seen := make(map[string]string)
		for _, m := range r.MacrosInBank(bank) {
			for _, k := range m.Keys {
				if other, ok := seen[k]; ok {
					t.Errorf("bank %d: key %s used by %s and %s", bank, k, other, m.Canonical())
				}
				seen[k] = m.Canonical()
			}
		}
	}
}

func TestNewManager_CreatesDefault(t *testing.T) {
	m, s := newManager(t)

	profiles, err := m.Profiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].ID != DefaultProfileID || profiles[0].Name != DefaultProfileName {
		t.Fatalf("Profiles() = %+v", profiles)
	}
	if !profiles[0].IsDefault() || profiles[0].ReleaseDelay != 50 {
		t.Errorf("default profile = %+v", profiles[0])
	}

	// Reopening keeps the existing records.
	if err := m.Rename(DefaultProfileID, "Main"); err != nil {
		t.Fatal(err)
	}
	again, err := NewManager(s, testRoot, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := again.Profile(DefaultProfileID)
	if p.Name != "Main" {
		t.Errorf("Name after reopen = %q, want Main", p.Name)
	}
}

func TestActiveProfile_Fallback(t *testing.T) {
	m, s := newManager(t)

	if id, err := m.ActiveProfileID(); err != nil || id != DefaultProfileID {
		t.Errorf("ActiveProfileID() unset = %d, %v", id, err)
	}

	s.Set(m.ActiveProfileKey(), store.Int(42))
	if id, _ := m.ActiveProfileID(); id != DefaultProfileID {
		t.Errorf("ActiveProfileID() stale = %d, want Default", id)
	}
	if v, _, _ := s.Get(m.ActiveProfileKey()); v.IntValue() != 42 {
		t.Error("falling back must not rewrite the pointer")
	}

	if err := m.Activate(42); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Activate(missing) error = %v", err)
	}
}

func TestCreateProfile(t *testing.T) {
	m, _ := newManager(t)

	a, err := m.CreateProfile("Games")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.CreateProfile("Work")
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("ids = %d, %d", a.ID, b.ID)
	}
	if err := m.DeleteProfile(a.ID); err != nil {
		t.Fatal(err)
	}
	c, _ := m.CreateProfile("Music")
	if c.ID != 1 {
		t.Errorf("reused id = %d, want 1", c.ID)
	}

	profiles, _ := m.Profiles()
	var names []string
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	if want := []string{"Default", "Work", "Music"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Profiles() order = %v, want %v", names, want)
	}

	if _, err := m.CreateProfile("  "); !errors.Is(err, common.ErrPrecondition) {
		t.Errorf("CreateProfile(blank) error = %v", err)
	}
}

func TestDeleteProfile(t *testing.T) {
	m, _ := newManager(t)

	if err := m.DeleteProfile(DefaultProfileID); !errors.Is(err, common.ErrPrecondition) {
		t.Errorf("DeleteProfile(Default) error = %v", err)
	}
	if err := m.DeleteProfile(7); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("DeleteProfile(missing) error = %v", err)
	}

	p, _ := m.CreateProfile("Games")
	if err := m.Activate(p.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteProfile(p.ID); !errors.Is(err, common.ErrPrecondition) {
		t.Errorf("DeleteProfile(active) error = %v", err)
	}

	if err := m.Activate(DefaultProfileID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteProfile(p.ID); err != nil {
		t.Errorf("DeleteProfile() after activating Default error = %v", err)
	}
	if _, err := m.Profile(p.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Profile(deleted) error = %v", err)
	}
	if err := m.DeleteProfile(DefaultProfileID); !errors.Is(err, common.ErrPrecondition) {
		t.Errorf("DeleteProfile(Default) error = %v", err)
	}
}

func TestDeleteProfile_RemovesMacros(t *testing.T) {
	m, s := newManager(t)
	p, _ := m.CreateProfile("Games")
	r, _ := m.Registry(p.ID)
	if _, err := r.CreateMacro(1, []string{"g1"}, "Jump", MacroSimple, "space"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteProfile(p.ID); err != nil {
		t.Fatal(err)
	}
	if names, _ := s.Children(m.ProfileRoot(p.ID)); len(names) != 0 {
		t.Errorf("profile tree left behind: %v", names)
	}
}

func TestProfileSetters(t *testing.T) {
	m, s := newManager(t)
	id := DefaultProfileID
	red := common.RGB{R: 255}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"window", func() error { return m.SetWindowName(id, "Firefox") }},
		{"focus", func() error { return m.SetActivateOnFocus(id, true) }},
		{"icon", func() error { return m.SetIcon(id, "/tmp/icon.png") }},
		{"send", func() error { return m.SetSendDelays(id, true) }},
		{"fixed", func() error { return m.SetFixedDelays(id, true) }},
		{"press", func() error { return m.SetPressDelay(id, 20) }},
		{"release", func() error { return m.SetReleaseDelay(id, 30) }},
		{"colour", func() error { return m.SetBankColour(id, 2, &red) }},
	}
	for _, st := range steps {
		if err := st.fn(); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
	}

	p, _ := m.Profile(id)
	if p.WindowName != "Firefox" || !p.ActivateOnFocus || p.Icon != "/tmp/icon.png" ||
		!p.SendDelays || !p.FixedDelays || p.PressDelay != 20 || p.ReleaseDelay != 30 {
		t.Errorf("Profile() = %+v", p)
	}
	if c, ok := p.BankColour(2); !ok || c != red {
		t.Errorf("BankColour(2) = %v, %v", c, ok)
	}
	if v, _, _ := s.Get(store.Join(m.ProfileRoot(id), "mkey_color_2")); v.Str() != "255,0,0" {
		t.Errorf("stored colour = %q", v.Str())
	}

	if err := m.SetBankColour(id, 2, nil); err != nil {
		t.Fatal(err)
	}
	p, _ = m.Profile(id)
	if _, ok := p.BankColour(2); ok {
		t.Error("bank colour should be cleared")
	}

	errCases := []struct {
		name string
		err  error
		want error
	}{
		{"rename blank", m.Rename(id, ""), common.ErrPrecondition},
		{"negative delay", m.SetPressDelay(id, -1), common.ErrPrecondition},
		{"bank range", m.SetBankColour(id, 4, &red), common.ErrPrecondition},
		{"missing profile", m.SetIcon(9, "x"), common.ErrNotFound},
	}
	for _, tt := range errCases {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
}

func TestCreateMacro(t *testing.T) {
	r := newRegistry(t)

	m, err := r.CreateMacro(1, []string{"G2", "g1"}, "Both", MacroCommand, "xterm")
	if err != nil {
		t.Fatal(err)
	}
	if m.Canonical() != "g1_g2" || m.Payload() != "xterm" {
		t.Errorf("macro = %+v", m)
	}

	tests := []struct {
		name string
		bank int
		keys []string
		want error
	}{
		{"overlap", 1, []string{"g2", "g3"}, common.ErrConflict},
		{"empty", 1, nil, common.ErrPrecondition},
		{"bank range", 0, []string{"g4"}, common.ErrPrecondition},
		{"bad key", 1, []string{"g_4"}, common.ErrPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.CreateMacro(tt.bank, tt.keys, "x", MacroSimple, ""); !errors.Is(err, tt.want) {
				t.Errorf("CreateMacro() error = %v, want %v", err, tt.want)
			}
		})
	}

	// Banks are independent.
	if _, err := r.CreateMacro(2, []string{"g1"}, "Other bank", MacroSimple, "a"); err != nil {
		t.Errorf("CreateMacro() in bank 2 error = %v", err)
	}
	assertDisjoint(t, r)
}

func TestRegistry_Reload(t *testing.T) {
	m, s := newManager(t)
	r, _ := m.Registry(DefaultProfileID)
	if _, err := r.CreateMacro(3, []string{"g5"}, "Launch", MacroScript, "delay 10"); err != nil {
		t.Fatal(err)
	}

	again, err := LoadRegistry(s, m.ProfileRoot(DefaultProfileID), DefaultProfileID, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := again.Macro(3, []string{"g5"})
	if !ok || got.Name != "Launch" || got.Type != MacroScript || got.Script != "delay 10" {
		t.Errorf("reloaded macro = %+v, %v", got, ok)
	}
}

func TestSetMacroKeys(t *testing.T) {
	r := newRegistry(t)
	a, _ := r.CreateMacro(1, []string{"g1"}, "A", MacroSimple, "a")
	b, _ := r.CreateMacro(1, []string{"g2", "g3"}, "B", MacroSimple, "b")

	// A macro's own keys never conflict with itself.
	if err := r.SetMacroKeys(b, []string{"g3", "g2"}); err != nil {
		t.Errorf("SetMacroKeys(same) error = %v", err)
	}
	if err := r.SetMacroKeys(b, []string{"g2"}); err != nil {
		t.Errorf("SetMacroKeys(subset) error = %v", err)
	}

	var conflict *common.ConflictError
	if err := r.SetMacroKeys(a, []string{"g2", "g4"}); !errors.As(err, &conflict) {
		t.Fatalf("SetMacroKeys(overlap) error = %v", err)
	}
	if conflict.Bank != 1 || a.Canonical() != "g1" {
		t.Errorf("conflict = %+v, a keys = %v", conflict, a.Keys)
	}

	if err := r.SetMacroKeys(a, []string{"g4", "g5"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Macro(1, []string{"g1"}); ok {
		t.Error("old key set still registered")
	}
	if got, ok := r.Macro(1, []string{"g5", "g4"}); !ok || got != a || got.Payload() != "a" {
		t.Errorf("Macro(g4_g5) = %+v, %v", got, ok)
	}
	assertDisjoint(t, r)
}

func TestDeleteMacro(t *testing.T) {
	r := newRegistry(t)
	m, _ := r.CreateMacro(1, []string{"g1"}, "A", MacroSimple, "a")

	if err := r.DeleteMacro(1, []string{"g1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteMacro(1, []string{"g1"}); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("DeleteMacro(again) error = %v", err)
	}
	if err := r.RenameMacro(m, "gone"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("RenameMacro(deleted) error = %v", err)
	}
}

func TestRegistry_NonASCIIKeys(t *testing.T) {
	m, s := newManager(t)
	r, _ := m.Registry(DefaultProfileID)
	reload := func() *Registry {
		t.Helper()
		again, err := LoadRegistry(s, m.ProfileRoot(DefaultProfileID), DefaultProfileID, nil)
		if err != nil {
			t.Fatal(err)
		}
		return again
	}

	if _, err := r.CreateMacro(1, []string{"é"}, "Accent", MacroSimple, "e"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteMacro(1, []string{"é"}); err != nil {
		t.Fatal(err)
	}
	if got := reload().MacrosInBank(1); len(got) != 0 {
		t.Errorf("bank 1 after delete and reload = %d macros, want 0", len(got))
	}

	u, err := r.CreateMacro(1, []string{"ü"}, "Umlaut", MacroSimple, "u")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetMacroKeys(u, []string{"g5"}); err != nil {
		t.Fatalf("SetMacroKeys(ü -> g5) error = %v", err)
	}
	again := reload()
	if got, ok := again.Macro(1, []string{"g5"}); !ok || got.Name != "Umlaut" {
		t.Errorf("Macro(g5) after reload = %+v, %v", got, ok)
	}
	if _, ok := again.Macro(1, []string{"ü"}); ok {
		t.Error("old non-ASCII key set survived the rebind")
	}
}

func TestMacroFields(t *testing.T) {
	r := newRegistry(t)
	m, _ := r.CreateMacro(1, []string{"g1"}, "A", MacroSimple, "abc")

	if err := r.RenameMacro(m, "Renamed"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMacroType(m, MacroCommand); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMacroPayload(m, "gedit"); err != nil {
		t.Fatal(err)
	}
	if m.Name != "Renamed" || m.Command != "gedit" || m.Simple != "abc" {
		t.Errorf("macro = %+v", m)
	}
}

func TestCheck(t *testing.T) {
	r := newRegistry(t)
	a, _ := r.CreateMacro(1, []string{"g1"}, "A", MacroSimple, "")

	tests := []struct {
		name    string
		keys    []string
		editing *Macro
		want    Verdict
	}{
		{"free", []string{"g2"}, nil, VerdictOK},
		{"own keys", []string{"g1"}, a, VerdictOK},
		{"conflict", []string{"g1", "g2"}, nil, VerdictConflict},
		{"reserved", []string{"mr"}, nil, VerdictReserved},
		{"conflict outranks reserved", []string{"g1", "mr"}, nil, VerdictConflict},
		{"empty", nil, a, VerdictEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Check(1, tt.keys, tt.editing); got != tt.want {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}

	if VerdictConflict.Committable() || VerdictEmpty.Committable() || !VerdictReserved.Committable() {
		t.Error("unexpected Committable() results")
	}
	if VerdictOK.Message() != "" || VerdictConflict.Message() == "" {
		t.Error("unexpected Message() results")
	}
}

func TestFirstFreeKey(t *testing.T) {
	r := newRegistry(t)
	for _, k := range []string{"g1", "g2", "g3"} {
		r.CreateMacro(1, []string{k}, k, MacroSimple, "")
	}
	if key, ok := r.FirstFreeKey(1, testLayout); !ok || key != "g4" {
		t.Errorf("FirstFreeKey() = %q, %v", key, ok)
	}
	if key, _ := r.FirstFreeKey(2, testLayout); key != "g1" {
		t.Errorf("FirstFreeKey(bank 2) = %q", key)
	}
	for _, k := range []string{"g4", "g5", "g6"} {
		r.CreateMacro(1, []string{k}, k, MacroSimple, "")
	}
	if key, ok := r.FirstFreeKey(1, testLayout); ok {
		t.Errorf("FirstFreeKey() = %q with only reserved keys left", key)
	}
}

func TestKeyEditor_Toggle(t *testing.T) {
	r := newRegistry(t)
	r.CreateMacro(1, []string{"g5"}, "Other", MacroSimple, "")
	m, _ := r.CreateMacro(1, []string{"g1"}, "Edited", MacroSimple, "")

	e, err := r.Edit(m)
	if err != nil {
		t.Fatal(err)
	}
	if e.Combination() {
		t.Error("single-key macro should start with combination off")
	}

	// Without combination mode, a new key replaces the old one.
	if v, err := e.Toggle("g2", true); err != nil || v != VerdictOK {
		t.Fatalf("Toggle(g2) = %v, %v", v, err)
	}
	if m.Canonical() != "g2" {
		t.Errorf("keys = %v, want [g2]", m.Keys)
	}

	// A conflicting key is shown but not committed.
	v, _ := e.Toggle("g5", true)
	if v != VerdictConflict || e.Closable() || m.Canonical() != "g2" {
		t.Errorf("Toggle(g5) = %v, closable %v, keys %v", v, e.Closable(), m.Keys)
	}

	// Deselecting everything is never committed.
	e.Toggle("g5", false)
	if e.Verdict() != VerdictEmpty || m.Canonical() != "g2" {
		t.Errorf("empty toggle: verdict %v, keys %v", e.Verdict(), m.Keys)
	}

	// A reserved key may be used.
	if v, _ := e.Toggle("mr", true); v != VerdictReserved || m.Canonical() != "mr" {
		t.Errorf("Toggle(mr) = %v, keys %v", v, m.Keys)
	}
	assertDisjoint(t, r)
}

func TestKeyEditor_Combination(t *testing.T) {
	r := newRegistry(t)
	m, _ := r.CreateMacro(1, []string{"g1"}, "Combo", MacroSimple, "")
	e, _ := r.Edit(m)

	e.SetCombination(true)
	e.Toggle("g2", true)
	e.Toggle("g3", true)
	if m.Canonical() != "g1_g2_g3" {
		t.Fatalf("keys = %v, want g1 g2 g3", m.Keys)
	}

	v, err := e.SetCombination(false)
	if err != nil || v != VerdictOK {
		t.Fatalf("SetCombination(false) = %v, %v", v, err)
	}
	if got := e.Active(); len(got) != 1 || got[0] != "g1" || m.Canonical() != "g1" {
		t.Errorf("after collapse active = %v, keys = %v", got, m.Keys)
	}

	// Reopening a multi-key macro starts in combination mode.
	r.SetMacroKeys(m, []string{"g1", "g2"})
	e2, _ := r.Edit(m)
	if !e2.Combination() || !e2.IsActive("g2") {
		t.Errorf("Edit() combination = %v, active = %v", e2.Combination(), e2.Active())
	}
}

func TestKeyEditor_Stale(t *testing.T) {
	r := newRegistry(t)
	m, _ := r.CreateMacro(1, []string{"g1"}, "A", MacroSimple, "")
	e, _ := r.Edit(m)

	if err := r.DeleteMacro(1, []string{"g1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Toggle("g2", true); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Toggle() on deleted macro error = %v", err)
	}
	if _, err := r.Edit(m); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Edit(deleted) error = %v", err)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		keys []string
		want string
	}{
		{[]string{"g2", "g1"}, "g1_g2"},
		{[]string{"G1", "g1", " g3 "}, "g1_g3"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := Canonical(tt.keys); got != tt.want {
			t.Errorf("Canonical(%v) = %q, want %q", tt.keys, got, tt.want)
		}
	}
	if got := KeysFromCanonical("g1_g2"); !reflect.DeepEqual(got, []string{"g1", "g2"}) {
		t.Errorf("KeysFromCanonical() = %v", got)
	}
	if got := KeyNames([]string{"g1", "mr"}); !reflect.DeepEqual(got, []string{"G1", "MR"}) {
		t.Errorf("KeyNames() = %v", got)
	}
	if ParseMacroType("Command") != MacroCommand || ParseMacroType("") != MacroSimple {
		t.Error("ParseMacroType() mismatch")
	}
}

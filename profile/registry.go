package profile

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/store"
)

// Reserver reports keys bound to fixed hardware actions.
// *device.Model implements it.
type Reserver interface {
	AreKeysReserved(keys []string) bool
}

// Verdict classifies a candidate key set for a macro.
type Verdict int

const (
	// VerdictOK means the keys are free.
	VerdictOK Verdict = iota
	// VerdictReserved means the keys are free but include a reserved key.
	// The macro may still be saved.
	VerdictReserved
	// VerdictConflict means another macro in the bank uses one of the keys.
	VerdictConflict
	// VerdictEmpty means no key is selected.
	VerdictEmpty
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictReserved:
		return "reserved"
	case VerdictConflict:
		return "conflict"
	case VerdictEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Committable reports whether keys with this verdict may be saved.
func (v Verdict) Committable() bool {
	return v == VerdictOK || v == VerdictReserved
}

// Message is the user-facing explanation of a verdict.
func (v Verdict) Message() string {
	switch v {
	case VerdictConflict:
		return "This key combination is already in use with another macro. Please choose a different key or combination of keys"
	case VerdictReserved:
		return "This key combination is reserved for use with an action. You may use it, but the results are undefined."
	case VerdictEmpty:
		return "Select at least one key."
	default:
		return ""
	}
}

// Registry owns the macros of one profile, grouped by memory bank, and
// guarantees that no two macros in a bank share a key.
//
// Every mutation is written to the store before memory is updated, so a
// failed write leaves the registry unchanged. A Registry is not safe for
// concurrent use.
type Registry struct {
	kv        store.KV
	root      string
	profileID int
	reserved  Reserver
	banks     map[int]map[string]*Macro
}

// LoadRegistry reads the macros stored under a profile's root.
func LoadRegistry(kv store.KV, profileRoot string, profileID int, reserved Reserver) (*Registry, error) {
	r := &Registry{
		kv:        kv,
		root:      profileRoot,
		profileID: profileID,
		reserved:  reserved,
		banks:     make(map[int]map[string]*Macro),
	}

	for bank := 1; bank <= common.MemoryBanks; bank++ {
		r.banks[bank] = make(map[string]*Macro)
		names, err := kv.Children(r.bankRoot(bank))
		if err != nil {
			return nil, err
		}
		for _, canonical := range names {
			m, err := r.readMacro(bank, canonical)
			if err != nil {
				return nil, err
			}
			r.banks[bank][canonical] = m
		}
	}
	return r, nil
}

// ProfileID returns the id of the profile the registry belongs to.
func (r *Registry) ProfileID() int { return r.profileID }

func (r *Registry) bankRoot(bank int) string {
	return store.Join(r.root, "m"+strconv.Itoa(bank))
}

func (r *Registry) macroRoot(bank int, canonical string) string {
	return store.Join(r.bankRoot(bank), canonical)
}

func (r *Registry) readMacro(bank int, canonical string) (*Macro, error) {
	root := r.macroRoot(bank, canonical)
	get := func(key string) (string, error) {
		v, _, err := r.kv.Get(store.Join(root, key))
		return v.Str(), err
	}

	m := &Macro{Bank: bank, Keys: normalizeKeys(KeysFromCanonical(canonical))}
	var typ string
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"name", &m.Name},
		{"type", &typ},
		{"command", &m.Command},
		{"simple", &m.Simple},
		{"script", &m.Script},
	} {
		s, err := get(f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = s
	}
	m.Type = ParseMacroType(typ)
	return m, nil
}

func checkBank(op string, bank int) error {
	if bank < 1 || bank > common.MemoryBanks {
		return &common.PreconditionError{Op: op, Reason: fmt.Sprintf("memory bank %d out of range", bank)}
	}
	return nil
}

// MacrosInBank returns the bank's macros ordered by canonical key set.
func (r *Registry) MacrosInBank(bank int) []*Macro {
	macros := make([]*Macro, 0, len(r.banks[bank]))
	for _, m := range r.banks[bank] {
		macros = append(macros, m)
	}
	sort.Slice(macros, func(i, j int) bool {
		return macros[i].Canonical() < macros[j].Canonical()
	})
	return macros
}

// Macro returns the macro bound to exactly keys in bank.
func (r *Registry) Macro(bank int, keys []string) (*Macro, bool) {
	m, ok := r.banks[bank][Canonical(keys)]
	return m, ok
}

// AreKeysInUse reports whether a macro in bank, other than those in
// excluding, is bound to any of keys.
func (r *Registry) AreKeysInUse(bank int, keys []string, excluding ...*Macro) bool {
	keys = normalizeKeys(keys)
	for _, m := range r.banks[bank] {
		if isExcluded(m, excluding) {
			continue
		}
		if intersects(m.Keys, keys) {
			return true
		}
	}
	return false
}

func isExcluded(m *Macro, excluding []*Macro) bool {
	for _, e := range excluding {
		if e == m {
			return true
		}
	}
	return false
}

// AreKeysReserved reports whether keys include a reserved key.
func (r *Registry) AreKeysReserved(keys []string) bool {
	return r.reserved != nil && r.reserved.AreKeysReserved(normalizeKeys(keys))
}

// Check evaluates keys as the key set of editing (nil for a new macro).
// A conflict outranks a reserved key.
func (r *Registry) Check(bank int, keys []string, editing *Macro) Verdict {
	keys = normalizeKeys(keys)
	switch {
	case len(keys) == 0:
		return VerdictEmpty
	case r.AreKeysInUse(bank, keys, editing):
		return VerdictConflict
	case r.AreKeysReserved(keys):
		return VerdictReserved
	default:
		return VerdictOK
	}
}

// current returns the registry's live instance for m, failing when m was
// deleted or rebound since it was obtained.
func (r *Registry) current(op string, m *Macro) error {
	if m == nil {
		return &common.NotFoundError{Entity: "macro"}
	}
	if live, ok := r.banks[m.Bank][m.Canonical()]; !ok || live != m {
		return &common.NotFoundError{Entity: "macro", Key: fmt.Sprintf("M%d/%s", m.Bank, m.Canonical())}
	}
	return nil
}

// CreateMacro binds keys in bank to a new macro.
func (r *Registry) CreateMacro(bank int, keys []string, name string, typ MacroType, payload string) (*Macro, error) {
	const op = "create macro"
	if err := checkBank(op, bank); err != nil {
		return nil, err
	}
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return nil, &common.PreconditionError{Op: op, Reason: "a macro needs at least one key"}
	}
	if err := validateKeys(op, keys); err != nil {
		return nil, err
	}
	if r.AreKeysInUse(bank, keys) {
		return nil, &common.ConflictError{Bank: bank, Keys: keys}
	}

	m := &Macro{Bank: bank, Keys: keys, Name: name, Type: typ}
	m.setPayload(typ, payload)

	root := r.macroRoot(bank, m.Canonical())
	writes := []struct {
		key   string
		value string
	}{
		{"name", name},
		{"type", typ.String()},
		{typ.payloadKey(), payload},
	}
	for _, w := range writes {
		if err := r.kv.Set(store.Join(root, w.key), store.String(w.value)); err != nil {
			if undoErr := r.kv.UnsetTree(root); undoErr != nil {
				common.LogWarn("Failed to roll back partial macro %s: %v", root, undoErr)
			}
			return nil, err
		}
	}

	r.banks[bank][m.Canonical()] = m
	return m, nil
}

// SetMacroKeys rebinds m to keys. On a conflict m keeps its keys and a
// *common.ConflictError is returned.
func (r *Registry) SetMacroKeys(m *Macro, keys []string) error {
	const op = "set macro keys"
	if err := r.current(op, m); err != nil {
		return err
	}
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return &common.PreconditionError{Op: op, Reason: "a macro needs at least one key"}
	}
	if err := validateKeys(op, keys); err != nil {
		return err
	}
	if r.AreKeysInUse(m.Bank, keys, m) {
		return &common.ConflictError{Bank: m.Bank, Keys: keys}
	}

	oldCanonical := m.Canonical()
	newCanonical := Canonical(keys)
	if oldCanonical == newCanonical {
		return nil
	}
	if err := r.kv.Move(r.macroRoot(m.Bank, oldCanonical), r.macroRoot(m.Bank, newCanonical)); err != nil {
		return err
	}

	delete(r.banks[m.Bank], oldCanonical)
	m.Keys = keys
	r.banks[m.Bank][newCanonical] = m
	return nil
}

// DeleteMacro removes the macro bound to exactly keys in bank.
func (r *Registry) DeleteMacro(bank int, keys []string) error {
	canonical := Canonical(keys)
	if _, ok := r.banks[bank][canonical]; !ok {
		return &common.NotFoundError{Entity: "macro", Key: fmt.Sprintf("M%d/%s", bank, canonical)}
	}
	if err := r.kv.UnsetTree(r.macroRoot(bank, canonical)); err != nil {
		return err
	}
	delete(r.banks[bank], canonical)
	return nil
}

func (r *Registry) setField(op string, m *Macro, key, value string) error {
	if err := r.current(op, m); err != nil {
		return err
	}
	return r.kv.Set(store.Join(r.macroRoot(m.Bank, m.Canonical()), key), store.String(value))
}

// RenameMacro sets m's display name.
func (r *Registry) RenameMacro(m *Macro, name string) error {
	if err := r.setField("rename macro", m, "name", name); err != nil {
		return err
	}
	m.Name = name
	return nil
}

// SetMacroType changes what m does. Payloads of other types are kept.
func (r *Registry) SetMacroType(m *Macro, typ MacroType) error {
	if err := r.setField("set macro type", m, "type", typ.String()); err != nil {
		return err
	}
	m.Type = typ
	return nil
}

// SetMacroPayload sets the payload for m's current type.
func (r *Registry) SetMacroPayload(m *Macro, payload string) error {
	if err := r.setField("set macro payload", m, m.Type.payloadKey(), payload); err != nil {
		return err
	}
	m.setPayload(m.Type, payload)
	return nil
}

// FirstFreeKey returns the first key of layout, in row order, that is
// neither used in bank nor reserved.
func (r *Registry) FirstFreeKey(bank int, layout [][]string) (string, bool) {
	for _, row := range layout {
		for _, key := range row {
			k := []string{key}
			if !r.AreKeysInUse(bank, k) && !r.AreKeysReserved(k) {
				return key, true
			}
		}
	}
	return "", false
}

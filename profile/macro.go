package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yllada/g15-config/common"
)

// MacroType selects what a macro does when its keys are pressed.
type MacroType int

const (
	// MacroCommand runs a command line.
	MacroCommand MacroType = iota
	// MacroSimple replays a simple keystroke sequence.
	MacroSimple
	// MacroScript runs a macro script.
	MacroScript
)

// String returns the stored name of the type.
func (t MacroType) String() string {
	switch t {
	case MacroCommand:
		return "command"
	case MacroSimple:
		return "simple"
	case MacroScript:
		return "script"
	default:
		return "unknown"
	}
}

// ParseMacroType converts a stored type name. Unknown names are simple
// keystroke sequences.
func ParseMacroType(s string) MacroType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "command":
		return MacroCommand
	case "script":
		return MacroScript
	default:
		return MacroSimple
	}
}

// payloadKey is the store key holding the payload for t.
func (t MacroType) payloadKey() string {
	switch t {
	case MacroCommand:
		return "command"
	case MacroScript:
		return "script"
	default:
		return "simple"
	}
}

// Macro binds a key combination in one memory bank to an action.
type Macro struct {
	Bank int
	// Keys is sorted and free of duplicates.
	Keys []string
	Name string
	Type MacroType

	Command string
	Simple  string
	Script  string
}

// Canonical returns the order-independent identity of the macro's keys.
func (m *Macro) Canonical() string { return Canonical(m.Keys) }

// Payload returns the payload for the macro's current type.
func (m *Macro) Payload() string {
	switch m.Type {
	case MacroCommand:
		return m.Command
	case MacroScript:
		return m.Script
	default:
		return m.Simple
	}
}

func (m *Macro) setPayload(t MacroType, payload string) {
	switch t {
	case MacroCommand:
		m.Command = payload
	case MacroScript:
		m.Script = payload
	default:
		m.Simple = payload
	}
}

// Canonical joins the sorted, de-duplicated keys with "_", e.g.
// Canonical([]string{"g2", "g1"}) == "g1_g2".
func Canonical(keys []string) string {
	return strings.Join(normalizeKeys(keys), "_")
}

// KeysFromCanonical splits a canonical key set.
func KeysFromCanonical(canonical string) []string {
	if canonical == "" {
		return nil
	}
	return strings.Split(canonical, "_")
}

// KeyNames returns display names for keys, e.g. "G1".
func KeyNames(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.ToUpper(k)
	}
	return out
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !common.StringInSlice(k, out) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func validateKeys(op string, keys []string) error {
	for _, k := range keys {
		if strings.ContainsAny(k, "_/") {
			return &common.PreconditionError{Op: op, Reason: fmt.Sprintf("invalid key id %q", k)}
		}
	}
	return nil
}

// intersects reports whether a and b share a key.
func intersects(a, b []string) bool {
	for _, k := range a {
		if common.StringInSlice(k, b) {
			return true
		}
	}
	return false
}

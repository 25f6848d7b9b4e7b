package profile

import "github.com/yllada/g15-config/common"

// KeyEditor is the edit buffer behind a macro's key toggles.
//
// With combination mode off, activating a key first deactivates every
// other key. After each toggle the buffer is checked: it is committed to
// the macro only when it is non-empty and free of conflicts, otherwise it
// stays uncommitted and the verdict says why. Discarding an editor never
// touches the store.
type KeyEditor struct {
	reg         *Registry
	macro       *Macro
	active      []string
	combination bool
	verdict     Verdict
}

// Edit opens an editor on m. Combination mode starts on when m is bound
// to more than one key.
func (r *Registry) Edit(m *Macro) (*KeyEditor, error) {
	if err := r.current("edit macro", m); err != nil {
		return nil, err
	}
	e := &KeyEditor{
		reg:         r,
		macro:       m,
		active:      append([]string(nil), m.Keys...),
		combination: len(m.Keys) > 1,
	}
	e.verdict = r.Check(m.Bank, e.active, m)
	return e, nil
}

// Macro returns the macro being edited.
func (e *KeyEditor) Macro() *Macro { return e.macro }

// Active returns the keys currently toggled on, in activation order.
func (e *KeyEditor) Active() []string { return append([]string(nil), e.active...) }

// IsActive reports whether key is toggled on.
func (e *KeyEditor) IsActive(key string) bool { return common.StringInSlice(key, e.active) }

// Combination reports whether several keys may be active at once.
func (e *KeyEditor) Combination() bool { return e.combination }

// Verdict is the result of the last evaluation.
func (e *KeyEditor) Verdict() Verdict { return e.verdict }

// Closable reports whether the edit may be closed without losing a
// pending key change.
func (e *KeyEditor) Closable() bool { return e.verdict.Committable() }

// Toggle switches key on or off and evaluates the result. The returned
// error reports a failed write; conflicts are reported by the verdict.
func (e *KeyEditor) Toggle(key string, on bool) (Verdict, error) {
	keys := normalizeKeys([]string{key})
	if len(keys) == 0 {
		return e.verdict, nil
	}
	key = keys[0]

	if on {
		if !e.combination {
			e.active = e.active[:0]
		}
		if !e.IsActive(key) {
			e.active = append(e.active, key)
		}
	} else {
		e.active = common.RemoveFromSlice(e.active, key)
	}
	return e.evaluate()
}

// SetCombination switches combination mode. Turning it off while several
// keys are active keeps only the first one activated.
func (e *KeyEditor) SetCombination(on bool) (Verdict, error) {
	e.combination = on
	if !on && len(e.active) > 1 {
		e.active = e.active[:1]
	}
	return e.evaluate()
}

func (e *KeyEditor) evaluate() (Verdict, error) {
	e.verdict = e.reg.Check(e.macro.Bank, e.active, e.macro)
	if !e.verdict.Committable() {
		return e.verdict, nil
	}
	if err := e.reg.SetMacroKeys(e.macro, e.active); err != nil {
		return e.verdict, err
	}
	return e.verdict, nil
}

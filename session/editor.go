package session

import (
	"context"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/profile"
)

// Editor is a key edit buffer for one macro, driven through the session.
type Editor struct {
	s   *Session
	reg *profile.Registry
	ed  *profile.KeyEditor
}

// EditMacro opens a key editor on the macro bound to keys in the selected
// bank. Discarding the editor leaves the macro unchanged.
func (s *Session) EditMacro(ctx context.Context, keys []string) (*Editor, error) {
	var e *Editor
	err := s.do(ctx, func() error {
		m, err := s.macro("edit macro", keys)
		if err != nil {
			return err
		}
		ed, err := s.registry.Edit(m)
		if err != nil {
			return err
		}
		e = &Editor{s: s, reg: s.registry, ed: ed}
		return nil
	})
	return e, err
}

// current fails once the session has reloaded or switched registries.
func (e *Editor) current() error {
	if e.s.registry != e.reg {
		return &common.NotFoundError{Entity: "macro", Key: e.ed.Macro().Canonical()}
	}
	return nil
}

// Toggle switches key on or off.
func (e *Editor) Toggle(ctx context.Context, key string, on bool) (profile.Verdict, error) {
	var v profile.Verdict
	err := e.s.do(ctx, func() error {
		if err := e.current(); err != nil {
			return err
		}
		var err error
		v, err = e.ed.Toggle(key, on)
		return err
	})
	return v, err
}

// SetCombination switches combination mode.
func (e *Editor) SetCombination(ctx context.Context, on bool) (profile.Verdict, error) {
	var v profile.Verdict
	err := e.s.do(ctx, func() error {
		if err := e.current(); err != nil {
			return err
		}
		var err error
		v, err = e.ed.SetCombination(on)
		return err
	})
	return v, err
}

// Active returns the keys toggled on.
func (e *Editor) Active(ctx context.Context) ([]string, error) {
	var keys []string
	err := e.s.do(ctx, func() error {
		keys = e.ed.Active()
		return nil
	})
	return keys, err
}

// Macro returns the macro as currently stored.
func (e *Editor) Macro(ctx context.Context) (profile.Macro, error) {
	var m profile.Macro
	err := e.s.do(ctx, func() error {
		m = copyMacro(e.ed.Macro())
		return nil
	})
	return m, err
}

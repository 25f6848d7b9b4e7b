// Package cli implements the g15-config terminal interface: table output
// for the one-shot commands and a live status monitor.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/profile"
	"github.com/yllada/g15-config/session"
)

// CLI runs one-shot commands against a session.
type CLI struct {
	sess   *session.Session
	out    io.Writer
	styles Styles
}

// New creates a CLI writing to out. Colours are used only when out is a
// terminal.
func New(sess *session.Session, out io.Writer) *CLI {
	return &CLI{sess: sess, out: out, styles: NewStyles(!IsTerminal(out))}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *CLI) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Devices lists the detected devices, marking the selected one.
func (c *CLI) Devices(ctx context.Context) error {
	devices := c.sess.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No supported devices found.")
		return nil
	}
	st, err := c.sess.Status(ctx)
	if err != nil {
		return err
	}

	w := c.table()
	fmt.Fprintln(w, "UID\tMODEL\tNAME\tSELECTED")
	fmt.Fprintln(w, "---\t-----\t----\t--------")
	for _, d := range devices {
		selected := ""
		if d.UID == st.Device {
			selected = c.styles.Active.Render("*")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.UID, d.ModelID(), d.FullName(), selected)
	}
	return w.Flush()
}

// Status prints the service status and the selected device's state.
func (c *CLI) Status(ctx context.Context) error {
	st, err := c.sess.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "%s %s\n", c.styles.Header.Render("Service:"), c.styles.ServiceState(st.Service))
	if msg := st.Service.Message(); msg != "" {
		fmt.Fprintf(c.out, "  %s\n", c.styles.Muted.Render(msg))
	}
	if st.Device == "" {
		fmt.Fprintln(c.out, "No device selected.")
		return nil
	}

	info, err := c.sess.Device(ctx)
	if err != nil {
		return err
	}
	w := c.table()
	fmt.Fprintf(w, "Device:\t%s (%s)\n", info.Device.FullName(), info.Device.UID)
	fmt.Fprintf(w, "Driver:\t%s\n", info.DriverName)
	fmt.Fprintf(w, "Enabled:\t%s\n", yesNo(st.Enabled))
	fmt.Fprintf(w, "Active profile:\t%s\n", st.ProfileName)
	if st.ScreenTracked {
		screen := c.styles.OK.Render("connected")
		if !st.Screen.Connected {
			screen = c.styles.Error.Render("disconnected")
			if st.Screen.LastError != "" {
				screen += " (" + st.Screen.LastError + ")"
			}
		}
		fmt.Fprintf(w, "Keyboard:\t%s\n", screen)
	}
	return w.Flush()
}

// SelectDevice switches to the device uid.
func (c *CLI) SelectDevice(ctx context.Context, uid string) error {
	return c.sess.SelectDevice(ctx, uid)
}

// SetEnabled enables or disables the selected device.
func (c *CLI) SetEnabled(ctx context.Context, on bool) error {
	if err := c.sess.SetEnabled(ctx, on); err != nil {
		return err
	}
	if on {
		fmt.Fprintln(c.out, "✓ Device enabled")
	} else {
		fmt.Fprintln(c.out, "✓ Device disabled")
	}
	return nil
}

// StopService asks the desktop service to stop.
func (c *CLI) StopService(ctx context.Context) error {
	if err := c.sess.StopService(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "✓ Stop requested")
	return nil
}

// ListProfiles lists the profiles of the selected device.
func (c *CLI) ListProfiles(ctx context.Context) error {
	profiles, err := c.sess.Profiles(ctx)
	if err != nil {
		return err
	}
	st, err := c.sess.Status(ctx)
	if err != nil {
		return err
	}

	w := c.table()
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tWINDOW")
	fmt.Fprintln(w, "--\t----\t------\t------")
	for _, p := range profiles {
		active := ""
		if p.ID == st.ActiveProfile {
			active = c.styles.Active.Render("*")
		}
		window := p.WindowName
		if window == "" || !p.ActivateOnFocus {
			window = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, active, window)
	}
	return w.Flush()
}

// findProfile resolves a profile by id or by case-insensitive name.
func (c *CLI) findProfile(ctx context.Context, nameOrID string) (profile.Profile, error) {
	profiles, err := c.sess.Profiles(ctx)
	if err != nil {
		return profile.Profile{}, err
	}
	nameOrID = strings.TrimSpace(nameOrID)
	if id, err := strconv.Atoi(nameOrID); err == nil {
		for _, p := range profiles {
			if p.ID == id {
				return p, nil
			}
		}
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, nameOrID) {
			return p, nil
		}
	}
	return profile.Profile{}, &common.NotFoundError{Entity: "profile", Key: nameOrID}
}

// AddProfile creates a profile.
func (c *CLI) AddProfile(ctx context.Context, name string) error {
	p, err := c.sess.CreateProfile(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Created profile %s (id %d)\n", p.Name, p.ID)
	return nil
}

// RemoveProfile deletes a profile, activating Default first if needed.
func (c *CLI) RemoveProfile(ctx context.Context, nameOrID string) error {
	p, err := c.findProfile(ctx, nameOrID)
	if err != nil {
		return err
	}
	if err := c.sess.RemoveProfile(ctx, p.ID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Removed profile %s\n", p.Name)
	return nil
}

// ActivateProfile makes a profile active.
func (c *CLI) ActivateProfile(ctx context.Context, nameOrID string) error {
	p, err := c.findProfile(ctx, nameOrID)
	if err != nil {
		return err
	}
	if err := c.sess.ActivateProfile(ctx, p.ID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Activated profile %s\n", p.Name)
	return nil
}

// RenameProfile renames a profile.
func (c *CLI) RenameProfile(ctx context.Context, nameOrID, name string) error {
	p, err := c.findProfile(ctx, nameOrID)
	if err != nil {
		return err
	}
	if err := c.sess.RenameProfile(ctx, p.ID, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Renamed profile %s to %s\n", p.Name, strings.TrimSpace(name))
	return nil
}

// MacroScope selects the profile and bank macro commands act on. An empty
// Profile means the active profile.
type MacroScope struct {
	Profile string
	Bank    int
}

func (c *CLI) useScope(ctx context.Context, scope MacroScope) error {
	if scope.Profile != "" {
		p, err := c.findProfile(ctx, scope.Profile)
		if err != nil {
			return err
		}
		if err := c.sess.SelectProfile(ctx, p.ID); err != nil {
			return err
		}
	}
	bank := scope.Bank
	if bank == 0 {
		bank = 1
	}
	return c.sess.SelectBank(ctx, bank)
}

// ParseKeys splits a key combination such as "G1+G2".
func ParseKeys(s string) []string {
	var keys []string
	for _, k := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ListMacros lists the macros of one bank.
func (c *CLI) ListMacros(ctx context.Context, scope MacroScope) error {
	if err := c.useScope(ctx, scope); err != nil {
		return err
	}
	macros, err := c.sess.Macros(ctx)
	if err != nil {
		return err
	}
	if len(macros) == 0 {
		fmt.Fprintln(c.out, "No macros in this bank.")
		return nil
	}

	w := c.table()
	fmt.Fprintln(w, "KEYS\tNAME\tTYPE\tACTION")
	fmt.Fprintln(w, "----\t----\t----\t------")
	for _, m := range macros {
		action := m.Payload()
		if action == "" {
			action = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", strings.Join(profile.KeyNames(m.Keys), "+"), m.Name, m.Type, action)
	}
	return w.Flush()
}

// AddMacro creates a macro. Without keys the first free key is used.
func (c *CLI) AddMacro(ctx context.Context, scope MacroScope, keys, name string, typ profile.MacroType, payload string) error {
	if err := c.useScope(ctx, scope); err != nil {
		return err
	}
	m, err := c.sess.CreateMacro(ctx, ParseKeys(keys), strings.TrimSpace(name), typ, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Created macro %s on %s\n", m.Name, strings.Join(profile.KeyNames(m.Keys), "+"))
	return nil
}

// RemoveMacro deletes the macro bound to keys.
func (c *CLI) RemoveMacro(ctx context.Context, scope MacroScope, keys string) error {
	if err := c.useScope(ctx, scope); err != nil {
		return err
	}
	if err := c.sess.DeleteMacro(ctx, ParseKeys(keys)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Removed macro on %s\n", strings.ToUpper(keys))
	return nil
}

// RenameMacro renames the macro bound to keys.
func (c *CLI) RenameMacro(ctx context.Context, scope MacroScope, keys, name string) error {
	if err := c.useScope(ctx, scope); err != nil {
		return err
	}
	if err := c.sess.RenameMacro(ctx, ParseKeys(keys), name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Renamed macro on %s\n", strings.ToUpper(keys))
	return nil
}

// Controls lists the driver controls of the selected device.
func (c *CLI) Controls(ctx context.Context) error {
	values, err := c.sess.Controls(ctx)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		fmt.Fprintln(c.out, "The driver has no controls.")
		return nil
	}
	w := c.table()
	fmt.Fprintln(w, "ID\tNAME\tKIND\tVALUE")
	fmt.Fprintln(w, "--\t----\t----\t-----")
	for _, v := range values {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Control.ID, v.Control.Name, v.Control.Kind, v.Value)
	}
	return w.Flush()
}

// SetControl writes a driver control.
func (c *CLI) SetControl(ctx context.Context, id, value string) error {
	if err := c.sess.SetControl(ctx, id, value); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ %s set to %s\n", id, value)
	return nil
}

// SetDriver selects the driver of the selected device.
func (c *CLI) SetDriver(ctx context.Context, id string) error {
	if err := c.sess.SetDriver(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "✓ Driver set to %s\n", id)
	return nil
}

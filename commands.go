package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/yllada/g15-config/cli"
	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/profile"
	"github.com/yllada/g15-config/service"
)

// withCLI opens the app, runs fn and shuts everything down again.
func withCLI(fn func(ctx context.Context, c *cli.CLI) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, cli.New(a.sess, os.Stdout))
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "devices",
		Short:         "List supported keyboards",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.Devices(ctx) })
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the desktop service and device status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.Status(ctx) })
		},
	}
}

func newStopServiceCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "stop-service",
		Short:         "Ask the Gnome15 desktop service to stop",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.StopService(ctx) })
		},
	}
}

func newEnableCommand(on bool) *cobra.Command {
	use, short := "enable", "Enable the selected device"
	if !on {
		use, short = "disable", "Disable the selected device"
	}
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.SetEnabled(ctx, on) })
		},
	}
}

func newDriverCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "driver [id]",
		Short:         "Select the driver of the selected device",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.SetDriver(ctx, args[0]) })
		},
	}
}

func newControlsCommand() *cobra.Command {
	controlsCmd := &cobra.Command{
		Use:           "controls",
		Short:         "List driver controls of the selected device",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.Controls(ctx) })
		},
	}
	controlsCmd.AddCommand(&cobra.Command{
		Use:           "set [id] [value]",
		Short:         "Set a driver control, e.g. set backlight_colour 255,0,0",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.SetControl(ctx, args[0], args[1]) })
		},
	})
	return controlsCmd
}

func newProfilesCommand() *cobra.Command {
	listProfiles := func(cmd *cobra.Command, _ []string) error {
		return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.ListProfiles(ctx) })
	}
	profilesCmd := &cobra.Command{
		Use:           "profiles",
		Short:         "Manage macro profiles",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listProfiles,
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List profiles of the selected device",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listProfiles,
	}

	addCmd := &cobra.Command{
		Use:           "add [name]",
		Short:         "Create a profile",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.AddProfile(ctx, args[0]) })
		},
	}
	removeCmd := &cobra.Command{
		Use:           "remove [profile]",
		Short:         "Delete a profile by id or name",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.RemoveProfile(ctx, args[0]) })
		},
	}
	activateCmd := &cobra.Command{
		Use:           "activate [profile]",
		Short:         "Make a profile active",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.ActivateProfile(ctx, args[0]) })
		},
	}
	renameCmd := &cobra.Command{
		Use:           "rename [profile] [name]",
		Short:         "Rename a profile",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.RenameProfile(ctx, args[0], args[1]) })
		},
	}

	profilesCmd.AddCommand(listCmd, addCmd, removeCmd, activateCmd, renameCmd)
	return profilesCmd
}

func newMacrosCommand() *cobra.Command {
	var scope cli.MacroScope
	listMacros := func(cmd *cobra.Command, _ []string) error {
		return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.ListMacros(ctx, scope) })
	}
	macrosCmd := &cobra.Command{
		Use:           "macros",
		Short:         "Manage G-key macros of a profile",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listMacros,
	}
	macrosCmd.PersistentFlags().StringVarP(&scope.Profile, "profile", "p", "", "Profile id or name (default the active profile)")
	macrosCmd.PersistentFlags().IntVarP(&scope.Bank, "bank", "b", 1, "Memory bank, 1 to 3")

	var (
		keys     string
		name     string
		typeName string
		payload  string
	)
	addCmd := &cobra.Command{
		Use:           "add",
		Short:         "Create a macro, on the first free key unless --keys is given",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ := profile.ParseMacroType(typeName)
			return withCLI(func(ctx context.Context, c *cli.CLI) error {
				return c.AddMacro(ctx, scope, keys, name, typ, payload)
			})
		},
	}
	addCmd.Flags().StringVarP(&keys, "keys", "k", "", "Key combination, e.g. G1+G2")
	addCmd.Flags().StringVarP(&name, "name", "n", "", "Macro name")
	addCmd.Flags().StringVarP(&typeName, "type", "t", "simple", "Macro type: simple, command or script")
	addCmd.Flags().StringVar(&payload, "action", "", "Keystrokes, command line or script")

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List macros of one memory bank",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listMacros,
	}
	removeCmd := &cobra.Command{
		Use:           "remove [keys]",
		Short:         "Delete the macro bound to keys",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error { return c.RemoveMacro(ctx, scope, args[0]) })
		},
	}
	renameCmd := &cobra.Command{
		Use:           "rename [keys] [name]",
		Short:         "Rename the macro bound to keys",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *cli.CLI) error {
				return c.RenameMacro(ctx, scope, args[0], args[1])
			})
		},
	}

	macrosCmd.AddCommand(listCmd, addCmd, removeCmd, renameCmd)
	return macrosCmd
}

func newMonitorCommand() *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:           "monitor",
		Short:         "Watch the desktop service status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(notify)
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", true, "Show desktop notifications when keyboards disconnect")
	return cmd
}

// runMonitor starts the live view. Only one monitor runs per desktop
// session; a second one asks the first to present itself and exits.
func runMonitor(notify bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	feed := cli.NewFeed()
	presence, err := service.NewPresence(feed.Raise, common.GetLogger())
	if err != nil {
		common.LogWarn("Single instance check skipped: %v", err)
	} else {
		defer presence.Close()
		if err := presence.Claim(); err != nil {
			if !errors.Is(err, common.ErrAlreadyRunning) {
				return err
			}
			if err := presence.Forward(ctx); err != nil {
				return err
			}
			fmt.Println("g15-config is already running; asked it to come to the front.")
			return nil
		}
	}

	a, err := openApp(ctx, appOptions{logOutput: io.Discard, onStatus: feed.Publish})
	if err != nil {
		return err
	}
	defer a.Close()

	var notifier *cli.ServiceNotifier
	if notify {
		notifier = cli.NewServiceNotifier(func(n cli.Notification) { go cli.ShowNotification(n) })
	}
	model := cli.NewMonitor(a.sess, feed, notifier, cli.NewStyles(!cli.IsTerminal(os.Stdout)))
	_, err = tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

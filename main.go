// Package main provides the entry point for g15-config, the configuration
// controller for Logitech G-series keyboards managed by the Gnome15
// desktop service.
//
// Features:
//   - Device selection and driver choice for attached keyboards
//   - Macro profiles with three memory banks of G-key macros
//   - Live desktop service status with desktop notifications
//   - Driver controls such as backlight colour and LCD contrast
//
// Usage:
//
//	g15-config [--device uid] <command>
//
// Environment:
//
//	Settings live in ~/.config/gnome15. The desktop service is reached over
//	the D-Bus session bus; without it every command except stop-service and
//	monitor keeps working against the configuration store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yllada/g15-config/common"
	"github.com/yllada/g15-config/config"
	"github.com/yllada/g15-config/device"
	"github.com/yllada/g15-config/service"
	"github.com/yllada/g15-config/session"
	"github.com/yllada/g15-config/store"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

// Global flags
var (
	rootCmd    *cobra.Command
	configPath string
	deviceUID  string
	verbose    bool
	noService  bool
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "g15-config",
		Short: "Configure Logitech G-series keyboards for Gnome15",
		Long: `g15-config manages the devices, macro profiles and driver settings used by
the Gnome15 desktop service, and shows whether the service is running with
every keyboard connected.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = versionString()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Configuration file (default ~/.config/gnome15/g15-config.yaml)")
	flags.StringVarP(&deviceUID, "device", "d", "", "Device to configure, e.g. g19_0")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&noService, "no-service", false, "Do not connect to the desktop service")
}

func versionString() string {
	if buildTime == "unknown" {
		return appVersion
	}
	return fmt.Sprintf("%s (build %s, commit %s)", appVersion, buildTime, commitSHA)
}

func main() {
	rootCmd.AddCommand(
		newDevicesCommand(),
		newStatusCommand(),
		newMonitorCommand(),
		newProfilesCommand(),
		newMacrosCommand(),
		newEnableCommand(true),
		newEnableCommand(false),
		newControlsCommand(),
		newDriverCommand(),
		newStopServiceCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs: the store, the backend link and a
// running session.
type app struct {
	cfg     *config.Config
	store   *store.Store
	backend *service.DBusBackend
	sess    *session.Session
	cancel  context.CancelFunc
	done    chan error
}

type appOptions struct {
	// logOutput replaces stdout as the console log destination.
	logOutput io.Writer
	onStatus  func(session.Status)
}

// openApp loads the configuration, opens the store, discovers devices and
// starts a session on the selected device.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logLevel := common.ParseLevel(cfg.LogLevel)
	if verbose {
		logLevel = common.LevelDebug
	}
	logOutput := opts.logOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      logLevel,
		EnableFile: cfg.LogToFile,
		Output:     logOutput,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	logger := common.GetLogger()

	cat, err := device.LoadCatalogue(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	discover := device.DiscoverOptions{Virtual: cfg.VirtualDevice, Logger: logger}
	if cfg.HIDDiscovery {
		discover.Enumerator = device.HIDEnumerator{}
	}
	devices := device.Discover(cat, discover)

	storePath, err := cfg.ResolvedStorePath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Options{Path: storePath, Watch: cfg.WatchStore, Logger: logger})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: st}
	var backend service.Backend
	if !noService {
		b, err := service.ConnectDBusBackend(logger)
		if err != nil {
			logger.Warn("Desktop service link unavailable: %v", err)
		} else {
			a.backend = b
			backend = b
		}
	}

	a.sess, err = session.New(session.Options{
		Store:           st,
		Devices:         devices,
		Backend:         backend,
		QueueSize:       cfg.EventQueueSize,
		Logger:          logger,
		OnStatusChanged: opts.onStatus,
	})
	if err != nil {
		a.closeResources()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan error, 1)
	go func() { a.done <- a.sess.Run(runCtx) }()

	if deviceUID != "" {
		if err := a.sess.SelectDevice(ctx, deviceUID); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Close stops the session and releases the store and bus connection.
func (a *app) Close() {
	a.cancel()
	if err := <-a.done; err != nil {
		common.LogWarn("Session ended with error: %v", err)
	}
	a.closeResources()
}

func (a *app) closeResources() {
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			common.LogDebug("Closing bus connection: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		common.LogWarn("Closing store: %v", err)
	}
	common.CloseLogger()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(cancel)
	return ctx, cancel
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

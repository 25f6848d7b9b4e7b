package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "org.gnome15.Configuration"
	// AppName is the display name of the application.
	AppName = "G15 Config"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "gnome15"
)

// File names used by the application.
const (
	ConfigFileName = "g15-config.yaml"
	StoreFileName  = "config.db"
	LogFileName    = "g15-config.log"
)

// StoreRoot is the path every configuration key lives under.
// Device subtrees are <StoreRoot>/<device-uid>/<key>.
const StoreRoot = "/apps/gnome15"

// D-Bus names of the backend service.
const (
	BackendBusName    = "org.gnome15.Gnome15"
	BackendObjectPath = "/org/gnome15/Service"
	ServiceInterface  = "org.gnome15.Service"
	ScreenInterface   = "org.gnome15.Screen"
	ScreenPathPrefix  = "/org/gnome15/Screen/"
)

// D-Bus names of the single-instance presence object.
const (
	PresenceBusName    = "org.gnome15.Configuration"
	PresenceObjectPath = "/org/gnome15/Config"
	PresenceInterface  = "org.gnome15.Config"
)

// Default timeouts and sizes.
const (
	// BusCallTimeout bounds every synchronous call to the backend.
	BusCallTimeout = 5 * time.Second
	// DefaultEventQueueSize is the bound of a session's inbound event queue.
	DefaultEventQueueSize = 64
	// StoreBusyTimeout is how long sqlite waits on a locked database.
	StoreBusyTimeout = 5 * time.Second
)

// MemoryBanks is the number of macro sets (M1, M2, M3) per profile.
const MemoryBanks = 3

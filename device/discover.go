package device

import (
	"fmt"
	"sort"

	"github.com/sstallion/go-hid"

	"github.com/yllada/g15-config/common"
)

// LogitechVendorID is the USB vendor id of every supported keyboard.
const LogitechVendorID uint16 = 0x046d

// HIDInfo is the subset of a HID device description discovery needs.
type HIDInfo struct {
	Path         string
	ProductID    uint16
	Product      string
	Serial       string
	InterfaceNbr int
}

// Enumerator lists attached HID devices of a vendor.
type Enumerator interface {
	Enumerate(vendorID uint16) ([]HIDInfo, error)
}

// HIDEnumerator enumerates devices through hidapi.
type HIDEnumerator struct{}

// Enumerate implements Enumerator.
func (HIDEnumerator) Enumerate(vendorID uint16) ([]HIDInfo, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}
	defer hid.Exit()

	var out []HIDInfo
	err := hid.Enumerate(vendorID, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		out = append(out, HIDInfo{
			Path:         info.Path,
			ProductID:    info.ProductID,
			Product:      info.ProductStr,
			Serial:       info.SerialNbr,
			InterfaceNbr: info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return out, nil
}

// DiscoverOptions controls Discover.
type DiscoverOptions struct {
	// Enumerator is nil when hardware discovery is disabled.
	Enumerator Enumerator
	// Virtual appends the virtual device.
	Virtual bool
	Logger  common.Logger
}

// Discover returns the configurable devices: attached keyboards that map
// to a catalogue model, followed by the virtual device when requested.
// UIDs are "<model>_<n>", numbered per model in path order.
//
// An enumeration failure is logged and yields only the virtual device, so
// a missing hidapi backend never prevents configuring it.
func Discover(cat *Catalogue, opts DiscoverOptions) []Device {
	logger := opts.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	var devices []Device
	if opts.Enumerator != nil {
		infos, err := opts.Enumerator.Enumerate(LogitechVendorID)
		if err != nil {
			logger.Warn("Keyboard discovery failed: %v", err)
		}
		devices = append(devices, fromHID(cat, infos)...)
	}

	if opts.Virtual {
		if m, ok := cat.Model(VirtualModelID); ok {
			devices = append(devices, Device{UID: VirtualModelID, Model: m})
		}
	}
	return devices
}

func fromHID(cat *Catalogue, infos []HIDInfo) []Device {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	// A keyboard exposes several interfaces; the first (lowest numbered)
	// one stands for the whole device.
	counts := make(map[string]int)
	var devices []Device
	for _, info := range infos {
		if info.InterfaceNbr > 0 {
			continue
		}
		model, ok := cat.ByProductID(info.ProductID)
		if !ok {
			continue
		}

		uid := fmt.Sprintf("%s_%d", model.ID, counts[model.ID])
		counts[model.ID]++
		devices = append(devices, Device{UID: uid, Model: model})
	}
	return devices
}

// Find returns the device with uid.
func Find(devices []Device, uid string) (Device, bool) {
	for _, d := range devices {
		if d.UID == uid {
			return d, true
		}
	}
	return Device{}, false
}

package types

import (
	"fmt"
	"strings"
)

// Kind identifies which status endpoint and payload shape a device uses.
type Kind string

const (
	// KindEM is a Gen2+ energy meter (EM/3EM) with per-phase measurements.
	KindEM Kind = "em"
	// KindSwitch is a relay/plug device (e.g. Plus 1PM) reporting a single
	// channel of power/voltage/current.
	KindSwitch Kind = "switch"
)

// Device describes one configured meter.
type Device struct {
	Key  string `toml:"key" json:"key"`
	Name string `toml:"name" json:"name"`
	Host string `toml:"host" json:"host"`
	// MeterID is the component id used for EM.GetStatus/Switch.GetStatus.
	MeterID int  `toml:"meter_id" json:"meterID"`
	Kind    Kind `toml:"kind" json:"kind"`
	Phases  int  `toml:"phases" json:"phases"`
	// SupportsHistory reports whether the device can export historical
	// interval data (EMData CSV). Switch devices are live-only.
	SupportsHistory bool `toml:"supports_history" json:"supportsHistory"`
}

// Normalize fills in defaults and coerces inconsistent fields the same way
// older config files were interpreted.
func (d *Device) Normalize() error {
	d.Key = strings.TrimSpace(d.Key)
	if d.Key == "" {
		return fmt.Errorf("device missing key")
	}
	if d.Name == "" {
		d.Name = d.Key
	}
	if d.Host == "" {
		return fmt.Errorf("device %s missing host", d.Key)
	}
	switch Kind(strings.ToLower(string(d.Kind))) {
	case KindSwitch:
		d.Kind = KindSwitch
	default:
		d.Kind = KindEM
	}
	if d.Kind == KindEM {
		// 3EM exports are always three-phase even if only one phase is wired.
		d.Phases = 3
	} else {
		if d.Phases <= 1 {
			d.Phases = 1
		}
		d.SupportsHistory = false
	}
	return nil
}

// Directory is the ordered, read-only device list for a session.
type Directory struct {
	devices []Device
	byKey   map[string]int
}

// NewDirectory validates and indexes the given devices, preserving order.
func NewDirectory(devices []Device) (*Directory, error) {
	dir := &Directory{
		devices: make([]Device, 0, len(devices)),
		byKey:   make(map[string]int, len(devices)),
	}
	for i := range devices {
		d := devices[i]
		if err := d.Normalize(); err != nil {
			return nil, err
		}
		if _, ok := dir.byKey[d.Key]; ok {
			return nil, fmt.Errorf("duplicate device key: %s", d.Key)
		}
		dir.byKey[d.Key] = len(dir.devices)
		dir.devices = append(dir.devices, d)
	}
	return dir, nil
}

// Devices returns the devices in configured order.
func (dir *Directory) Devices() []Device {
	out := make([]Device, len(dir.devices))
	copy(out, dir.devices)
	return out
}

// Device returns the device with the given key.
func (dir *Directory) Device(key string) (Device, bool) {
	i, ok := dir.byKey[key]
	if !ok {
		return Device{}, false
	}
	return dir.devices[i], true
}

// Len returns the number of configured devices.
func (dir *Directory) Len() int {
	return len(dir.devices)
}

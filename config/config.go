// Package config loads the endpoint-scoped runtime configuration named in
// spec.md §9 ("global mutable state ... captured as an endpoint-scoped
// configuration field"): the listening socket name, wire ring-buffer
// capacity, and id-range grant parameters.
//
// Grounded on the teacher's pkg/od/parser.go, which loads a CANopen EDS
// device-description file with gopkg.in/ini.v1; here the same library
// loads a much smaller wlcored.ini instead of a device description.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config is the parsed contents of a wlcored.ini file.
type Config struct {
	// SocketName is passed to server.Display.AddSocket (or resolved as
	// WAYLAND_DISPLAY on the client side).
	SocketName string
	// RingCapacity sizes every wire.Conn's inbound/outbound ring buffers.
	RingCapacity int
	// RangeSize is the id count granted per range event (spec §4.7).
	RangeSize uint32
	// LowWatermark is the remaining-id threshold that triggers a refill.
	LowWatermark uint32
	// HTTPAddr, if non-empty, is the loopback address the introspect
	// package's debug server listens on (empty disables it).
	HTTPAddr string
}

// Defaults mirrors the hardcoded fallbacks endpoint/server.New otherwise
// applies, so a file missing a key behaves the same as not loading a
// config file at all.
func Defaults() Config {
	return Config{
		SocketName:   "wayland-0",
		RingCapacity: 4096,
		RangeSize:    256,
		LowWatermark: 64,
	}
}

// Load reads and parses path, filling in any field a [section] left out
// from Defaults(). An explicitly empty socket name or an out-of-range
// watermark (>= range size, which would make every new-id trigger an
// immediate refill) is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	section := file.Section("server")
	if section.HasKey("socket") {
		cfg.SocketName = section.Key("socket").String()
	}
	cfg.RingCapacity = section.Key("ring_capacity").MustInt(cfg.RingCapacity)
	cfg.RangeSize = uint32(section.Key("range_size").MustUint(uint(cfg.RangeSize)))
	cfg.LowWatermark = uint32(section.Key("low_watermark").MustUint(uint(cfg.LowWatermark)))
	cfg.HTTPAddr = file.Section("introspect").Key("addr").MustString(cfg.HTTPAddr)

	if cfg.SocketName == "" {
		return Config{}, fmt.Errorf("config: %s: socket name must not be empty", path)
	}
	if cfg.LowWatermark >= cfg.RangeSize {
		return Config{}, fmt.Errorf("config: %s: low_watermark (%d) must be less than range_size (%d)", path, cfg.LowWatermark, cfg.RangeSize)
	}
	return cfg, nil
}

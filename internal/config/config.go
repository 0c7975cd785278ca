// Package config loads the daemon's TOML configuration file into the
// structures the rest of the daemon consumes to build a Hub and its
// transports.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/ids"
)

// Active is a GPIO line's active-level polarity.
type Active string

const (
	ActiveNormal   Active = "normal"
	ActiveInverted Active = "inverted"
)

// Bias is a GPIO line's pull resistor configuration.
type Bias string

const (
	BiasNone Bias = "none"
	BiasPullUp Bias = "pull-up"
	BiasPullDown Bias = "pull-down"
)

// Drive is a GPIO output line's drive mode.
type Drive string

const (
	DrivePushPull   Drive = "push-pull"
	DriveOpenDrain  Drive = "open-drain"
	DriveOpenSource Drive = "open-source"
)

// LineConfig is the GPIO line configuration shared by buttons and LEDs.
type LineConfig struct {
	Chip   string `toml:"chip"`
	Line   uint32 `toml:"line"`
	Active Active `toml:"active,omitempty"`
	Bias   Bias   `toml:"bias,omitempty"`
}

// ButtonConfig additionally carries a drive mode, since a button is an
// output line.
type ButtonConfig struct {
	LineConfig
	Drive Drive `toml:"drive,omitempty"`
}

// HidConfig names the keyboard and mouse HID gadget device files.
type HidConfig struct {
	Keyboard string `toml:"keyboard,omitempty"`
	Mouse    string `toml:"mouse,omitempty"`
}

// VideoConfig describes the V4L2 capture device and target resolution.
type VideoConfig struct {
	Device string `toml:"device"`
	Width  uint32 `toml:"width,omitempty"`
	Height uint32 `toml:"height,omitempty"`
}

const (
	defaultVideoWidth  = 1920
	defaultVideoHeight = 1080
)

// ServerConfig is the root of the TOML config file.
type ServerConfig struct {
	Binds   []bindaddr.Bind                `toml:"binds,omitempty"`
	Buttons map[ids.ButtonId]ButtonConfig `toml:"buttons,omitempty"`
	Leds    map[ids.LedId]LineConfig      `toml:"leds,omitempty"`
	Hid     *HidConfig                     `toml:"hid,omitempty"`
	Video   *VideoConfig                   `toml:"video,omitempty"`
}

// FromFile reads and parses the TOML config at path.
func FromFile(path string) (*ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg ServerConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// go-toml does not call Bind.UnmarshalTOML, so decode [[binds]] as plain
	// tables and hand each one to it.
	var rawBinds struct {
		Binds []map[string]any `toml:"binds"`
	}
	if err := toml.Unmarshal(raw, &rawBinds); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Binds = make([]bindaddr.Bind, len(rawBinds.Binds))
	for i, m := range rawBinds.Binds {
		if err := cfg.Binds[i].UnmarshalTOML(m); err != nil {
			return nil, fmt.Errorf("config: %s: binds[%d]: %w", path, i, err)
		}
	}

	if cfg.Video != nil {
		if cfg.Video.Width == 0 {
			cfg.Video.Width = defaultVideoWidth
		}
		if cfg.Video.Height == 0 {
			cfg.Video.Height = defaultVideoHeight
		}
	}

	return &cfg, nil
}

// Package config handles configuration loading and validation for glide.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chronologos/glide/internal/handshake"
	"github.com/chronologos/glide/internal/protocol"
	"github.com/chronologos/glide/internal/screen"
	"github.com/chronologos/glide/internal/switcher"
	"github.com/chronologos/glide/internal/topology"
	"github.com/chronologos/glide/internal/transport"
)

// ScreenConfig declares one screen. Width and height are optional; they
// stand in for a remote screen's size until its client reports one.
type ScreenConfig struct {
	Name   string `yaml:"name"`
	Local  bool   `yaml:"local"`
	Width  int32  `yaml:"width,omitempty"`
	Height int32  `yaml:"height,omitempty"`
}

// OptionsConfig maps onto the options sent to every client and the rules
// for when an edge crossing switches screens.
type OptionsConfig struct {
	RelativeMoves    bool `yaml:"relative_moves"`
	ScreenSaverSync  bool `yaml:"screensaver_sync"`
	ClipboardSharing bool `yaml:"clipboard_sharing"`

	SwitchDelay      string   `yaml:"switch_delay,omitempty"`      // Duration string, e.g. "250ms"
	SwitchDoubleTap  string   `yaml:"switch_double_tap,omitempty"` // Duration string
	SwitchCorners    []string `yaml:"switch_corners,omitempty"`    // e.g. [top-left, bottom-right]
	SwitchCornerSize int32    `yaml:"switch_corner_size,omitempty"`
	SwitchNeedsShift bool     `yaml:"switch_needs_shift"`
	SwitchNeedsCtrl  bool     `yaml:"switch_needs_control"`
	SwitchNeedsAlt   bool     `yaml:"switch_needs_alt"`
}

// HotkeyConfig binds a chord such as "ctrl+alt+right" to an action:
// "lock", "switch_to" (with screen) or "switch_in_direction" (with
// direction).
type HotkeyConfig struct {
	Keys      string `yaml:"keys"`
	Action    string `yaml:"action"`
	Screen    string `yaml:"screen,omitempty"`
	Direction string `yaml:"direction,omitempty"`
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Listen           string                       `yaml:"listen"`
	Transport        string                       `yaml:"transport"`         // tcp, quic or dual
	Metrics          string                       `yaml:"metrics"`           // metrics listen address, empty to disable
	KeepAlive        string                       `yaml:"keepalive"`         // Duration string, e.g. "3s"
	HandshakeTimeout string                       `yaml:"handshake_timeout"` // Duration string, e.g. "5s"
	ZoneSize         int32                        `yaml:"zone_size"`
	Screens          []ScreenConfig               `yaml:"screens"`
	Links            map[string]map[string]string `yaml:"links"` // screen -> direction -> neighbor
	Options          OptionsConfig                `yaml:"options"`
	Hotkeys          []HotkeyConfig               `yaml:"hotkeys"`
	Width            int32                        `yaml:"width"`  // headless local screen size
	Height           int32                        `yaml:"height"` // headless local screen size
}

// ClientConfig holds configuration for a client.
type ClientConfig struct {
	Name             string `yaml:"name"`
	Server           string `yaml:"server"`
	Transport        string `yaml:"transport"`
	Minor            *int   `yaml:"protocol_minor,omitempty"` // default: newest
	Legacy           bool   `yaml:"legacy_login"`
	KeepAlive        string `yaml:"keepalive"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	ReconnectDelay   string `yaml:"reconnect_delay"`
	Width            int32  `yaml:"width"`  // headless screen size
	Height           int32  `yaml:"height"` // headless screen size
}

func defaultListen() string { return fmt.Sprintf(":%d", protocol.DefaultPort) }

// LoadServerConfig loads server configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadClientConfig loads client configuration from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func load(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// ApplyDefaults fills in unset fields. It is safe to call again after
// flags have overridden some of them.
func (c *ServerConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen()
	}
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	if c.KeepAlive == "" {
		c.KeepAlive = protocol.DefaultKeepAliveInterval.String()
	}
	if c.HandshakeTimeout == "" {
		c.HandshakeTimeout = handshake.DefaultTimeout.String()
	}
	if c.ZoneSize == 0 {
		c.ZoneSize = topology.DefaultZoneSize
	}
	if c.Width == 0 {
		c.Width = 1920
	}
	if c.Height == 0 {
		c.Height = 1080
	}
}

// ApplyDefaults fills in unset fields and appends the default port to a
// bare server host.
func (c *ClientConfig) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	if c.Server != "" && !strings.Contains(c.Server, ":") {
		c.Server = fmt.Sprintf("%s:%d", c.Server, protocol.DefaultPort)
	}
	if c.KeepAlive == "" {
		c.KeepAlive = protocol.DefaultKeepAliveInterval.String()
	}
	if c.HandshakeTimeout == "" {
		c.HandshakeTimeout = handshake.DefaultTimeout.String()
	}
	if c.ReconnectDelay == "" {
		c.ReconnectDelay = "1s"
	}
	if c.Width == 0 {
		c.Width = 1920
	}
	if c.Height == 0 {
		c.Height = 1080
	}
}

// Validate checks the server configuration, including that the screens
// and links form a usable topology.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if _, err := transport.ParseMode(c.Transport); err != nil {
		return fmt.Errorf("invalid transport: %w", err)
	}
	if _, err := positive("keepalive", c.KeepAlive); err != nil {
		return err
	}
	if _, err := positive("handshake_timeout", c.HandshakeTimeout); err != nil {
		return err
	}
	if _, err := c.Topology(); err != nil {
		return err
	}
	if _, err := c.HotkeySet(); err != nil {
		return err
	}
	if _, err := c.SwitchOptions(); err != nil {
		return err
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > 32767 || c.Height > 32767 {
		return fmt.Errorf("screen size %dx%d out of range", c.Width, c.Height)
	}
	return nil
}

// Topology builds the declared screens and links. The local screen's size
// is filled in from its backend later; remote sizes come from clients,
// with the configured size used until then.
func (c *ServerConfig) Topology() (*topology.Topology, error) {
	t := topology.New()
	t.SetZoneSize(c.ZoneSize)
	locals := 0
	for _, s := range c.Screens {
		if !s.Local && !handshake.ValidName(s.Name) {
			return nil, fmt.Errorf("screen %q: name must be 1-%d letters or digits", s.Name, protocol.MaxNameLength)
		}
		if s.Width < 0 || s.Height < 0 || s.Width > 32767 || s.Height > 32767 {
			return nil, fmt.Errorf("screen %q: size %dx%d out of range", s.Name, s.Width, s.Height)
		}
		if _, err := t.AddScreen(s.Name, s.Width, s.Height, s.Local); err != nil {
			return nil, fmt.Errorf("screen %q: %w", s.Name, err)
		}
		if s.Local {
			locals++
		}
	}
	if locals != 1 {
		return nil, fmt.Errorf("exactly one local screen is required, found %d", locals)
	}
	for src, sides := range c.Links {
		for side, dst := range sides {
			dir, err := topology.ParseDirection(side)
			if err != nil {
				return nil, fmt.Errorf("links.%s: %w", src, err)
			}
			if err := t.ConnectEdge(src, dir, dst); err != nil {
				return nil, fmt.Errorf("links.%s.%s: %w", src, side, err)
			}
		}
	}
	return t, nil
}

// HotkeySet parses the hotkey bindings.
func (c *ServerConfig) HotkeySet() (*switcher.Hotkeys, error) {
	h := switcher.NewHotkeys()
	for i, hk := range c.Hotkeys {
		key, mask, err := switcher.ParseChord(hk.Keys)
		if err != nil {
			return nil, fmt.Errorf("hotkeys[%d]: %w", i, err)
		}
		b := switcher.Binding{Key: key, Mask: mask, Screen: hk.Screen}
		switch hk.Action {
		case "lock":
			b.Action = switcher.HotkeyLockToggle
		case "switch_to":
			if hk.Screen == "" {
				return nil, fmt.Errorf("hotkeys[%d]: switch_to needs a screen", i)
			}
			b.Action = switcher.HotkeySwitchToScreen
		case "switch_in_direction":
			b.Direction, err = topology.ParseDirection(hk.Direction)
			if err != nil {
				return nil, fmt.Errorf("hotkeys[%d]: %w", i, err)
			}
			b.Action = switcher.HotkeySwitchInDirection
		default:
			return nil, fmt.Errorf("hotkeys[%d]: unknown action %q", i, hk.Action)
		}
		h.Bind(b)
	}
	return h, nil
}

// SwitchOptions returns the switching options.
func (c *ServerConfig) SwitchOptions() (switcher.Options, error) {
	o := c.Options
	opts := switcher.Options{
		RelativeMoves:    o.RelativeMoves,
		ScreenSaverSync:  o.ScreenSaverSync,
		ClipboardSharing: o.ClipboardSharing,
		CornerSize:       o.SwitchCornerSize,
	}
	var err error
	if opts.SwitchDelay, err = optional("switch_delay", o.SwitchDelay); err != nil {
		return switcher.Options{}, err
	}
	if opts.SwitchTwoTap, err = optional("switch_double_tap", o.SwitchDoubleTap); err != nil {
		return switcher.Options{}, err
	}
	if opts.Corners, err = switcher.ParseCorners(o.SwitchCorners); err != nil {
		return switcher.Options{}, fmt.Errorf("switch_corners: %w", err)
	}
	if o.SwitchCornerSize < 0 {
		return switcher.Options{}, fmt.Errorf("switch_corner_size must not be negative")
	}
	if o.SwitchNeedsShift {
		opts.SwitchNeeds |= screen.ModShift
	}
	if o.SwitchNeedsCtrl {
		opts.SwitchNeeds |= screen.ModControl
	}
	if o.SwitchNeedsAlt {
		opts.SwitchNeeds |= screen.ModAlt
	}
	return opts, nil
}

// KeepAliveInterval returns the parsed keep-alive interval.
func (c *ServerConfig) KeepAliveInterval() time.Duration {
	d, _ := time.ParseDuration(c.KeepAlive)
	return d
}

// HandshakeTimeoutDuration returns the parsed handshake timeout.
func (c *ServerConfig) HandshakeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.HandshakeTimeout)
	return d
}

// Validate checks the client configuration.
func (c *ClientConfig) Validate() error {
	if !handshake.ValidName(c.Name) {
		return fmt.Errorf("name %q must be 1-%d letters or digits", c.Name, protocol.MaxNameLength)
	}
	if c.Server == "" {
		return errors.New("server is required")
	}
	if _, err := transport.ParseMode(c.Transport); err != nil {
		return fmt.Errorf("invalid transport: %w", err)
	}
	if c.Minor != nil && (*c.Minor < 0 || *c.Minor > protocol.MinorVersion) {
		return fmt.Errorf("protocol_minor must be between 0 and %d", protocol.MinorVersion)
	}
	for _, f := range []struct{ name, value string }{
		{"keepalive", c.KeepAlive},
		{"handshake_timeout", c.HandshakeTimeout},
		{"reconnect_delay", c.ReconnectDelay},
	} {
		if _, err := positive(f.name, f.value); err != nil {
			return err
		}
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > 32767 || c.Height > 32767 {
		return fmt.Errorf("screen size %dx%d out of range", c.Width, c.Height)
	}
	return nil
}

// RequestedMinor returns the minor version to request, -1 for the newest.
func (c *ClientConfig) RequestedMinor() int {
	if c.Minor == nil {
		return -1
	}
	return *c.Minor
}

// Durations returns the parsed keep-alive, handshake timeout and reconnect
// delay.
func (c *ClientConfig) Durations() (keepAlive, handshakeTimeout, reconnect time.Duration) {
	keepAlive, _ = time.ParseDuration(c.KeepAlive)
	handshakeTimeout, _ = time.ParseDuration(c.HandshakeTimeout)
	reconnect, _ = time.ParseDuration(c.ReconnectDelay)
	return
}

// optional parses a duration that may be left empty, meaning zero.
func optional(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func positive(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

// Package config loads optional session-wide defaults from a YAML file,
// overlaying them onto the built-in defaults the same way
// internal/daemon/project.go's loadInRepoConfig overlays grove.yaml onto a
// project registration: every field is optional, and only a field actually
// present in the file overrides the built-in default.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RedrawMethod mirrors wire.Redraw* but is spelled out for readability in
// the YAML file.
type RedrawMethod string

const (
	RedrawNone  RedrawMethod = "none"
	RedrawCtrlL RedrawMethod = "ctrl_l"
	RedrawWinch RedrawMethod = "winch"
)

// Defaults holds session-wide defaults that flags can still override.
type Defaults struct {
	// SocketDir is loaded and overlaid like the other fields, but no code
	// reads it: socket paths given on the command line are used as given,
	// and a bare session name is not resolved into this directory.
	SocketDir string `yaml:"socket_dir"`

	// Redraw is the default redraw method applied when an attaching
	// client sends REDRAW with method=unspecified (spec.md §3, §4.4).
	Redraw RedrawMethod `yaml:"redraw"`

	// WaitAttach is the default for the wait-for-attach flag (spec.md §3).
	WaitAttach bool `yaml:"wait_attach"`

	// ClientQueue is the bounded per-client fan-out queue depth
	// (SPEC_FULL.md's high-water-mark addition to spec.md §9).
	ClientQueue int `yaml:"client_queue"`

	// DropLimit is how many consecutive full-queue pty reads a stalled
	// client tolerates before the master disconnects it.
	DropLimit int `yaml:"drop_limit"`
}

// Default returns the built-in defaults used when no config file exists.
func Default() Defaults {
	return Defaults{
		SocketDir:   defaultSocketDir(),
		Redraw:      RedrawCtrlL,
		WaitAttach:  false,
		ClientQueue: 256,
		DropLimit:   8,
	}
}

func defaultSocketDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".hitch")
	}
	return os.TempDir()
}

// Path resolves the config file location: $HITCH_CONFIG if set, otherwise
// ~/.config/hitch/config.yaml.
func Path() string {
	if p := os.Getenv("HITCH_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hitch", "config.yaml")
}

// Load reads and overlays the config file at Path() onto Default(). A
// missing file is not an error; the built-in defaults are returned as-is.
func Load() (Defaults, error) {
	d := Default()
	path := Path()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, err
	}

	var overlay Defaults
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return d, err
	}

	if overlay.SocketDir != "" {
		d.SocketDir = overlay.SocketDir
	}
	if overlay.Redraw != "" {
		d.Redraw = overlay.Redraw
	}
	if overlay.ClientQueue > 0 {
		d.ClientQueue = overlay.ClientQueue
	}
	if overlay.DropLimit > 0 {
		d.DropLimit = overlay.DropLimit
	}
	// WaitAttach has no "unset" sentinel distinct from false, so only a
	// true value in the file overlays the default; a false value in the
	// file has no effect.
	if overlay.WaitAttach {
		d.WaitAttach = true
	}

	return d, nil
}

// Byte maps a RedrawMethod to its wire.Redraw* byte constant. It
// lives here rather than in internal/wire to keep that package free of a
// config-layer dependency.
func (m RedrawMethod) Byte() byte {
	switch m {
	case RedrawNone:
		return 1
	case RedrawWinch:
		return 3
	default:
		return 2 // RedrawCtrlL
	}
}

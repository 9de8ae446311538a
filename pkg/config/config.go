package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/levenlabs/go-lflag"
	"github.com/metergrid/metergrid/pkg/types"
)

// File is the on-disk TOML configuration: the ordered device directory plus
// download and live-polling settings.
type File struct {
	Devices  []types.Device       `toml:"devices"`
	Download types.DownloadConfig `toml:"download"`
	Live     types.LiveConfig     `toml:"live"`
}

// Config is the validated runtime configuration for one session. The device
// directory is read-only for the lifetime of the session; changing it
// requires a restart.
type Config struct {
	Directory *types.Directory
	Download  types.DownloadConfig
	Live      types.LiveConfig
	// DataDir is the resolved storage root, determined once at startup.
	DataDir string
}

// Configured registers the configuration flags and loads the config file
// inside lflag.Do. Call lflag.Configure() in main before using the result.
func Configured() *Config {
	cfg := &Config{}
	path := lflag.String("config", "metergrid.toml", "Path to the TOML config file (created with defaults if missing)")
	dataDir := lflag.String("data-dir", "data", "Root directory for per-device chunk files")

	lflag.Do(func() {
		loaded, err := Load(*path)
		if err != nil {
			panic(fmt.Sprintf("config load failed: %v", err))
		}
		*cfg = *loaded
		abs, err := filepath.Abs(*dataDir)
		if err != nil {
			panic(fmt.Sprintf("resolving data dir: %v", err))
		}
		cfg.DataDir = abs
	})
	return cfg
}

// Load reads the config file, writing a commented default file first when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	}

	var f File
	f.Download = types.DefaultDownloadConfig()
	f.Live = types.DefaultLiveConfig()
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	dir, err := types.NewDirectory(f.Devices)
	if err != nil {
		return nil, fmt.Errorf("invalid device directory: %w", err)
	}
	return &Config{
		Directory: dir,
		Download:  f.Download,
		Live:      f.Live,
	}, nil
}

func writeDefault(path string) error {
	f := File{
		Devices: []types.Device{
			{Key: "meter1", Name: "House", Host: "192.168.1.50", Kind: types.KindEM, Phases: 3, SupportsHistory: true},
		},
		Download: types.DefaultDownloadConfig(),
		Live:     types.DefaultLiveConfig(),
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return toml.NewEncoder(out).Encode(f)
}

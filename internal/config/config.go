// Package config loads and saves the TOML configuration that drives a scan:
// input mode, VRAM base, concurrency, name lists, and the optional
// live-progress and TUI surfaces.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the full set of knobs a scan run can be configured with.
type Config struct {
	Input struct {
		Mode        string `toml:"mode"` // "rom" or "binary"
		RegionStart uint32 `toml:"region_start"`
		RegionEnd   uint32 `toml:"region_end"`
		VRAMBase    uint32 `toml:"vram_base"` // binary mode only; rom mode derives it from IPL3
		ObjectsDir  string `toml:"objects_dir"`
	} `toml:"input"`

	Matching struct {
		MaxWorkers      int  `toml:"max_workers"` // stored and saved only; the coordinator processes objects one at a time
		RunDisambiguate bool `toml:"run_disambiguate"`
	} `toml:"matching"`

	NameList struct {
		HandwrittenFiles []string `toml:"handwritten_files"`
		GenericFiles     []string `toml:"generic_files"`
		AmbiguousByName  []string `toml:"ambiguous_by_name"`
	} `toml:"namelist"`

	Report struct {
		Format     string `toml:"format"` // "text" or "splat"
		OutputFile string `toml:"output_file"`
	} `toml:"report"`

	Logging struct {
		JSONFile string `toml:"json_file"` // empty disables the JSON sink
		Level    string `toml:"level"`     // debug, info, warn, error
	} `toml:"logging"`

	LiveAPI struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"live_api"`

	TUI struct {
		Enabled bool `toml:"enabled"`
	} `toml:"tui"`
}

// DefaultConfig returns a configuration usable with no file present at all.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Mode = "rom"
	cfg.Input.RegionStart = 0x1000
	cfg.Input.RegionEnd = 0x101000

	cfg.Matching.MaxWorkers = 0
	cfg.Matching.RunDisambiguate = false

	cfg.Report.Format = "text"

	cfg.Logging.Level = "info"

	cfg.LiveAPI.Addr = ":8787"

	return cfg
}

// GetConfigPath returns the platform-specific default config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "stencilscan")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "stencilscan")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, falling back to defaults if the
// file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path, creating parent directories as needed.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}

	f, err := os.Create(path) // #nosec G304 -- user-supplied config file path
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	return nil
}

// Package config loads pyistub settings from defaults, a TOML config file,
// and PYISTUB_* environment variables, and reads crate metadata for the
// default module name.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "pyistub"
	// FileName is the config file looked up in the crate root.
	FileName = "pyistub.toml"
	// EnvPrefix prefixes environment overrides, e.g. PYISTUB_MODULE_NAME.
	EnvPrefix = "PYISTUB"

	// DefaultMaxFileSize skips files larger than 1 MB.
	DefaultMaxFileSize = 1_000_000
)

// Config holds generation settings.
type Config struct {
	// ModuleName is used for units whose #[pymodule] has no name override.
	ModuleName string `mapstructure:"module_name" toml:"module_name"`
	// Out is the project root stubs are written under; "-" means stdout.
	Out          string   `mapstructure:"out" toml:"out"`
	Exclude      []string `mapstructure:"exclude" toml:"exclude"`
	IncludeTests bool     `mapstructure:"include_tests" toml:"include_tests"`
	MaxFileSize  int      `mapstructure:"max_file_size" toml:"max_file_size"`
	Sort         bool     `mapstructure:"sort" toml:"sort"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Out:         "",
		Exclude:     []string{},
		MaxFileSize: DefaultMaxFileSize,
		Sort:        true,
	}
}

// Load reads configuration for the crate at root. If path is empty,
// root/pyistub.toml is used when present. It returns the loaded config and
// the config file actually read ("" if none).
func Load(root, path string) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	defaults := Default()
	v.SetDefault("module_name", defaults.ModuleName)
	v.SetDefault("out", defaults.Out)
	v.SetDefault("exclude", defaults.Exclude)
	v.SetDefault("include_tests", defaults.IncludeTests)
	v.SetDefault("max_file_size", defaults.MaxFileSize)
	v.SetDefault("sort", defaults.Sort)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved := ""
	if path != "" {
		if !fileExists(path) {
			return nil, "", fmt.Errorf("config file not found: %s", path)
		}
		resolved = path
	} else if local := filepath.Join(root, FileName); fileExists(local) {
		resolved = local
	}

	if resolved != "" {
		v.SetConfigFile(resolved)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", resolved, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, "", fmt.Errorf("max_file_size must be positive, got %d", cfg.MaxFileSize)
	}

	return &cfg, resolved, nil
}

// Encode renders cfg as TOML, for `pyistub init`.
func Encode(cfg Config) (string, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(data), nil
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Lib struct {
		Name string `toml:"name"`
	} `toml:"lib"`
}

type pyprojectManifest struct {
	Tool struct {
		Maturin struct {
			ModuleName string `toml:"module-name"`
		} `toml:"maturin"`
	} `toml:"tool"`
}

// CrateModuleName derives the Python module name from crate metadata under
// root: maturin's tool.maturin.module-name in pyproject.toml, else the
// Cargo.toml [lib] name, else the package name with dashes as underscores.
// It returns "" without error when no metadata names a module.
func CrateModuleName(root string) (string, error) {
	var py pyprojectManifest
	found, err := readTOML(filepath.Join(root, "pyproject.toml"), &py)
	if err != nil {
		return "", err
	}
	if found && py.Tool.Maturin.ModuleName != "" {
		return py.Tool.Maturin.ModuleName, nil
	}

	var cargo cargoManifest
	found, err = readTOML(filepath.Join(root, "Cargo.toml"), &cargo)
	if err != nil || !found {
		return "", err
	}
	if cargo.Lib.Name != "" {
		return cargo.Lib.Name, nil
	}
	return strings.ReplaceAll(cargo.Package.Name, "-", "_"), nil
}

func readTOML(path string, into any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the directory name used under the user config dir.
	AppName = "wsgi-image"

	// ConfigFileName is the config file looked up in ConfigDir.
	ConfigFileName = "wsgi-image.yaml"

	// EnvPrefix prefixes every environment override, e.g. WSGI_IMAGE_TAG.
	EnvPrefix = "WSGI_IMAGE"
)

// Configuration keys.
const (
	KeyRecipe       = "recipe"
	KeyTag          = "tag"
	KeyContext      = "context"
	KeyNoCache      = "no_cache"
	KeyPull         = "pull"
	KeyStartTimeout = "start_timeout"
	KeyKeep         = "keep"
	KeyPython       = "python"
	KeyHost         = "host"
)

// Config holds resolved settings for one invocation.
type Config struct {
	// Recipe is the recipe file path. Empty means search the context dir.
	Recipe string `mapstructure:"recipe"`

	// Tag is applied to a successful build. Empty means "<recipe name>:latest".
	Tag string `mapstructure:"tag"`

	// Context is the application source tree sent to the builder.
	Context string `mapstructure:"context"`

	NoCache bool `mapstructure:"no_cache"`
	Pull    bool `mapstructure:"pull"`

	// StartTimeout bounds how long "run" waits for the supervisor to listen.
	StartTimeout time.Duration `mapstructure:"start_timeout"`

	// Keep leaves the supervisor running after "run" reports it ready.
	Keep bool `mapstructure:"keep"`

	// Python is the interpreter used by the entry-point probe.
	Python string `mapstructure:"python"`

	// Host is the loopback address supervisors are published on.
	Host string `mapstructure:"host"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Context:      ".",
		StartTimeout: 60 * time.Second,
		Python:       "python",
		Host:         "127.0.0.1",
	}
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFilePath is an explicit config file. It must exist.
	ConfigFilePath string

	// ConfigDirPath overrides ConfigDir for the implicit config file.
	ConfigDirPath string

	// Flags are bound by key; only flags the user set override lower layers.
	Flags *pflag.FlagSet
}

// flagNames maps configuration keys to their command-line flag names.
var flagNames = map[string]string{
	KeyRecipe:       "recipe",
	KeyTag:          "tag",
	KeyContext:      "context",
	KeyNoCache:      "no-cache",
	KeyPull:         "pull",
	KeyStartTimeout: "start-timeout",
	KeyKeep:         "keep",
	KeyPython:       "python",
	KeyHost:         "host",
}

// ConfigDir returns the per-user configuration directory for wsgi-image.
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves configuration. It returns the config and the path of the
// file that was read, or "" when none was.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault(KeyRecipe, defaults.Recipe)
	v.SetDefault(KeyTag, defaults.Tag)
	v.SetDefault(KeyContext, defaults.Context)
	v.SetDefault(KeyNoCache, defaults.NoCache)
	v.SetDefault(KeyPull, defaults.Pull)
	v.SetDefault(KeyStartTimeout, defaults.StartTimeout)
	v.SetDefault(KeyKeep, defaults.Keep)
	v.SetDefault(KeyPython, defaults.Python)
	v.SetDefault(KeyHost, defaults.Host)

	resolvedPath, err := readConfigFile(v, opts)
	if err != nil {
		return nil, "", err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key, name := range flagNames {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolvedPath, nil
}

// readConfigFile merges the explicit or implicit config file into v.
func readConfigFile(v *viper.Viper, opts LoadOptions) (string, error) {
	path := opts.ConfigFilePath
	if path == "" {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return "", err
			}
		}
		path = filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
	} else if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("config file not found: %s", path)
	}

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return path, nil
}

func (c *Config) validate() error {
	if c.StartTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", KeyStartTimeout, c.StartTimeout)
	}
	if c.Context == "" {
		return fmt.Errorf("%s must not be empty", KeyContext)
	}
	return nil
}

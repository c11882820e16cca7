package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	dserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/localfs"
)

// EnvPrefix prefixes every settings environment variable.
const EnvPrefix = "VAULTSYNC"

// keyDelimiter lets backend identifiers such as aws.secretsmanager be
// settings keys.
const keyDelimiter = "::"

// Settings are the tool's own options, as opposed to the Configuration
// Document of tracked items.
type Settings struct {
	Backend      string                            `mapstructure:"backend"`
	ConfigPath   string                            `mapstructure:"config"`
	StateDir     string                            `mapstructure:"state_dir"`
	Offline      bool                              `mapstructure:"offline"`
	Timeout      time.Duration                     `mapstructure:"timeout"`
	Workers      int                               `mapstructure:"workers"`
	SessionStore string                            `mapstructure:"session_store"`
	MetricsFile  string                            `mapstructure:"metrics_file"`
	Backends     map[string]map[string]interface{} `mapstructure:"backends"`
	Discovery    DiscoverySettings                 `mapstructure:"discovery"`

	// File is the settings file that was read, if any.
	File string `mapstructure:"-"`
}

// DiscoverySettings extend or replace the built-in scan candidates.
type DiscoverySettings struct {
	DisableDefaults bool               `mapstructure:"disable_defaults"`
	Candidates      []CandidateSetting `mapstructure:"candidates"`
}

// CandidateSetting is one extra location to scan.
type CandidateSetting struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
	Kind    string `mapstructure:"kind"`
}

// DefaultSettingsPath returns ~/.config/vaultsync/settings.yaml, honoring
// XDG_CONFIG_HOME.
func DefaultSettingsPath() string {
	return filepath.Join(configHome(), "vaultsync", "settings.yaml")
}

// DefaultDocumentPath returns ~/.config/vaultsync/secrets.yaml, honoring
// XDG_CONFIG_HOME.
func DefaultDocumentPath() string {
	return filepath.Join(configHome(), "vaultsync", "secrets.yaml")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config"
	}
	return filepath.Join(home, ".config")
}

// NewViper returns a viper instance with vaultsync defaults and
// VAULTSYNC_* environment binding. Commands bind their flags to it.
func NewViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetDefault("backend", "bitwarden")
	v.SetDefault("config", DefaultDocumentPath())
	v.SetDefault("state_dir", "")
	v.SetDefault("offline", false)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("workers", 4)
	v.SetDefault("session_store", "file")
	v.SetDefault("metrics_file", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the settings file into v and decodes the result. An
// empty path uses DefaultSettingsPath and tolerates its absence; an explicit
// path must exist.
func LoadSettings(v *viper.Viper, path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultSettingsPath()
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, dserrors.ConfigError{
				Field:      "settings",
				Value:      path,
				Message:    fmt.Sprintf("cannot read settings: %v", err),
				Suggestion: "Check the file exists and is valid YAML",
			}
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, dserrors.ConfigError{
			Field:   "settings",
			Value:   path,
			Message: fmt.Sprintf("cannot decode settings: %v", err),
		}
	}
	s.File = file

	var err error
	if s.ConfigPath, err = localfs.ExpandHome(s.ConfigPath); err != nil {
		return nil, err
	}
	if s.StateDir, err = localfs.ExpandHome(s.StateDir); err != nil {
		return nil, err
	}
	if s.MetricsFile, err = localfs.ExpandHome(s.MetricsFile); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ranges the decoder cannot.
func (s *Settings) Validate() error {
	if s.Backend == "" {
		return dserrors.ConfigError{
			Field:      "backend",
			Message:    "no backend selected",
			Suggestion: "Set VAULTSYNC_BACKEND or backend: in settings.yaml",
		}
	}
	if s.Workers < 1 {
		return dserrors.ConfigError{Field: "workers", Value: s.Workers, Message: "must be at least 1"}
	}
	if s.Timeout <= 0 {
		return dserrors.ConfigError{Field: "timeout", Value: s.Timeout, Message: "must be positive", Suggestion: "e.g. timeout: 30s"}
	}
	switch s.SessionStore {
	case "file", "keyring":
	default:
		return dserrors.ConfigError{
			Field:      "session_store",
			Value:      s.SessionStore,
			Message:    "unknown session store",
			Suggestion: "Use file or keyring",
		}
	}
	return nil
}

// BackendOptions returns the settings block for a backend, or an empty map.
// Keys are lower-cased by the settings loader.
func (s *Settings) BackendOptions(name string) map[string]interface{} {
	if opts, ok := s.Backends[strings.ToLower(name)]; ok && opts != nil {
		return opts
	}
	return map[string]interface{}{}
}

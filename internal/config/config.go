// Package config loads command configuration from defaults, an optional TOML
// file and STREAMS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"xdao.co/streams/internal/logging"
	"xdao.co/streams/keys"
	"xdao.co/streams/scenario"
)

// EnvConfig names the variable holding an explicit config file path.
const EnvConfig = "STREAMS_CONFIG"

// Config holds command configuration.
type Config struct {
	Author   AuthorConfig   `mapstructure:"author"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Log      LogConfig      `mapstructure:"log"`
	Scenario ScenarioConfig `mapstructure:"scenario"`
}

// AuthorConfig describes the identity a command acts as.
type AuthorConfig struct {
	Seed           string `mapstructure:"seed"`
	Scheme         string `mapstructure:"scheme"`
	MultiBranching bool   `mapstructure:"multi_branching"`
}

// LedgerConfig selects a ledger. File, when set, points at a multi-backend
// ledger description and wins over Backend.
type LedgerConfig struct {
	Backend string            `mapstructure:"backend"`
	File    string            `mapstructure:"file"`
	Options map[string]string `mapstructure:"options"`
}

type KeysConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ScenarioConfig struct {
	Mode string `mapstructure:"mode"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// STREAMS_, with dots in keys replaced by underscores.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("author.seed", "")
	v.SetDefault("author.scheme", string(keys.Ed25519))
	v.SetDefault("author.multi_branching", true)
	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.file", "")
	v.SetDefault("ledger.options", map[string]string{})
	v.SetDefault("keys.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("scenario.mode", scenario.Strict.String())

	v.SetConfigType("toml")

	cfgPath := os.Getenv(EnvConfig)
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "xdao-streams"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("STREAMS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicitly named file must exist; the default location is optional.
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Ledger.Options == nil {
		c.Ledger.Options = map[string]string{}
	}
	return c, nil
}

// Validate checks the values that commands parse.
func (c Config) Validate() error {
	if _, err := keys.ParseScheme(c.Author.Scheme); err != nil {
		return fmt.Errorf("author.scheme: %w", err)
	}
	if c.Ledger.Backend == "" && c.Ledger.File == "" {
		return errors.New("ledger: backend or file is required")
	}
	if _, ok := scenario.ParseMode(c.Scenario.Mode); !ok {
		return fmt.Errorf("scenario.mode: unknown mode %q", c.Scenario.Mode)
	}
	if c.Log.Level != "" {
		if _, ok := logging.ParseLevel(c.Log.Level); !ok {
			return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
		}
	}
	return nil
}

// Scheme returns the parsed signature scheme.
func (c Config) Scheme() keys.Scheme {
	s, _ := keys.ParseScheme(c.Author.Scheme)
	return s
}

// Mode returns the parsed scenario mode.
func (c Config) Mode() scenario.Mode {
	m, _ := scenario.ParseMode(c.Scenario.Mode)
	return m
}

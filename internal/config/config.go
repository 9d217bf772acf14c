// Package config loads tally settings from defaults, an optional config
// file, a .env file and TALLY_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tallyapp/tally/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g.
// TALLY_REMOTE_URL for remote.url.
const EnvPrefix = "TALLY"

// FileName is the config file base name searched for in DefaultDir.
const FileName = "tally"

// Config is the effective configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Inbox     InboxConfig     `mapstructure:"inbox"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       logging.Config  `mapstructure:"log"`
	API       APIConfig       `mapstructure:"api"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-"`
}

// RemoteConfig locates the transaction service that queued items are
// submitted to.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the connectivity trigger. SettleDelay is how long the
// connection must stay up before a drain starts. Schedule is an optional cron
// expression for periodic drains.
type SyncConfig struct {
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	Schedule      string        `mapstructure:"schedule"`
}

// InboxConfig is the directory watched for dropped payload files.
type InboxConfig struct {
	// Dir defaults to <data_dir>/inbox.
	Dir string `mapstructure:"dir"`
}

// DashboardConfig controls the daemon's local status page and websocket.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// APIConfig configures the reference transaction service. It is read by
// tally-api only.
type APIConfig struct {
	Addr      string        `mapstructure:"addr"`
	DBPath    string        `mapstructure:"db_path"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. When empty, FileName.{toml,yaml,...}
	// is searched for in DefaultDir and its absence is not an error.
	File string

	// EnvFile is loaded into the process environment first. Defaults to
	// ".env"; a missing file is ignored.
	EnvFile string

	// Overrides are applied last, keyed by dotted setting name.
	Overrides map[string]any
}

// DefaultDir returns $XDG_CONFIG_HOME/tally (or the platform equivalent).
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tally"
	}
	return filepath.Join(dir, "tally")
}

// DefaultDataDir returns ~/.tally, falling back to ./.tally.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tally"
	}
	return filepath.Join(home, ".tally")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())

	v.SetDefault("remote.url", "http://127.0.0.1:8080")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.settle_delay", 2*time.Second)
	v.SetDefault("sync.startup_delay", time.Second)
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("sync.probe_timeout", 5*time.Second)
	v.SetDefault("sync.schedule", "@every 5m")

	v.SetDefault("inbox.dir", "")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 7777)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.db_path", "tally-api.db")
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("api.token_ttl", 30*24*time.Hour)
}

// Default returns the built-in configuration without consulting files or
// the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return &cfg
}

// Load builds the effective configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	for key, val := range opts.Overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout)
	}
	if c.Sync.SettleDelay < 0 || c.Sync.StartupDelay < 0 {
		return fmt.Errorf("sync delays must not be negative")
	}
	if c.Sync.ProbeInterval <= 0 || c.Sync.ProbeTimeout <= 0 {
		return fmt.Errorf("sync.probe_interval and sync.probe_timeout must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// QueuePath is the offline queue database file.
func (c *Config) QueuePath() string {
	return filepath.Join(c.DataDir, "queue.db")
}

// InboxDir is the drop folder watched by the daemon.
func (c *Config) InboxDir() string {
	if c.Inbox.Dir != "" {
		return c.Inbox.Dir
	}
	return filepath.Join(c.DataDir, "inbox")
}

// Settings returns the configuration as nested maps with durations rendered
// as strings, the shape written to and read from config files.
func (c *Config) Settings() map[string]any {
	return map[string]any{
		"data_dir": c.DataDir,
		"remote": map[string]any{
			"url":     c.Remote.URL,
			"token":   c.Remote.Token,
			"timeout": c.Remote.Timeout.String(),
		},
		"sync": map[string]any{
			"settle_delay":   c.Sync.SettleDelay.String(),
			"startup_delay":  c.Sync.StartupDelay.String(),
			"probe_interval": c.Sync.ProbeInterval.String(),
			"probe_timeout":  c.Sync.ProbeTimeout.String(),
			"schedule":       c.Sync.Schedule,
		},
		"inbox": map[string]any{
			"dir": c.Inbox.Dir,
		},
		"dashboard": map[string]any{
			"enabled": c.Dashboard.Enabled,
			"port":    c.Dashboard.Port,
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
		"api": map[string]any{
			"addr":       c.API.Addr,
			"db_path":    c.API.DBPath,
			"jwt_secret": c.API.JWTSecret,
			"token_ttl":  c.API.TokenTTL.String(),
		},
	}
}

// WriteDefault writes the default configuration as TOML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("config file %s already exists", path)
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Default().Settings()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return f.Close()
}

// WriteYAML renders c as YAML, masking secrets.
func (c *Config) WriteYAML(w io.Writer) error {
	settings := c.Settings()
	mask(settings["remote"], "token")
	mask(settings["api"], "jwt_secret")

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func mask(section any, key string) {
	m, ok := section.(map[string]any)
	if !ok {
		return
	}
	if s, _ := m[key].(string); s != "" {
		m[key] = "********"
	}
}

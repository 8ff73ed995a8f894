package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults applied by WithDefaults.
const (
	DefaultLogLevel         = "info"
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

// Config represents the global ~/.fieldchat/config.toml and the optional
// per-session session.toml, which overrides any field it sets.
type Config struct {
	DefaultSession   string   `toml:"default_session"`
	ServerURL        string   `toml:"server_url"`
	UserID           string   `toml:"user_id"`
	Token            string   `toml:"token"`
	LogLevel         string   `toml:"log_level"`
	ReconnectInitial Duration `toml:"reconnect_initial"`
	ReconnectMax     Duration `toml:"reconnect_max"`
}

// Duration is a time.Duration that decodes from TOML strings such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadLayered reads the global config and overlays the session config on top.
// Missing files are skipped; a malformed file is an error.
func LoadLayered(globalPath, sessionPath string) (*Config, error) {
	cfg := &Config{}
	for _, p := range []string{globalPath, sessionPath} {
		if p == "" {
			continue
		}
		layer, err := Load(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cfg.merge(layer)
	}
	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory when present and
// overlays FIELDCHAT_* variables.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("FIELDCHAT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("FIELDCHAT_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("FIELDCHAT_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("FIELDCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// WithDefaults fills unset fields.
func (c *Config) WithDefaults() *Config {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ReconnectInitial.Duration <= 0 {
		c.ReconnectInitial.Duration = DefaultReconnectInitial
	}
	if c.ReconnectMax.Duration <= 0 {
		c.ReconnectMax.Duration = DefaultReconnectMax
	}
	return c
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

func (c *Config) merge(o *Config) {
	if o.DefaultSession != "" {
		c.DefaultSession = o.DefaultSession
	}
	if o.ServerURL != "" {
		c.ServerURL = o.ServerURL
	}
	if o.UserID != "" {
		c.UserID = o.UserID
	}
	if o.Token != "" {
		c.Token = o.Token
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.ReconnectInitial.Duration > 0 {
		c.ReconnectInitial = o.ReconnectInitial
	}
	if o.ReconnectMax.Duration > 0 {
		c.ReconnectMax = o.ReconnectMax
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Update overlays the fields set in o onto the config file at path and writes
// it back. A missing file starts empty.
func Update(path string, o *Config) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.merge(o)
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

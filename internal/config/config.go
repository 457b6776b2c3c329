package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the main settings file inside the data directory.
const FileName = "config.yml"

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Settings  Settings                `yaml:"settings" envPrefix:"SETTINGS_"`
	Database  Database                `yaml:"database" envPrefix:"DATABASE_"`
	Modules   map[string]ModuleConfig `yaml:"modules"`
	Telemetry Telemetry               `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Backup    Backup                  `yaml:"backup" envPrefix:"BACKUP_"`
	Journal   Journal                 `yaml:"journal" envPrefix:"JOURNAL_"`
}

type Settings struct {
	Lang    string `yaml:"lang" env:"LANG"`
	Economy string `yaml:"economy" env:"ECONOMY"`
}

type Database struct {
	Type string `yaml:"type" env:"TYPE"`

	// sqlite
	File string `yaml:"file" env:"FILE"`

	// postgres
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Name     string `yaml:"name" env:"NAME"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"CONNECT_TIMEOUT_SECONDS"`
	MaxRetries            int `yaml:"max_retries" env:"MAX_RETRIES"`
}

func (d Database) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

// ModuleConfig is one entry under `modules:`. Keys other than `enabled` are
// kept as free-form module settings.
type ModuleConfig struct {
	Enabled  *bool          `yaml:"enabled,omitempty"`
	Settings map[string]any `yaml:",inline"`
}

type Telemetry struct {
	Enabled         bool `yaml:"enabled" env:"ENABLED"`
	IntervalSeconds int  `yaml:"interval_seconds" env:"INTERVAL_SECONDS"`
}

func (t Telemetry) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

type Backup struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	Keep    int     `yaml:"keep" env:"KEEP"`
	Offsite Offsite `yaml:"offsite" envPrefix:"OFFSITE_"`
}

// Offsite copies each shutdown backup to an S3-compatible bucket.
type Offsite struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Region          string `yaml:"region" env:"REGION"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	MaxRetries      int    `yaml:"max_retries" env:"MAX_RETRIES"`
}

func (o Offsite) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Journal records every host event and its outcome under <data>/journal.
type Journal struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// Error is returned for any malformed or missing setting. It is always fatal
// to startup.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads <dataDir>/config.yml, validates the raw document against the
// embedded schema, decodes it over the defaults and applies FARMER_* env
// overrides.
func Load(dataDir string) (Config, error) {
	path := filepath.Join(dataDir, FileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	return Parse(path, raw)
}

// Parse is Load without the file read. path is only used in errors.
func Parse(path string, raw []byte) (Config, error) {
	if err := validateDocument(raw); err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Settings: Settings{
			Lang:    "en",
			Economy: "memory",
		},
		Database: Database{
			Type:                  BackendSQLite,
			File:                  "database.db",
			Port:                  5432,
			SSLMode:               "disable",
			PoolSize:              8,
			ConnectTimeoutSeconds: 10,
			MaxRetries:            3,
		},
		Modules: map[string]ModuleConfig{},
		Telemetry: Telemetry{
			Enabled:         true,
			IntervalSeconds: 1800,
		},
		Backup: Backup{
			Enabled: true,
			Keep:    5,
			Offsite: Offsite{
				Region:         "auto",
				TimeoutSeconds: 60,
				MaxRetries:     3,
			},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Settings.Lang = strings.TrimSpace(c.Settings.Lang)
	c.Settings.Economy = strings.ToLower(strings.TrimSpace(c.Settings.Economy))
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	if c.Database.Type == "sqlite3" {
		c.Database.Type = BackendSQLite
	}
	if c.Database.Type == "postgresql" {
		c.Database.Type = BackendPostgres
	}
	c.Database.File = strings.TrimSpace(c.Database.File)
	c.Database.Host = strings.TrimSpace(c.Database.Host)
	if c.Database.Type == BackendSQLite {
		// The embedded store serializes everything through one session.
		c.Database.PoolSize = 1
	}
	if c.Database.PoolSize <= 0 {
		c.Database.PoolSize = 1
	}
	if c.Database.ConnectTimeoutSeconds <= 0 {
		c.Database.ConnectTimeoutSeconds = 10
	}
	if c.Database.MaxRetries < 0 {
		c.Database.MaxRetries = 0
	}
	c.Modules = normalizeModules(c.Modules)
	if c.Telemetry.IntervalSeconds <= 0 {
		c.Telemetry.IntervalSeconds = 1800
	}
	if c.Backup.Keep < 0 {
		c.Backup.Keep = 0
	}
	o := &c.Backup.Offsite
	o.Endpoint = strings.TrimRight(strings.TrimSpace(o.Endpoint), "/")
	o.Region = strings.TrimSpace(o.Region)
	if o.Region == "" {
		o.Region = "auto"
	}
	o.Bucket = strings.TrimSpace(o.Bucket)
	o.Prefix = strings.Trim(strings.TrimSpace(o.Prefix), "/")
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
}

func (c Config) Validate() error {
	if c.Settings.Lang == "" {
		return fmt.Errorf("settings.lang must not be empty")
	}
	if strings.ContainsAny(c.Settings.Lang, `/\`) {
		return fmt.Errorf("settings.lang %q must be a plain name", c.Settings.Lang)
	}
	switch c.Database.Type {
	case BackendSQLite:
		if c.Database.File == "" {
			return fmt.Errorf("database.file must not be empty for sqlite")
		}
	case BackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database.host must not be empty for postgres")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name must not be empty for postgres")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user must not be empty for postgres")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port %d out of range", c.Database.Port)
		}
	default:
		return fmt.Errorf("unsupported database.type: %q", c.Database.Type)
	}
	if o := c.Backup.Offsite; o.Enabled {
		if o.Endpoint == "" || o.Bucket == "" || o.AccessKeyID == "" || o.SecretAccessKey == "" {
			return fmt.Errorf("backup.offsite needs endpoint, bucket, access_key_id and secret_access_key")
		}
	}
	return nil
}

// normalizeModules keys module sections by lower-case name, the way the
// module registry matches names. A section already spelled in lower case
// wins over other spellings of the same name.
func normalizeModules(in map[string]ModuleConfig) map[string]ModuleConfig {
	out := make(map[string]ModuleConfig, len(in))
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		k := moduleKey(name)
		if k == "" {
			continue
		}
		if _, dup := out[k]; dup && name != k {
			continue
		}
		out[k] = in[name]
	}
	return out
}

func moduleKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// ModuleEnabled reports whether a module should be registered. Modules that
// are not listed are enabled. Names match case-insensitively.
func (c Config) ModuleEnabled(name string) bool {
	mc, ok := c.Modules[moduleKey(name)]
	if !ok || mc.Enabled == nil {
		return true
	}
	return *mc.Enabled
}

// ModuleSettings returns the free-form settings of a module (never nil).
func (c Config) ModuleSettings(name string) map[string]any {
	mc, ok := c.Modules[moduleKey(name)]
	if !ok || mc.Settings == nil {
		return map[string]any{}
	}
	return mc.Settings
}

// DisabledModules lists modules explicitly switched off, sorted.
func (c Config) DisabledModules() []string {
	var out []string
	for name := range c.Modules {
		if !c.ModuleEnabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

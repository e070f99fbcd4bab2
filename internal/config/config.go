// Package config loads the JSON settings file of the handoff CLI.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Config is the settings file. Durations are written as "10s" or "1m30s".
type Config struct {
	ServerURL  string `mapstructure:"server_url" json:"server_url"`
	StreamPath string `mapstructure:"stream_path" json:"stream_path"`
	Container  string `mapstructure:"container" json:"container"`
	APIKey     string `mapstructure:"api_key" json:"api_key,omitempty"`

	CapabilityTimeout  Duration `mapstructure:"capability_timeout" json:"capability_timeout"`
	DiscoveryTimeout   Duration `mapstructure:"discovery_timeout" json:"discovery_timeout"`
	StatusInterval     Duration `mapstructure:"status_interval" json:"status_interval"`
	ReportInterval     Duration `mapstructure:"report_interval" json:"report_interval"`
	CountdownThreshold float64  `mapstructure:"countdown_threshold" json:"countdown_threshold"`
	CountdownMax       int      `mapstructure:"countdown_max" json:"countdown_max"`

	ResumeBackend  string `mapstructure:"resume_backend" json:"resume_backend"`
	ResumeDir      string `mapstructure:"resume_dir" json:"resume_dir,omitempty"`
	ResumeEndpoint string `mapstructure:"resume_endpoint" json:"resume_endpoint,omitempty"`

	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default is written to disk when no settings file exists.
func Default() *Config {
	return &Config{
		ServerURL:          "http://localhost:8096",
		StreamPath:         "stream",
		Container:          "mp4",
		CapabilityTimeout:  Duration(10 * time.Second),
		DiscoveryTimeout:   Duration(5 * time.Second),
		StatusInterval:     Duration(time.Second),
		ReportInterval:     Duration(10 * time.Second),
		CountdownThreshold: 30,
		CountdownMax:       30,
		ResumeBackend:      "sqlite",
		LogLevel:           "info",
	}
}

var userConfigDir = os.UserConfigDir

// GetAppConfig reads the settings file, creating it with defaults when it
// does not exist yet.
func GetAppConfig() (*Config, error) {
	path, err := appPath()
	if err != nil {
		return nil, fmt.Errorf("GetAppConfig: failed to access config path due to error: %w", err)
	}
	return Load(path)
}

// Load reads path, creating it with defaults when it does not exist. Keys
// missing from the file keep their default value.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Load: failed to open config due to error: %w", err)
		}

		conf := Default()
		if err := conf.Save(path); err != nil {
			return nil, err
		}
		return conf, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("Load: failed to decode config due to error: %w", err)
	}

	conf := Default()
	if err := decode(raw, conf); err != nil {
		return nil, fmt.Errorf("Load: failed to decode config due to error: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func decode(raw map[string]any, conf *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           conf,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// durationHook accepts "10s" strings and plain numbers of seconds.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Duration(0)) {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		return Duration(d), nil
	case float64:
		return Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// Validate rejects settings the coordinator cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("Validate: server_url %q is not an absolute URL", c.ServerURL)
	}

	for name, d := range map[string]Duration{
		"capability_timeout": c.CapabilityTimeout,
		"discovery_timeout":  c.DiscoveryTimeout,
		"status_interval":    c.StatusInterval,
		"report_interval":    c.ReportInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("Validate: %s must be positive", name)
		}
	}
	if c.CountdownThreshold <= 0 || c.CountdownMax <= 0 {
		return fmt.Errorf("Validate: countdown_threshold and countdown_max must be positive")
	}

	switch c.ResumeBackend {
	case "", "sqlite", "memory":
	case "http":
		if _, err := url.ParseRequestURI(c.ResumeEndpoint); err != nil {
			return fmt.Errorf("Validate: resume_endpoint %q: %w", c.ResumeEndpoint, err)
		}
	default:
		return fmt.Errorf("Validate: unknown resume_backend %q", c.ResumeBackend)
	}
	return nil
}

// Save writes the settings file, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("Save: failed to create config path due to error: %w", err)
	}

	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("Save: failed to marshal json due to error: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("Save: failed save config due to error: %w", err)
	}
	return nil
}

// SaveAppConfig writes c to the default settings path.
func (c *Config) SaveAppConfig() error {
	path, err := appPath()
	if err != nil {
		return fmt.Errorf("SaveAppConfig: failed to access config path due to error: %w", err)
	}
	return c.Save(path)
}

func appPath() (string, error) {
	oscfg, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("appPath: failed to get config dir due to error: %w", err)
	}
	return filepath.Join(oscfg, "handoff", "settings.json"), nil
}

// DefaultResumeDir is where the sqlite resume store lives unless configured.
func DefaultResumeDir() (string, error) {
	oscfg, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(oscfg, "handoff"), nil
}

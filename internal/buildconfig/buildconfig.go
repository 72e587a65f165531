// Package buildconfig holds the structured settings document that gets
// materialized into an image on its first provisioning run.
package buildconfig

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/glowbarn/forge/internal/feature"
)

type Config struct {
	Hostname *string         `toml:"hostname,omitempty"`
	Timezone *string         `toml:"timezone,omitempty"`
	Services *ServicesConfig `toml:"services,omitempty"`
	App      *AppConfig      `toml:"app,omitempty"`
}

type ServicesConfig struct {
	Enabled  []string `toml:"enabled,omitempty"`
	Disabled []string `toml:"disabled,omitempty"`
}

// AppConfig mirrors the settings the glowbarn application reads from
// /etc/glowbarn/config.toml at runtime.
type AppConfig struct {
	Location        string          `toml:"location"`
	DataDirectory   string          `toml:"data_directory"`
	PollIntervalMS  uint64          `toml:"poll_interval_ms"`
	AnomalyStddev   float64         `toml:"anomaly_threshold"`
	BaselineSamples uint64          `toml:"baseline_samples"`
	Sensors         map[string]bool `toml:"sensors"`
}

// Default returns the configuration used when no config document was given.
func Default() *Config {
	hostname := "glowbarn"
	timezone := "UTC"
	return &Config{
		Hostname: &hostname,
		Timezone: &timezone,
		Services: &ServicesConfig{
			Enabled: []string{"glowbarn.service"},
		},
		App: &AppConfig{
			Location:        "Unknown Location",
			DataDirectory:   "/var/lib/glowbarn/data",
			PollIntervalMS:  100,
			AnomalyStddev:   2.5,
			BaselineSamples: 100,
			Sensors:         map[string]bool{},
		},
	}
}

// Load reads a config document from the given path. An empty path means no
// document was given and the defaults are returned; a named path must
// exist.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &feature.ConfigurationError{
				Message: fmt.Sprintf("build config %q does not exist", path),
			}
		}
		return nil, &feature.ConfigurationError{
			Message: fmt.Sprintf("reading build config %q: %v", path, err),
		}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &feature.ConfigurationError{
			Message: fmt.Sprintf("unknown key %q in build config %q", undecoded[0].String(), path),
		}
	}
	return config, nil
}

func (c *Config) GetHostname() string {
	if c == nil || c.Hostname == nil {
		return "glowbarn"
	}
	return *c.Hostname
}

func (c *Config) GetTimezone() string {
	if c == nil || c.Timezone == nil {
		return "UTC"
	}
	return *c.Timezone
}

// GetEnabledServices returns the services to enable during provisioning.
func (c *Config) GetEnabledServices() []string {
	if c == nil || c.Services == nil {
		return nil
	}
	return c.Services.Enabled
}

// RenderAppConfig serializes the application section as the TOML document
// the image ships at /etc/glowbarn/config.toml.
func (c *Config) RenderAppConfig() ([]byte, error) {
	app := c.App
	if app == nil {
		app = Default().App
	}
	var buf bytes.Buffer
	buf.WriteString("# GlowBarn application configuration\n")
	if err := toml.NewEncoder(&buf).Encode(app); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

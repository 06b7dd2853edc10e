package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/duskworks/coopcore/pkg/instances"
)

// Config is the server's file-based configuration: listen addresses and
// the registered enterable locations.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	AdminAddr  string `yaml:"adminAddr"`

	// DatabaseURL overrides the COOPCORE_DATABASE_URL environment variable
	// when set.
	DatabaseURL string `yaml:"databaseUrl"`

	Locations []instances.Location `yaml:"locations"`
}

// Defaults returns a config suitable for local development.
func Defaults() Config {
	return Config{
		ListenAddr: ":8888",
		AdminAddr:  "127.0.0.1:9090",
	}
}

// LoadFile reads a YAML config file, layering it over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config for malformed entries.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Locations))
	for _, loc := range c.Locations {
		if _, dup := seen[string(loc.ID)]; dup {
			return fmt.Errorf("duplicate location id %q", loc.ID)
		}
		seen[string(loc.ID)] = struct{}{}
		if loc.Kind != instances.KindApartment && loc.Kind != instances.KindStore && loc.Kind != instances.KindCustom {
			return fmt.Errorf("location %q has unknown kind %q", loc.ID, loc.Kind)
		}
	}
	return nil
}

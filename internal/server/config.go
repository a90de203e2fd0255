// Package server implements the explorer HTTP API.
//
// This file defines the YAML configuration of the server: where it listens,
// how it reaches the CMDB backend, where filter profiles live and how explorer
// sessions are sized and evicted.

package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sanonone/cigraph/pkg/client"
	"github.com/sanonone/cigraph/pkg/explorer"
)

// Profile store modes.
const (
	ProfileStoreRemote = "remote" // the CMDB filter-profile endpoints
	ProfileStoreFile   = "file"   // a local journal
)

// Config is the top-level structure of the configuration file.
type Config struct {
	Listen     string `yaml:"listen" validate:"required"`
	AuthToken  string `yaml:"auth_token"`
	CORSOrigin string `yaml:"cors_origin"`
	LogLevel   string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Backend  client.Options          `yaml:"backend"`
	Profiles ProfilesConfig          `yaml:"profiles"`
	Explorer explorer.ManagerOptions `yaml:"explorer"`
	Shutdown time.Duration           `yaml:"shutdown_timeout"`
}

// ProfilesConfig selects the filter profile backend.
type ProfilesConfig struct {
	Store       string `yaml:"store" validate:"oneof=remote file"`
	JournalPath string `yaml:"journal_path" validate:"required_if=Store file"`
}

// DefaultConfig returns a configuration that talks to a CMDB on localhost.
func DefaultConfig() Config {
	return Config{
		Listen:     ":8080",
		CORSOrigin: "*",
		LogLevel:   "info",
		Backend:    client.DefaultOptions("http://localhost:8000"),
		Profiles:   ProfilesConfig{Store: ProfileStoreRemote},
		Explorer:   explorer.DefaultManagerOptions(),
		Shutdown:   5 * time.Second,
	}
}

// LoadConfig reads the YAML file at path over the defaults. Environment
// variables are expanded first and unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the struct tags of the configuration.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

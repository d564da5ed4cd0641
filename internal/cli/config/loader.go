package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tokvault", "cli.yaml")
	}
	return filepath.Join(homeDir, ".tokvault", "cli.yaml")
}

// Load reads the CLI config at path. A missing file yields the defaults.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path with owner-only permissions; it may hold a token.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Set assigns one key by its YAML name.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "server":
		c.Server = value
	case "token":
		c.Token = value
	case "output":
		c.Output = value
	case "ca_file":
		c.CAFile = value
	default:
		return fmt.Errorf("unknown key %q (want server, token, output or ca_file)", key)
	}
	return c.Validate()
}

// Validate checks the configuration values.
func (c *CLIConfig) Validate() error {
	switch c.Output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("output must be table, json or yaml, got %q", c.Output)
	}
	if c.Server == "" {
		return errors.New("server is required")
	}
	if strings.Contains(c.Server, " ") {
		return fmt.Errorf("invalid server %q", c.Server)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *CLIConfig) Redacted() *CLIConfig {
	out := *c
	if out.Token != "" {
		out.Token = "****"
	}
	return &out
}

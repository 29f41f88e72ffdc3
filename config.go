package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/john/printer_remote/printer"
)

const defaultConfigPath = "~/.config/printer_remote/config.yaml"

type Config struct {
	Log       LogConfig       `yaml:"log" toml:"log"`
	Timeouts  TimeoutConfig   `yaml:"timeouts" toml:"timeouts"`
	Printers  []PrinterConfig `yaml:"printers" toml:"printers"`
	Materials MaterialsConfig `yaml:"materials" toml:"materials"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
}

type TimeoutConfig struct {
	// Request bounds each REST call, in seconds.
	Request int `yaml:"request" toml:"request"`
	// Command bounds each fire-and-forget control command, in seconds.
	Command int `yaml:"command" toml:"command"`
}

type PrinterConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Type    string `yaml:"type" toml:"type"`
	Address string `yaml:"address" toml:"address"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
}

type MaterialsConfig struct {
	// Database is the SQLite file holding material usage.
	Database string `yaml:"database" toml:"database"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Timeouts: TimeoutConfig{
			Request: 10,
			Command: 10,
		},
		Materials: MaterialsConfig{
			Database: "~/.local/share/printer_remote/materials.db",
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the defaults.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if strings.EqualFold(filepath.Ext(resolved), ".toml") {
			err = toml.Unmarshal(data, cfg)
		} else {
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.Materials.Database != "" {
		db, err := expandPath(cfg.Materials.Database)
		if err != nil {
			return nil, err
		}
		cfg.Materials.Database = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks timeouts, and printer entries for missing or duplicate names
// and unknown types.
func (c *Config) Validate() error {
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("timeouts.request must be positive, got %d", c.Timeouts.Request)
	}
	if c.Timeouts.Command <= 0 {
		return fmt.Errorf("timeouts.command must be positive, got %d", c.Timeouts.Command)
	}
	seen := make(map[string]bool, len(c.Printers))
	for i, p := range c.Printers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("printers[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("printers[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if _, err := printer.ParseConnectionType(p.Type); err != nil {
			return fmt.Errorf("printers[%d] %s: %w", i, name, err)
		}
	}
	return nil
}

// Printer returns the named printer entry.
func (c *Config) Printer(name string) (PrinterConfig, error) {
	for _, p := range c.Printers {
		if p.Name == name {
			return p, nil
		}
	}
	return PrinterConfig{}, fmt.Errorf("no printer named %q in config", name)
}

// Select returns the named printers, or all of them when names is empty.
func (c *Config) Select(names []string) ([]PrinterConfig, error) {
	if len(names) == 0 {
		return c.Printers, nil
	}
	out := make([]PrinterConfig, 0, len(names))
	for _, n := range names {
		p, err := c.Printer(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p PrinterConfig) Connection() printer.Connection {
	typ, _ := printer.ParseConnectionType(p.Type)
	return printer.Connection{
		Type:    typ,
		Address: strings.TrimSpace(p.Address),
		APIKey:  p.APIKey,
	}
}

func (t TimeoutConfig) RequestTimeout() time.Duration {
	return time.Duration(t.Request) * time.Second
}

func (t TimeoutConfig) CommandTimeout() time.Duration {
	return time.Duration(t.Command) * time.Second
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	// SQLite URIs are passed through untouched.
	if strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

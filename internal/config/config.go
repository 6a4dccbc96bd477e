// Package config loads the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/vigilmon/vigil/internal/objects"
)

// Config is the engine configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	PrettyLogs bool   `yaml:"pretty_logs"`

	RetentionFile            string `yaml:"retention_file"`
	RetentionIntervalSeconds int    `yaml:"retention_interval_seconds"`

	MetricsListen string `yaml:"metrics_listen"`

	EnableFlapping        bool    `yaml:"enable_flapping"`
	FlappingThresholdLow  float64 `yaml:"flapping_threshold_low"`
	FlappingThresholdHigh float64 `yaml:"flapping_threshold_high"`

	// Hosts declared directly in the engine configuration, keyed by
	// name. Each commits through the Config Change Bridge at startup.
	Hosts map[string]HostConfig `yaml:"hosts"`

	// ServiceTemplates are the named declarations inline services may
	// inherit from.
	ServiceTemplates map[string]objects.ServiceDecl `yaml:"service_templates"`
}

// HostConfig is one host declaration.
type HostConfig struct {
	Alias               string                         `yaml:"alias"`
	Address             string                         `yaml:"address"`
	Groups              []string                       `yaml:"groups"`
	Macros              map[string]string              `yaml:"macros"`
	CheckInterval       float64                        `yaml:"check_interval"`
	RetryInterval       float64                        `yaml:"retry_interval"`
	Checkers            []string                       `yaml:"checkers"`
	HostChecks          []string                       `yaml:"hostchecks"`
	HostDependencies    map[string]string              `yaml:"hostdependencies"`
	ServiceDependencies map[string]string              `yaml:"servicedependencies"`
	Services            map[string]objects.ServiceDecl `yaml:"services"`
}

// Host materializes the declaration as a registry entity.
func (hc HostConfig) Host(name string) *objects.Host {
	h := &objects.Host{
		Name:                name,
		Alias:               hc.Alias,
		Address:             hc.Address,
		Groups:              hc.Groups,
		Macros:              hc.Macros,
		CheckInterval:       hc.CheckInterval,
		RetryInterval:       hc.RetryInterval,
		Checkers:            hc.Checkers,
		HostChecks:          hc.HostChecks,
		HostDependencies:    hc.HostDependencies,
		ServiceDependencies: hc.ServiceDependencies,
		ServiceDecls:        hc.Services,
	}
	h.EnableFlapping = true
	return h
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:                 "info",
		RetentionFile:            "retention.dat",
		RetentionIntervalSeconds: 60,
		MetricsListen:            ":9130",
		EnableFlapping:           true,
		FlappingThresholdLow:     objects.DefaultFlappingThresholdLow,
		FlappingThresholdHigh:    objects.DefaultFlappingThresholdHigh,
	}
}

// Load reads and validates a configuration file, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RetentionIntervalSeconds < 0 {
		return fmt.Errorf("retention_interval_seconds must not be negative")
	}
	if c.FlappingThresholdLow < 0 || c.FlappingThresholdHigh < 0 {
		return fmt.Errorf("flapping thresholds must not be negative")
	}
	if c.FlappingThresholdLow > c.FlappingThresholdHigh {
		return fmt.Errorf("flapping_threshold_low (%.1f) exceeds flapping_threshold_high (%.1f)",
			c.FlappingThresholdLow, c.FlappingThresholdHigh)
	}
	return nil
}

// ServiceTemplate implements the bridge's template source.
func (c *Config) ServiceTemplate(name string) (objects.ServiceDecl, bool) {
	d, ok := c.ServiceTemplates[name]
	return d, ok
}

// Watch reloads the file whenever it changes and hands the result to
// onChange. Editors replace files by rename, so the parent directory is
// watched rather than the file itself. Watch blocks until the watcher
// fails or the stop channel closes.
func Watch(path string, stop <-chan struct{}, onChange func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(path)

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

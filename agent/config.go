// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rpkimon/rpkimon/pkg/confopt"
)

const defaultJitter = confopt.Duration(600 * time.Second)

// Config is the YAML configuration of the supervisor.
type Config struct {
	CacheDir  string `yaml:"cache_dir" json:"cache_dir"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	RpkiClient   string `yaml:"rpki_client" json:"rpki_client"`
	RsyncCommand string `yaml:"rsync_command,omitempty" json:"rsync_command,omitempty"`

	TrustAnchorLocators []string `yaml:"trust_anchor_locators" json:"trust_anchor_locators"`
	AdditionalOpts      []string `yaml:"additional_opts,omitempty" json:"additional_opts,omitempty"`

	Interval confopt.Duration `yaml:"interval" json:"interval"`
	Timeout  confopt.Duration `yaml:"timeout" json:"timeout"`
	Deadline confopt.Duration `yaml:"deadline,omitempty" json:"deadline,omitempty"`
	Jitter   confopt.Duration `yaml:"jitter" json:"jitter"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Jitter: defaultJitter,
		Host:   "localhost",
		Port:   8888,
	}
	if err := yaml.Unmarshal(bs, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the static constraints on the configuration.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return errors.New("cache_dir is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if c.RpkiClient == "" {
		return errors.New("rpki_client is required")
	}
	if len(c.TrustAnchorLocators) == 0 {
		return errors.New("trust_anchor_locators are required")
	}
	for _, tal := range c.TrustAnchorLocators {
		fi, err := os.Stat(tal)
		if err != nil {
			return fmt.Errorf("trust anchor locator: %w", err)
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("trust anchor locator '%s' is not a file", tal)
		}
	}
	if c.Interval <= 0 {
		return errors.New("interval needs to be positive")
	}
	if c.Timeout < confopt.Duration(-time.Second) {
		return fmt.Errorf("illegal timeout %s: should be >= -1s", c.Timeout)
	}
	if c.Timeout > c.Interval {
		return fmt.Errorf("timeout (%s) needs to be below interval (%s)", c.Timeout, c.Interval)
	}
	if c.Deadline > c.Interval {
		return fmt.Errorf("deadline (%s) needs to be below interval (%s)", c.Deadline, c.Interval)
	}
	if c.Jitter < 0 {
		return errors.New("jitter needs to be >= 0")
	}
	if c.Port <= 0 {
		return errors.New("port should be > 0")
	}
	return nil
}

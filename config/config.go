package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

const DefaultBranchPrefix = "refs/heads/"
const DefaultCommitTimeWindow = 300

// Config for cvsgitexport
type Config struct {
	ReportMode       string `yaml:"report_mode"` // fast, canonical or adaptive
	BranchPrefix     string `yaml:"branch_prefix"`
	ForceDates       bool   `yaml:"force_dates"`
	Reposurgeon      bool   `yaml:"reposurgeon"`
	EmbedIDs         bool   `yaml:"embed_ids"`
	CommitTimeWindow int    `yaml:"commit_time_window"`
	FromTime         int64  `yaml:"fromtime"`
	AuthorMap        string `yaml:"authormap"`
	StripPrefix      string `yaml:"strip_prefix"`
	CompressBlobs    bool   `yaml:"compress_blobs"`
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		ReportMode:       "adaptive",
		BranchPrefix:     DefaultBranchPrefix,
		CommitTimeWindow: DefaultCommitTimeWindow,
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

func (c *Config) validate() error {
	switch c.ReportMode {
	case "fast", "canonical", "adaptive":
	default:
		return fmt.Errorf("report_mode must be one of fast/canonical/adaptive, got '%s'", c.ReportMode)
	}
	if c.CommitTimeWindow <= 0 {
		return fmt.Errorf("commit_time_window must be positive, got %d", c.CommitTimeWindow)
	}
	if c.FromTime < 0 {
		return fmt.Errorf("fromtime must not be negative, got %d", c.FromTime)
	}
	return nil
}

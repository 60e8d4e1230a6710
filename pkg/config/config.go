// Copyright 2025 Kylix Project
//
// Node Configuration - YAML loading with environment substitution
//
// Reads the file, substitutes ${VAR} / ${VAR:-default} references,
// unmarshals, then fills in defaults for anything left unset.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "100ms" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Value() time.Duration { return time.Duration(d) }

// Config holds a Kylix node's runtime knobs.
type Config struct {
	NodeID string `yaml:"node_id"`
	Port   int    `yaml:"port"`

	DBPath        string `yaml:"db_path"`
	ValidatorsDir string `yaml:"validators_dir"`

	Window  WindowConfig  `yaml:"window"`
	Queue   QueueConfig   `yaml:"queue"`
	Mapping MappingConfig `yaml:"variable_mappings"`
}

// WindowConfig controls the validator coordinator's sliding performance
// window.
type WindowConfig struct {
	Size int `yaml:"size"`
}

// QueueConfig controls the transaction queue's batch/interval behavior.
type QueueConfig struct {
	BatchSize          int      `yaml:"batch_size"`
	ProcessingInterval Duration `yaml:"processing_interval"`
}

// MappingConfig holds extra SPARQL output-name synonyms read from the
// variable_mappings section. Nothing in this module consumes it: the
// SPARQL mapper resolves names from its built-in synonym table only.
type MappingConfig struct {
	Extra map[string]string `yaml:"extra"`
}

func defaultConfig() Config {
	return Config{
		Port:          4040,
		DBPath:        "data/dag_storage",
		ValidatorsDir: "config/validators",
		Window:        WindowConfig{Size: 100},
		Queue: QueueConfig{
			BatchSize:          10,
			ProcessingInterval: Duration(100 * time.Millisecond),
		},
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads path, substitutes environment references, and applies
// defaults for anything the file left unset. A missing NodeID falls back
// to the NODE_ID environment variable.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if cfg.NodeID == "" {
		cfg.NodeID = os.Getenv("NODE_ID")
	}
	if cfg.Window.Size <= 0 {
		cfg.Window.Size = defaultConfig().Window.Size
	}
	if cfg.Queue.BatchSize <= 0 {
		cfg.Queue.BatchSize = defaultConfig().Queue.BatchSize
	}
	if cfg.Queue.ProcessingInterval <= 0 {
		cfg.Queue.ProcessingInterval = defaultConfig().Queue.ProcessingInterval
	}

	return &cfg, nil
}

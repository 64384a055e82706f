package dlp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads redaction rules from a YAML file, or the defaults when
// path is empty.
func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, fmt.Errorf("read redaction rules: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parse redaction rules: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no redaction rules configured")
	}
	return cfg, nil
}

func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "MRN", Type: "mrn", Pattern: `(?i)\b(?:MRN|medical record(?: number)?)[:#\s]*\d{5,}\b`, Mask: "[MRN]", Enabled: true},
		{Name: "SSN", Type: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Mask: "[SSN]", Enabled: true},
		{Name: "DOB", Type: "date", Pattern: `\b\d{1,2}/\d{1,2}/\d{2,4}\b`, Mask: "[DATE]", Enabled: true},
		{Name: "Email", Type: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "[EMAIL]", Enabled: true},
		{Name: "Phone", Type: "phone", Pattern: `\(\d{3}\)\s?\d{3}-\d{4}\b|\b\d{3}-\d{3}-\d{4}\b`, Mask: "[PHONE]", Enabled: true},
	}}
}

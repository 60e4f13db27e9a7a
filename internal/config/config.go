// Package config loads skillkeeper configuration from skillkeeper.yaml with
// environment-variable overrides. Every field has a usable default; a
// missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File represents the structure of skillkeeper.yaml
type File struct {
	// DataDir is the root for all persisted state
	DataDir string `yaml:"data_dir"`

	// SkillsDir is the skills workspace searched during fix localization
	SkillsDir string `yaml:"skills_dir"`

	Logger  LoggerConfig  `yaml:"logger"`
	Gates   GatesConfig   `yaml:"gates"`
	Improve ImproveConfig `yaml:"improve"`
	Oracle  OracleConfig  `yaml:"oracle"`
}

// LoggerConfig tunes the error logger.
type LoggerConfig struct {
	// Threshold is the recurrence count that fires the threshold callback
	Threshold int `yaml:"threshold"`
}

// GatesConfig tunes the verification gates.
type GatesConfig struct {
	// Timeout is the approval wait, as a duration string like "120s"
	Timeout string `yaml:"timeout"`
}

// ImproveConfig tunes the improvement loop's detection thresholds.
type ImproveConfig struct {
	ErrorThreshold      int `yaml:"error_threshold"`
	CorrectionThreshold int `yaml:"correction_threshold"`
	MissThreshold       int `yaml:"miss_threshold"`
	RejectionThreshold  int `yaml:"rejection_threshold"`
}

// OracleConfig tunes the LLM oracle.
type OracleConfig struct {
	// Enabled selects the oracle path; when false the auto-fix engine uses
	// its deterministic templates
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Config is the resolved runtime configuration.
type Config struct {
	DataDir   string
	SkillsDir string

	ErrorsDir      string
	AuditDir       string
	ImprovementDir string
	AutofixDir     string

	LoggerThreshold int
	GateTimeout     time.Duration

	ErrorThreshold      int
	CorrectionThreshold int
	MissThreshold       int
	RejectionThreshold  int

	OracleEnabled   bool
	OracleModel     string
	OracleMaxTokens int
	APIKey          string
}

// Load reads skillkeeper.yaml from dir (or defaults when absent), applies
// environment overrides, and resolves the per-component data directories.
func Load(dir string) (*Config, error) {
	var f File
	path := filepath.Join(dir, "skillkeeper.yaml")
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg := &Config{
		DataDir:             stringOr(f.DataDir, filepath.Join(dir, "skillkeeper-data")),
		SkillsDir:           stringOr(f.SkillsDir, filepath.Join(dir, "skills")),
		LoggerThreshold:     intOr(f.Logger.Threshold, 2),
		GateTimeout:         120 * time.Second,
		ErrorThreshold:      intOr(f.Improve.ErrorThreshold, 3),
		CorrectionThreshold: intOr(f.Improve.CorrectionThreshold, 3),
		MissThreshold:       intOr(f.Improve.MissThreshold, 5),
		RejectionThreshold:  intOr(f.Improve.RejectionThreshold, 3),
		OracleEnabled:       f.Oracle.Enabled,
		OracleModel:         f.Oracle.Model,
		OracleMaxTokens:     intOr(f.Oracle.MaxTokens, 4096),
	}

	if f.Gates.Timeout != "" {
		d, err := time.ParseDuration(f.Gates.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid gates.timeout %q: %w", f.Gates.Timeout, err)
		}
		cfg.GateTimeout = d
	}

	// Environment overrides win over the file.
	if v := os.Getenv("SKILLKEEPER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SKILLKEEPER_SKILLS_DIR"); v != "" {
		cfg.SkillsDir = v
	}
	if v := os.Getenv("SKILLKEEPER_MODEL"); v != "" {
		cfg.OracleModel = v
	}
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.ErrorsDir = filepath.Join(cfg.DataDir, "errors")
	cfg.AuditDir = filepath.Join(cfg.DataDir, "audit-trail")
	cfg.ImprovementDir = filepath.Join(cfg.DataDir, "improvement-data")
	cfg.AutofixDir = filepath.Join(cfg.DataDir, "autofix-data")
	return cfg, nil
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

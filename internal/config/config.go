// Package config handles configuration loading and validation for fiscalproof.
//
// Configuration files may be TOML, JSON, or YAML; the format is chosen
// by file extension. Every setting has a default, so an empty or missing
// file yields a working configuration. Environment variables prefixed
// FISCALPROOF_ override file values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"fiscalproof/internal/detect"
	"fiscalproof/internal/ledger"
	"fiscalproof/internal/logging"
	"fiscalproof/internal/policy"
	"fiscalproof/internal/receipt"
)

// Version is the current config schema version.
const Version = 1

// Config is the root configuration for fiscalproof.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Tenant is the tenant identifier stamped into every receipt.
	Tenant string `toml:"tenant" json:"tenant" yaml:"tenant"`

	// Ledger configures the append-only receipt ledger.
	Ledger LedgerConfig `toml:"ledger" json:"ledger" yaml:"ledger"`

	// Logging configures diagnostic output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Detect configures the fraud-signal detectors.
	Detect DetectConfig `toml:"detect" json:"detect" yaml:"detect"`

	// Baselines overrides the entropy baseline table per entity type.
	// Empty means the built-in table.
	Baselines map[string]detect.Baseline `toml:"baselines" json:"baselines" yaml:"baselines"`

	// Sim configures the simulation harness.
	Sim SimConfig `toml:"sim" json:"sim" yaml:"sim"`
}

// LedgerConfig configures the durable receipt ledger.
type LedgerConfig struct {
	// Path is the JSONL ledger file. Empty disables the ledger; the
	// stream remains the system of record either way.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Sync forces an fsync after every append.
	Sync bool `toml:"sync" json:"sync" yaml:"sync"`
}

// LoggingConfig configures diagnostic logging. The receipt stream is
// separate and always goes to stdout.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stderr, discard, or a file path. Never stdout.
	Output string `toml:"output" json:"output" yaml:"output"`
}

// DetectConfig configures detector thresholds and the stop-rule tier
// each detector fires on a flagged result.
type DetectConfig struct {
	// BenfordAction is the stop-rule tier for Benford anomalies:
	// alert, escalate, or halt.
	BenfordAction string `toml:"benford_action" json:"benford_action" yaml:"benford_action"`

	// EntropyAction is the stop-rule tier for entropy anomalies.
	EntropyAction string `toml:"entropy_action" json:"entropy_action" yaml:"entropy_action"`

	// ConcentrationAction is the stop-rule tier for concentration
	// anomalies.
	ConcentrationAction string `toml:"concentration_action" json:"concentration_action" yaml:"concentration_action"`

	// HubThreshold is the normalized-degree share above which a node
	// counts as a hub. Zero means the built-in default.
	HubThreshold float64 `toml:"hub_threshold" json:"hub_threshold" yaml:"hub_threshold"`

	// RoundThresholds are the amounts checked by the round-number
	// detector. Empty means the built-in defaults.
	RoundThresholds []float64 `toml:"round_thresholds" json:"round_thresholds" yaml:"round_thresholds"`

	// PatternWindow is the rolling window size for pattern-deviation
	// analysis. Zero means the built-in default.
	PatternWindow int `toml:"pattern_window" json:"pattern_window" yaml:"pattern_window"`
}

// SimConfig configures the simulation harness defaults.
type SimConfig struct {
	// Cycles is the number of detection cycles per run.
	Cycles int `toml:"cycles" json:"cycles" yaml:"cycles"`

	// Transactions is the number of synthetic transactions per cycle.
	Transactions int `toml:"transactions" json:"transactions" yaml:"transactions"`

	// Seed seeds the synthetic-data generator for reproducible runs.
	Seed int64 `toml:"seed" json:"seed" yaml:"seed"`

	// FraudRate is the fraction of transactions that carry an injected
	// fraud pattern in fraud scenarios.
	FraudRate float64 `toml:"fraud_rate" json:"fraud_rate" yaml:"fraud_rate"`

	// Scenario is the default scenario name.
	Scenario string `toml:"scenario" json:"scenario" yaml:"scenario"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Tenant:  receipt.DefaultTenant,
		Ledger: LedgerConfig{
			Path: filepath.Join(FiscalproofDir(), ledger.DefaultPath),
			Sync: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Detect: DetectConfig{
			BenfordAction:       string(policy.ActionAlert),
			EntropyAction:       string(policy.ActionAlert),
			ConcentrationAction: string(policy.ActionAlert),
			HubThreshold:        detect.DefaultHubThreshold,
			PatternWindow:       10,
		},
		Sim: SimConfig{
			Cycles:       1000,
			Transactions: 100,
			Seed:         42,
			FraudRate:    0.05,
			Scenario:     "baseline",
		},
	}
}

// FiscalproofDir returns the per-user data directory.
func FiscalproofDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fiscalproof"
	}
	return filepath.Join(home, ".fiscalproof")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(FiscalproofDir(), "config.toml")
}

// Load reads the configuration from path, falling back to defaults when
// the file does not exist. An empty path means ConfigPath().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// decode parses data into cfg based on the file extension. Unknown
// extensions fall back to trying each format in turn.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse TOML %s: %w", path, err)
		}
	case ".json":
		if err := decodeJSON(data, cfg); err != nil {
			return fmt.Errorf("config: parse JSON %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := decodeYAML(data, cfg); err != nil {
			return fmt.Errorf("config: parse YAML %s: %w", path, err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

func decodeJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// autoDetectAndParse tries JSON for brace-led input, then TOML, then
// JSON, then YAML.
func autoDetectAndParse(data []byte, cfg *Config) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return decodeJSON(data, cfg)
	}
	if err := toml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := decodeJSON(data, cfg); err == nil {
		return nil
	}
	if err := decodeYAML(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unrecognized format (tried TOML, JSON, YAML)")
}

// ApplyEnvOverrides applies FISCALPROOF_* environment variables over the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FISCALPROOF_TENANT"); v != "" {
		c.Tenant = v
	}
	if v := os.Getenv("FISCALPROOF_LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv("FISCALPROOF_LEDGER_SYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ledger.Sync = b
		}
	}
	if v := os.Getenv("FISCALPROOF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FISCALPROOF_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("FISCALPROOF_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("FISCALPROOF_SIM_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sim.Cycles = n
		}
	}
	if v := os.Getenv("FISCALPROOF_SIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Sim.Seed = n
		}
	}
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for inconsistencies. All problems
// are collected and reported together.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}
	if c.Tenant == "" {
		errs = append(errs, ValidationError{
			Field:   "tenant",
			Message: "must not be empty",
		})
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: err.Error(),
		})
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: err.Error(),
		})
	}
	if strings.EqualFold(c.Logging.Output, "stdout") {
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: "stdout is reserved for the receipt stream",
		})
	}
	if _, err := policy.ParseAction(c.Detect.BenfordAction); err != nil {
		errs = append(errs, ValidationError{Field: "detect.benford_action", Message: err.Error()})
	}
	if _, err := policy.ParseAction(c.Detect.EntropyAction); err != nil {
		errs = append(errs, ValidationError{Field: "detect.entropy_action", Message: err.Error()})
	}
	if _, err := policy.ParseAction(c.Detect.ConcentrationAction); err != nil {
		errs = append(errs, ValidationError{Field: "detect.concentration_action", Message: err.Error()})
	}
	if c.Detect.HubThreshold < 0 || c.Detect.HubThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "detect.hub_threshold",
			Message: fmt.Sprintf("must be in [0, 1], got %g", c.Detect.HubThreshold),
		})
	}
	for i, v := range c.Detect.RoundThresholds {
		if v <= 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("detect.round_thresholds[%d]", i),
				Message: fmt.Sprintf("must be positive, got %g", v),
			})
		}
	}
	if c.Detect.PatternWindow < 0 {
		errs = append(errs, ValidationError{
			Field:   "detect.pattern_window",
			Message: fmt.Sprintf("must not be negative, got %d", c.Detect.PatternWindow),
		})
	}
	for name, b := range c.Baselines {
		if b.Std < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("baselines.%s.std", name),
				Message: fmt.Sprintf("must not be negative, got %g", b.Std),
			})
		}
	}
	if c.Sim.Cycles < 1 {
		errs = append(errs, ValidationError{
			Field:   "sim.cycles",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Sim.Cycles),
		})
	}
	if c.Sim.Transactions < 1 {
		errs = append(errs, ValidationError{
			Field:   "sim.transactions",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Sim.Transactions),
		})
	}
	if c.Sim.FraudRate < 0 || c.Sim.FraudRate > 1 {
		errs = append(errs, ValidationError{
			Field:   "sim.fraud_rate",
			Message: fmt.Sprintf("must be in [0, 1], got %g", c.Sim.FraudRate),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// EnsureDirectories creates the directories the configuration points at.
func (c *Config) EnsureDirectories() error {
	paths := []string{c.Ledger.Path}
	if out := c.Logging.Output; out != "" && out != "stderr" && out != "discard" {
		paths = append(paths, out)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Detect.RoundThresholds != nil {
		clone.Detect.RoundThresholds = append([]float64(nil), c.Detect.RoundThresholds...)
	}
	if c.Baselines != nil {
		clone.Baselines = make(map[string]detect.Baseline, len(c.Baselines))
		for k, v := range c.Baselines {
			clone.Baselines[k] = v
		}
	}
	return &clone
}

// LoggerConfig maps the logging section onto a logging.Config. Invalid
// level or format strings fall back to the defaults; Validate catches
// them separately.
func (c *Config) LoggerConfig() *logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format, _ := logging.ParseFormat(c.Logging.Format)
	return &logging.Config{
		Level:     level,
		Format:    format,
		Output:    c.Logging.Output,
		Component: "fiscalproof",
	}
}

// DetectorActions maps the detect section onto per-detector stop-rule
// tiers. Invalid values fall back to alert.
func (c *Config) DetectorActions() detect.Actions {
	benford, _ := policy.ParseAction(c.Detect.BenfordAction)
	entropy, _ := policy.ParseAction(c.Detect.EntropyAction)
	concentration, _ := policy.ParseAction(c.Detect.ConcentrationAction)
	return detect.Actions{
		Benford:       benford,
		Entropy:       entropy,
		Concentration: concentration,
	}
}

// BaselineTable builds the entropy baseline table, overlaying configured
// entries on the built-in defaults.
func (c *Config) BaselineTable() *detect.Baselines {
	if len(c.Baselines) == 0 {
		return detect.NewBaselines(nil)
	}
	table := detect.DefaultBaselines()
	for k, v := range c.Baselines {
		table[k] = v
	}
	return detect.NewBaselines(table)
}

// RoundThresholds returns the configured round-number thresholds or the
// built-in defaults.
func (c *Config) RoundThresholds() []float64 {
	if len(c.Detect.RoundThresholds) == 0 {
		return detect.DefaultRoundThresholds
	}
	return c.Detect.RoundThresholds
}

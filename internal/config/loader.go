package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"fiscalproof/internal/detect"
)

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
}

// NewLoader creates a loader for the config file at path.
func NewLoader(path string) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load reads, validates, and stores the configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	l.config = cfg
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch starts watching the configuration file for changes. On change
// the file is reloaded, revalidated, and registered callbacks fire.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	l.watcher = watcher

	// Watch the directory: editors replace the file on save, which
	// drops a watch placed on the file itself.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch directory: %w", err)
	}

	go l.watchLoop()

	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer
	debounceDelay := 100 * time.Millisecond

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				l.reload()
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			select {
			case l.errChan <- err:
			default:
			}
		}
	}
}

// reload swaps in the new configuration if it parses and validates.
// A broken file on disk never displaces a working config.
func (l *Loader) reload() {
	newCfg, err := Load(l.path)
	if err != nil {
		select {
		case l.errChan <- fmt.Errorf("config: reload: %w", err):
		default:
		}
		return
	}
	if err := newCfg.Validate(); err != nil {
		select {
		case l.errChan <- fmt.Errorf("config: validate new config: %w", err):
		default:
		}
		return
	}

	l.mu.Lock()
	l.config = newCfg
	l.mu.Unlock()

	for _, cb := range l.onChange {
		cb(newCfg)
	}
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel carrying errors from watching and reloading.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// LoadFromEnv builds a configuration from defaults plus environment
// overrides only. Useful for containerized deployments with no file.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg
}

// LoadOrCreate loads the configuration at path, writing a default file
// first when none exists. The boolean reports whether a file was
// created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("config: create default config: %w", err)
		}
		return cfg, true, nil
	}

	loader := NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Save writes cfg to path in the format implied by the extension,
// defaulting to TOML. The file is written with owner-only permissions.
func Save(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

// Merge overlays src on dst, with src winning for non-zero values.
// Booleans cannot be distinguished from "not set" and are taken from
// src only when true.
func Merge(dst, src *Config) *Config {
	result := dst.Clone()

	if src.Version > 0 {
		result.Version = src.Version
	}
	if src.Tenant != "" {
		result.Tenant = src.Tenant
	}
	if src.Ledger.Path != "" {
		result.Ledger.Path = src.Ledger.Path
	}
	if src.Ledger.Sync {
		result.Ledger.Sync = true
	}
	if src.Logging.Level != "" {
		result.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		result.Logging.Format = src.Logging.Format
	}
	if src.Logging.Output != "" {
		result.Logging.Output = src.Logging.Output
	}
	if src.Detect.BenfordAction != "" {
		result.Detect.BenfordAction = src.Detect.BenfordAction
	}
	if src.Detect.EntropyAction != "" {
		result.Detect.EntropyAction = src.Detect.EntropyAction
	}
	if src.Detect.ConcentrationAction != "" {
		result.Detect.ConcentrationAction = src.Detect.ConcentrationAction
	}
	if src.Detect.HubThreshold > 0 {
		result.Detect.HubThreshold = src.Detect.HubThreshold
	}
	if len(src.Detect.RoundThresholds) > 0 {
		result.Detect.RoundThresholds = append([]float64(nil), src.Detect.RoundThresholds...)
	}
	if src.Detect.PatternWindow > 0 {
		result.Detect.PatternWindow = src.Detect.PatternWindow
	}
	if len(src.Baselines) > 0 {
		if result.Baselines == nil {
			result.Baselines = make(map[string]detect.Baseline, len(src.Baselines))
		}
		for k, v := range src.Baselines {
			result.Baselines[k] = v
		}
	}
	if src.Sim.Cycles > 0 {
		result.Sim.Cycles = src.Sim.Cycles
	}
	if src.Sim.Transactions > 0 {
		result.Sim.Transactions = src.Sim.Transactions
	}
	if src.Sim.Seed != 0 {
		result.Sim.Seed = src.Sim.Seed
	}
	if src.Sim.FraudRate > 0 {
		result.Sim.FraudRate = src.Sim.FraudRate
	}
	if src.Sim.Scenario != "" {
		result.Sim.Scenario = src.Sim.Scenario
	}

	return result
}

// Watcher pairs a Loader with old/new change callbacks.
type Watcher struct {
	loader    *Loader
	callbacks []func(old, new *Config)
}

// NewWatcher creates a watcher and performs the initial load.
func NewWatcher(path string) (*Watcher, error) {
	loader := NewLoader(path)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	return &Watcher{loader: loader}, nil
}

// Start begins watching for configuration changes.
func (w *Watcher) Start() error {
	oldCfg := w.loader.Config()

	w.loader.OnChange(func(newCfg *Config) {
		for _, cb := range w.callbacks {
			cb(oldCfg, newCfg)
		}
		oldCfg = newCfg
	})

	return w.loader.Watch()
}

// OnChange registers a callback receiving the old and new configuration.
func (w *Watcher) OnChange(cb func(old, new *Config)) {
	w.callbacks = append(w.callbacks, cb)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	return w.loader.Config()
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	return w.loader.Close()
}

// Reload forces a reload of the configuration.
func (w *Watcher) Reload() error {
	_, err := w.loader.Load()
	return err
}

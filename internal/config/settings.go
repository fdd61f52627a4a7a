package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SettingsFile persists ProbeConfig snapshots so runtime changes survive restarts.
type SettingsFile struct {
	mu   sync.Mutex
	path string
}

// NewSettingsFile returns a SettingsFile backed by path. The file is not touched until Load or Save.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

// Path returns the backing file path.
func (s *SettingsFile) Path() string {
	return s.path
}

// Load reads the persisted settings. ok is false when no file exists yet.
func (s *SettingsFile) Load() (cfg ProbeConfig, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ProbeConfig{}, false, nil
	}
	if err != nil {
		return ProbeConfig{}, false, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProbeConfig{}, false, fmt.Errorf("parsing settings %q: %w", s.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ProbeConfig{}, false, fmt.Errorf("settings %q: %w", s.path, err)
	}
	return cfg, true, nil
}

// Save atomically replaces the settings file with cfg.
func (s *SettingsFile) Save(cfg ProbeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating settings directory: %w", err)
		}
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}

// Overlay replaces cfg.Probe with the persisted settings when the file exists.
func (s *SettingsFile) Overlay(cfg *Config) (bool, error) {
	probe, ok, err := s.Load()
	if err != nil || !ok {
		return false, err
	}
	cfg.Probe = probe
	return true, nil
}

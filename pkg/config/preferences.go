package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
)

// Preferences are the settings the host remembers between runs
type Preferences struct {
	ScanPaths  []string `json:"scanPaths,omitempty"`
	LastPlugin string   `json:"lastPlugin,omitempty"`
	AutoStart  bool     `json:"autoStart"`
}

// DefaultPreferences returns the preferences of a first run
func DefaultPreferences() *Preferences {
	return &Preferences{AutoStart: true}
}

// PreferencesDir returns the directory holding the preferences file
func PreferencesDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "vst3host"), nil
}

// PreferencesPath returns the full path to preferences.json
func PreferencesPath() (string, error) {
	dir, err := PreferencesDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "preferences.json"), nil
}

// LoadPreferences reads path, or returns defaults if it does not exist
func LoadPreferences(path string) (*Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPreferences(), nil
		}
		return nil, err
	}
	p := DefaultPreferences()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes the preferences to path. The file is replaced atomically.
func (p *Preferences) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".preferences-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// AddScanPath remembers a directory once
func (p *Preferences) AddScanPath(dir string) bool {
	if slices.Contains(p.ScanPaths, dir) {
		return false
	}
	p.ScanPaths = append(p.ScanPaths, dir)
	return true
}

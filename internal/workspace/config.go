package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// ConfigFile is the name of the workspace configuration file
const ConfigFile = "cube.json"

// CurrentVersion is written into new workspace configs
const CurrentVersion = "1.0.0"

// Config is the stable-ordered workspace configuration
type Config struct {
	Version string      `json:"version"`
	Name    string      `json:"name"`
	RootPath string     `json:"rootPath"`
	Index   IndexConfig `json:"index"`
	Events  EventsConfig `json:"events"`
	Agents  AgentsConfig `json:"agents"`
}

// IndexConfig controls the structured index
type IndexConfig struct {
	RebuildOnStart bool `json:"rebuildOnStart"`
	FTSEnabled     bool `json:"ftsEnabled"`
}

// EventsConfig controls the event subsystem
type EventsConfig struct {
	Enabled    bool  `json:"enabled"`
	MaxLogSize int64 `json:"maxLogSize"`
}

// AgentsConfig controls the agent subsystem
type AgentsConfig struct {
	DefaultAgent string `json:"defaultAgent"`
	AutoAssign   bool   `json:"autoAssign"`
}

// DefaultConfig returns the configuration written by Init when no
// cube.json exists yet
func DefaultConfig(name, root string) *Config {
	return &Config{
		Version:  CurrentVersion,
		Name:     name,
		RootPath: root,
		Index:    IndexConfig{RebuildOnStart: true, FTSEnabled: false},
		Events:   EventsConfig{Enabled: true, MaxLogSize: 10 * 1024 * 1024},
		Agents:   AgentsConfig{DefaultAgent: "", AutoAssign: false},
	}
}

// LoadConfig reads cube.json from the workspace root
func (s *Store) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.KindNotFound, "workspace.load_config", "no %s in %s", ConfigFile, s.root)
		}
		return nil, types.Wrap(types.KindIO, "workspace.load_config", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, types.Wrap(types.KindIO, "workspace.load_config", err)
	}
	return &cfg, nil
}

// SaveConfig writes cube.json with stable key order
func (s *Store) SaveConfig(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return types.Wrap(types.KindIO, "workspace.save_config", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, ConfigFile), append(data, '\n'), 0644); err != nil {
		return types.Wrap(types.KindIO, "workspace.save_config", err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 6970
	DefaultHost         = "127.0.0.1"
	DefaultJSONFilename = "config.json"
	DefaultYAMLFilename = "config.yaml"
	DefaultStorageDir   = "files"
)

// Provider configures one adapter. A provider with an empty APIKey (and no
// environment fallback) is simply not registered.
type Provider struct {
	Name    string `json:"name" yaml:"name"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// Vertex configures the Vertex-hosted Gemini variant.
type Vertex struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Location        string `json:"location,omitempty" yaml:"location,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
}

type Config struct {
	Host       string     `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int        `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey     string     `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Providers  []Provider `json:"providers" yaml:"providers"`
	Vertex     *Vertex    `json:"vertex,omitempty" yaml:"vertex,omitempty"`
	StorageDir string     `json:"storage_dir,omitempty" yaml:"storage_dir,omitempty"`
}

// ProviderByName returns the configuration entry for a provider, if present.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// Manager loads and holds a config snapshot. Get is safe for concurrent use;
// the snapshot is swapped atomically on Load/Save.
type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// GetPath returns the active config file path, preferring an existing JSON
// file, then YAML, defaulting to the JSON path.
func (m *Manager) GetPath() string {
	jsonPath := filepath.Join(m.baseDir, DefaultJSONFilename)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return jsonPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}

func (m *Manager) Load() (*Config, error) {
	path := m.GetPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal json config: %w", err)
		}
	}

	applyDefaults(&cfg, m.baseDir)
	m.configValue.Store(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config, baseDir string) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(baseDir, DefaultStorageDir)
	}
	if cfg.Vertex != nil && cfg.Vertex.Location == "" {
		cfg.Vertex.Location = "us-central1"
	}
}

// Get returns the current snapshot, loading it on first use. Load failure
// yields a defaults-only config.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg, m.baseDir)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	path := filepath.Join(m.baseDir, DefaultJSONFilename)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

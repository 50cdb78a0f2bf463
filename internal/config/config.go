package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 8082
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.yaml"

	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultLMStudioBaseURL = "http://localhost:1234"
)

// BackendKind tags the inference server flavor the gateway talks to.
type BackendKind string

const (
	BackendOllama   BackendKind = "ollama"
	BackendLMStudio BackendKind = "lmstudio"
)

// Route maps one client-facing model name or prefix to a backend model.
type Route struct {
	Pattern string
	Target  string
}

// RouteTable preserves the configuration file's entry order. Prefix
// resolution is first-defined-match, so order is part of the contract.
type RouteTable []Route

func (t *RouteTable) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("models: expected a mapping, got %s", value.Tag)
	}

	table := make(RouteTable, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		table = append(table, Route{
			Pattern: value.Content[i].Value,
			Target:  value.Content[i+1].Value,
		})
	}

	*t = table

	return nil
}

func (t RouteTable) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, r := range t {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: r.Pattern},
			&yaml.Node{Kind: yaml.ScalarNode, Value: r.Target},
		)
	}

	return node, nil
}

// Backend is the per-backend connection and routing configuration.
type Backend struct {
	BaseURL      string     `yaml:"base_url"`
	DefaultModel string     `yaml:"default_model"`
	APIKey       string     `yaml:"api_key,omitempty"`
	Models       RouteTable `yaml:"models,omitempty"`
}

type Config struct {
	Host     string                  `yaml:"host,omitempty"`
	Port     int                     `yaml:"port,omitempty"`
	APIKey   string                  `yaml:"api_key,omitempty"`
	Backend  BackendKind             `yaml:"backend"`
	Backends map[BackendKind]Backend `yaml:"backends"`
}

// Active returns the configuration of the selected backend, with the
// default base URL filled in when unset.
func (c *Config) Active() Backend {
	b := c.Backends[c.Backend]
	if b.BaseURL == "" {
		switch c.Backend {
		case BackendLMStudio:
			b.BaseURL = DefaultLMStudioBaseURL
		default:
			b.BaseURL = DefaultOllamaBaseURL
		}
	}

	return b
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendOllama, BackendLMStudio:
		return nil
	case "":
		return fmt.Errorf("backend is required (ollama or lmstudio)")
	default:
		return fmt.Errorf("unknown backend %q (expected ollama or lmstudio)", c.Backend)
	}
}

// Manager loads and snapshots the on-disk configuration. The snapshot is
// read-only to the translation core.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Host:    DefaultHost,
			Port:    DefaultPort,
			Backend: BackendOllama,
		}
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

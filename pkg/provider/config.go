package provider

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"marketpipe/pkg/confkit"
)

// Config describes the set of market data providers available to a run.
type Config struct {
	Default   string                     `yaml:"default"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures a single provider.
type ProviderConfig struct {
	Type string `yaml:"type"`

	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	VsCurrency string `yaml:"vs_currency"`

	MinIntervalRaw string        `yaml:"min_interval"`
	MinInterval    time.Duration `yaml:"-"`
	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`
}

// Builder constructs a Client from configuration.
type Builder func(name string, cfg *ProviderConfig) (Client, error)

var (
	registry   = make(map[string]Builder)
	registryMu sync.RWMutex
)

// Register registers a provider constructor under a type name.
func Register(typeName string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupBuilder(typeName string) (Builder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	builder, ok := registry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads provider configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open provider config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal provider config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, pc := range c.Providers {
		if pc == nil {
			pc = &ProviderConfig{}
			c.Providers[name] = pc
		}
		pc.expandEnv()
		if err := pc.parseDurations(name); err != nil {
			return err
		}
	}
	c.Default = strings.TrimSpace(c.Default)
	return nil
}

func (p *ProviderConfig) expandEnv() {
	p.Type = strings.TrimSpace(os.ExpandEnv(p.Type))
	p.BaseURL = strings.TrimSpace(os.ExpandEnv(p.BaseURL))
	p.APIKey = strings.TrimSpace(os.ExpandEnv(p.APIKey))
	p.VsCurrency = strings.TrimSpace(os.ExpandEnv(p.VsCurrency))
}

func (p *ProviderConfig) parseDurations(name string) error {
	var err error
	if p.MinInterval, err = parseDuration(p.MinIntervalRaw); err != nil {
		return fmt.Errorf("provider %s: min_interval: %w", name, err)
	}
	if p.HTTPTimeout, err = parseDuration(p.HTTPTimeoutRaw); err != nil {
		return fmt.Errorf("provider %s: http_timeout: %w", name, err)
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}

// Validate checks structural consistency; provider types are resolved later
// by BuildClients so registration order does not matter.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("provider config: at least one provider required")
	}
	if c.Default == "" {
		return fmt.Errorf("provider config: default provider required")
	}
	if _, ok := c.Providers[c.Default]; !ok {
		return fmt.Errorf("provider config: default %q not defined", c.Default)
	}
	for name, pc := range c.Providers {
		if strings.TrimSpace(pc.Type) == "" {
			return fmt.Errorf("provider %s: type required", name)
		}
	}
	return nil
}

// BuildClients instantiates every configured provider.
func (c *Config) BuildClients() (map[string]Client, error) {
	clients := make(map[string]Client, len(c.Providers))
	for name, pc := range c.Providers {
		builder, ok := lookupBuilder(pc.Type)
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown type %q", name, pc.Type)
		}
		client, err := builder(name, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}

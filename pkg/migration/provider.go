package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"candles-api/pkg/candles"
)

// ChunkFunc receives one bounded, chronologically ordered chunk of
// candles produced from a legacy source. Returning an error aborts the
// stream; work committed by earlier invocations stays committed.
type ChunkFunc func(ctx context.Context, chunk []candles.Candle) error

// HistoryProvider streams historical candles out of one legacy source
// format. Implementations never load full history into memory and honor
// context cancellation between chunks.
type HistoryProvider interface {
	// GetStartDate returns the earliest point the source has data for.
	// ok is false when there is nothing to migrate.
	GetStartDate(ctx context.Context, assetPair string, priceType candles.PriceType) (start time.Time, ok bool, err error)
	// GetHistoryByChunks streams source candles with timestamps in
	// (after, until], oldest first, invoking fn once per chunk.
	GetHistoryByChunks(ctx context.Context, assetPair string, priceType candles.PriceType, after, until time.Time, fn ChunkFunc) error
}

// ProviderBuilder constructs a HistoryProvider from configuration.
type ProviderBuilder func(name string, cfg *ProviderConfig) (HistoryProvider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider associates a builder with a source provider type.
// Different legacy systems expose different chunking shapes, so each
// registers its own builder.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// ProviderConfig describes how to construct one source provider.
type ProviderConfig struct {
	Type      string `yaml:"type"`
	DSN       string `yaml:"dsn"`
	Table     string `yaml:"table"`
	ChunkSize int    `yaml:"chunk_size"`
}

// InstrumentConfig selects what to migrate and how.
type InstrumentConfig struct {
	AssetPair string    `yaml:"asset_pair"`
	PriceType string    `yaml:"price_type"`
	Provider  string    `yaml:"provider"`
	Generator string    `yaml:"generator"`
	EndDate   time.Time `yaml:"end_date"`
}

// Config captures the migration run: source providers, instruments and
// the target intervals to write through.
type Config struct {
	Providers   map[string]*ProviderConfig `yaml:"providers"`
	Instruments []InstrumentConfig         `yaml:"instruments"`
	Intervals   []string                   `yaml:"intervals"`
}

// LoadConfig reads migration configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open migration config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read migration config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse migration config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross references before any provider is built.
func (c *Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("migration config: no instruments configured")
	}
	for name, provider := range c.Providers {
		if provider == nil || strings.TrimSpace(provider.Type) == "" {
			return fmt.Errorf("migration config: provider %q missing type", name)
		}
	}
	for i, inst := range c.Instruments {
		if strings.TrimSpace(inst.AssetPair) == "" {
			return fmt.Errorf("migration config: instrument %d missing asset_pair", i)
		}
		if _, err := candles.ParsePriceType(inst.PriceType); err != nil {
			return fmt.Errorf("migration config: instrument %s: %w", inst.AssetPair, err)
		}
		if _, ok := c.Providers[inst.Provider]; !ok {
			return fmt.Errorf("migration config: instrument %s references unknown provider %q", inst.AssetPair, inst.Provider)
		}
		switch inst.Generator {
		case "", GeneratorNoop, GeneratorGapFill:
		default:
			return fmt.Errorf("migration config: instrument %s: unknown generator %q", inst.AssetPair, inst.Generator)
		}
	}
	for _, iv := range c.Intervals {
		parsed, err := candles.ParseInterval(iv)
		if err != nil {
			return fmt.Errorf("migration config: %w", err)
		}
		if !parsed.Specified() {
			return fmt.Errorf("migration config: interval must be specified")
		}
	}
	return nil
}

// BuildProviders constructs every configured provider via the registry.
func (c *Config) BuildProviders() (map[string]HistoryProvider, error) {
	providers := make(map[string]HistoryProvider, len(c.Providers))
	for name, cfg := range c.Providers {
		builder, ok := lookupProviderBuilder(cfg.Type)
		if !ok {
			return nil, fmt.Errorf("migration: unsupported provider type %q", cfg.Type)
		}
		provider, err := builder(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("migration: build provider %s: %w", name, err)
		}
		providers[name] = provider
	}
	return providers, nil
}

// TargetIntervals resolves the configured interval list, defaulting to
// every stored granularity.
func (c *Config) TargetIntervals() []candles.Interval {
	if len(c.Intervals) == 0 {
		return candles.StoredIntervals
	}
	out := make([]candles.Interval, 0, len(c.Intervals))
	for _, raw := range c.Intervals {
		iv, err := candles.ParseInterval(raw)
		if err != nil || !iv.Specified() {
			continue
		}
		out = append(out, iv)
	}
	return out
}

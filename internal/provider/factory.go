package provider

import (
	"context"
	"fmt"

	"azwebvm/internal/config"
)

// New creates a provider based on config type (factory pattern).
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderAzure:
		if cfg.Azure == nil {
			return nil, fmt.Errorf("azure config is nil")
		}
		return NewAzureProvider(ctx, *cfg.Azure)

	case config.ProviderMemory:
		p := NewMemoryProvider()
		if cfg.Memory != nil {
			for key, addr := range cfg.Memory.Addresses {
				p.SeedAddress(key, addr)
			}
			for _, name := range cfg.Memory.FailOn {
				p.FailOn(name, fmt.Errorf("injected failure for %s", name))
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

package adapters

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kiarashplusplus/fiml/internal/provider"
)

// requiresKey lists the adapters that cannot run without a credential.
var requiresKey = map[string]bool{
	"alphavantage": true,
	"newsapi":      true,
}

// Build constructs one adapter from its static config. Unknown names
// are an error; known names with missing required credentials return
// (nil, nil) so callers can skip them with a warning rather than fail.
func Build(cfg provider.Config) (provider.Adapter, error) {
	if requiresKey[cfg.Name] && cfg.APIKey == "" {
		log.Warn().Str("provider", cfg.Name).Msg("Missing API credential, adapter not registered")
		return nil, nil
	}

	switch cfg.Name {
	case "yahoo":
		return NewYahoo(cfg), nil
	case "alphavantage":
		return NewAlphaVantage(cfg), nil
	case "binance":
		return NewBinance(cfg), nil
	case "coingecko":
		return NewCoinGecko(cfg), nil
	case "newsapi":
		return NewNewsAPI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// BuildRegistry assembles a registry from a set of adapter configs,
// skipping disabled entries and entries with missing credentials.
func BuildRegistry(configs []provider.Config) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, cfg := range configs {
		if !cfg.Enabled {
			log.Info().Str("provider", cfg.Name).Msg("Adapter disabled by config")
			continue
		}
		a, err := Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("building adapter %s: %w", cfg.Name, err)
		}
		if a == nil {
			continue
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

package provider

import (
	"context"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
)

// Adapter is the uniform contract every backend satisfies. Fetch
// operations return a ProviderResponse of the matching data type or a
// structured *Error; an adapter that does not implement an operation
// returns an unsupported-operation error, never a fabricated success.
type Adapter interface {
	// Identification and capability.
	Name() string
	Capabilities() []market.DataType
	SupportsAsset(asset market.Asset) bool

	// Lifecycle. Initialize acquires transport resources; Shutdown
	// releases them on every exit path.
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Data operations.
	FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)
	FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error)
	FetchFundamentals(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)
	FetchNews(ctx context.Context, asset market.Asset, limit int) (*market.ProviderResponse, error)
	FetchTechnical(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)

	// Health and scoring inputs. Each may return a sensible default
	// while observation data is thin.
	Health() market.ProviderHealth
	LatencyP95(region string) float64
	LastUpdate(asset market.Asset, dataType market.DataType) time.Time
	Completeness(dataType market.DataType) float64
	SuccessRate() float64
	Uptime24h() float64

	// Cooldown and accounting. The engine records outcomes so adapter
	// health reflects calls it made on the caller's behalf.
	InCooldown() bool
	SetCooldown(d time.Duration)
	RecordSuccess(latency time.Duration)
	RecordError()

	// Config returns the static configuration the adapter was built with.
	Config() Config
}

// Config is the static per-adapter record supplied by configuration.
type Config struct {
	Name               string  `yaml:"name" json:"name"`
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	Priority           int     `yaml:"priority" json:"priority"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	TimeoutSeconds     float64 `yaml:"timeout_seconds" json:"timeout_seconds"`
	APIKey             string  `yaml:"api_key,omitempty" json:"-"`
	APISecret          string  `yaml:"api_secret,omitempty" json:"-"`
	BaseURL            string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
}

// Timeout returns the per-call deadline, defaulting to 10s when unset.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Package providertest provides a configurable in-memory adapter for
// exercising the registry, engine and stream layers without upstream
// traffic.
package providertest

import (
	"context"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

// Mock is an Adapter whose behavior is injected per test. Unset fetch
// functions fall through to the Base defaults (unsupported-operation);
// unset scoring inputs fall through to Base observations.
type Mock struct {
	*provider.Base

	Caps     []market.DataType
	Supports func(asset market.Asset) bool

	PriceFn        func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)
	OHLCVFn        func(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error)
	FundamentalsFn func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)
	NewsFn         func(ctx context.Context, asset market.Asset, limit int) (*market.ProviderResponse, error)
	TechnicalFn    func(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error)

	LatencyMS       *float64
	LastUpd         *time.Time
	CompletenessVal *float64
	SuccessRateVal  *float64
	UptimeVal       *float64
}

// New builds an enabled mock named name that supports every asset and
// serves price data unless reconfigured.
func New(name string) *Mock {
	return &Mock{
		Base: provider.NewBase(provider.Config{
			Name:               name,
			Enabled:            true,
			RateLimitPerMinute: 100000,
			TimeoutSeconds:     5,
		}),
		Caps: []market.DataType{market.DataTypePrice},
	}
}

func (m *Mock) Capabilities() []market.DataType { return m.Caps }

func (m *Mock) SupportsAsset(asset market.Asset) bool {
	if m.Supports != nil {
		return m.Supports(asset)
	}
	return true
}

func (m *Mock) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	if m.PriceFn != nil {
		return m.PriceFn(ctx, asset)
	}
	return m.Base.FetchPrice(ctx, asset)
}

func (m *Mock) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	if m.OHLCVFn != nil {
		return m.OHLCVFn(ctx, asset, timeframe, limit)
	}
	return m.Base.FetchOHLCV(ctx, asset, timeframe, limit)
}

func (m *Mock) FetchFundamentals(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	if m.FundamentalsFn != nil {
		return m.FundamentalsFn(ctx, asset)
	}
	return m.Base.FetchFundamentals(ctx, asset)
}

func (m *Mock) FetchNews(ctx context.Context, asset market.Asset, limit int) (*market.ProviderResponse, error) {
	if m.NewsFn != nil {
		return m.NewsFn(ctx, asset, limit)
	}
	return m.Base.FetchNews(ctx, asset, limit)
}

func (m *Mock) FetchTechnical(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	if m.TechnicalFn != nil {
		return m.TechnicalFn(ctx, asset)
	}
	return m.Base.FetchTechnical(ctx, asset)
}

func (m *Mock) LatencyP95(region string) float64 {
	if m.LatencyMS != nil {
		return *m.LatencyMS
	}
	return m.Base.LatencyP95(region)
}

func (m *Mock) LastUpdate(asset market.Asset, dt market.DataType) time.Time {
	if m.LastUpd != nil {
		return *m.LastUpd
	}
	return m.Base.LastUpdate(asset, dt)
}

func (m *Mock) Completeness(dt market.DataType) float64 {
	if m.CompletenessVal != nil {
		return *m.CompletenessVal
	}
	return m.Base.Completeness(dt)
}

func (m *Mock) SuccessRate() float64 {
	if m.SuccessRateVal != nil {
		return *m.SuccessRateVal
	}
	return m.Base.SuccessRate()
}

func (m *Mock) Uptime24h() float64 {
	if m.UptimeVal != nil {
		return *m.UptimeVal
	}
	return m.Base.Uptime24h()
}

// Response builds a valid, fresh price response from this mock.
func (m *Mock) Response(asset market.Asset, dt market.DataType, data map[string]any, confidence float64) *market.ProviderResponse {
	return &market.ProviderResponse{
		Provider:   m.Name(),
		Asset:      asset,
		DataType:   dt,
		Data:       data,
		Timestamp:  time.Now(),
		IsValid:    true,
		IsFresh:    true,
		Confidence: confidence,
	}
}

// Float is a pointer helper for the override fields.
func Float(v float64) *float64 { return &v }

// Time is a pointer helper for LastUpd.
func Time(t time.Time) *time.Time { return &t }

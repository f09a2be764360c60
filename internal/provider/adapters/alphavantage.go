package adapters

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage serves equity and forex data plus technical indicators.
// Requires an api_key; Initialize fails without one so the registry
// skips the adapter instead of registering a dead backend.
type AlphaVantage struct {
	*provider.Base
	baseURL string
}

// NewAlphaVantage constructs the Alpha Vantage adapter.
func NewAlphaVantage(cfg provider.Config) *AlphaVantage {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = alphaVantageBaseURL
	}
	return &AlphaVantage{Base: provider.NewBase(cfg), baseURL: baseURL}
}

func (a *AlphaVantage) Initialize(ctx context.Context) error {
	if a.Config().APIKey == "" {
		return provider.NewError(a.Name(), provider.KindAuth, "api_key not configured")
	}
	return a.Base.Initialize(ctx)
}

func (a *AlphaVantage) Capabilities() []market.DataType {
	return []market.DataType{
		market.DataTypePrice,
		market.DataTypeOHLCV,
		market.DataTypeFundamentals,
		market.DataTypeTechnical,
	}
}

func (a *AlphaVantage) SupportsAsset(asset market.Asset) bool {
	switch asset.Kind {
	case market.KindEquity, market.KindETF, market.KindForex:
		return true
	}
	return false
}

func (a *AlphaVantage) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	var payload struct {
		GlobalQuote map[string]string `json:"Global Quote"`
		Note        string            `json:"Note"`
	}
	if err := getJSON(ctx, a.Base, a.endpoint("GLOBAL_QUOTE", asset.Symbol, nil), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Note != "" {
		// Alpha Vantage signals throttling with HTTP 200 and a Note body.
		return nil, provider.NewError(a.Name(), provider.KindRateLimit, payload.Note)
	}
	if len(payload.GlobalQuote) == 0 {
		return nil, provider.NewError(a.Name(), provider.KindStructural, "empty global quote")
	}

	price := avFloat(payload.GlobalQuote, "05. price")
	if price <= 0 {
		return nil, provider.NewError(a.Name(), provider.KindStructural, "missing price field")
	}

	data := map[string]any{
		"price":          price,
		"change":         avFloat(payload.GlobalQuote, "09. change"),
		"change_percent": avPercent(payload.GlobalQuote, "10. change percent"),
		"volume":         avFloat(payload.GlobalQuote, "06. volume"),
	}
	return a.NewResponse(asset, market.DataTypePrice, data, 0.90), nil
}

func (a *AlphaVantage) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	var payload struct {
		Series map[string]map[string]string `json:"Time Series (Daily)"`
		Note   string                       `json:"Note"`
	}
	if err := getJSON(ctx, a.Base, a.endpoint("TIME_SERIES_DAILY", asset.Symbol, nil), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Note != "" {
		return nil, provider.NewError(a.Name(), provider.KindRateLimit, payload.Note)
	}
	if len(payload.Series) == 0 {
		return nil, provider.NewError(a.Name(), provider.KindStructural, "empty time series")
	}

	dates := make([]string, 0, len(payload.Series))
	for d := range payload.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if limit > 0 && len(dates) > limit {
		dates = dates[len(dates)-limit:]
	}

	candles := make([]market.Candle, 0, len(dates))
	for _, d := range dates {
		ts, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		row := payload.Series[d]
		candles = append(candles, market.Candle{
			Timestamp: ts.UTC(),
			Open:      avFloat(row, "1. open"),
			High:      avFloat(row, "2. high"),
			Low:       avFloat(row, "3. low"),
			Close:     avFloat(row, "4. close"),
			Volume:    avFloat(row, "5. volume"),
		})
	}

	data := map[string]any{
		"candles":   candles,
		"timeframe": "1d",
	}
	return a.NewResponse(asset, market.DataTypeOHLCV, data, 0.90), nil
}

func (a *AlphaVantage) FetchFundamentals(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	var payload map[string]string
	if err := getJSON(ctx, a.Base, a.endpoint("OVERVIEW", asset.Symbol, nil), nil, &payload); err != nil {
		return nil, err
	}
	if note := payload["Note"]; note != "" {
		return nil, provider.NewError(a.Name(), provider.KindRateLimit, note)
	}
	if payload["Symbol"] == "" {
		return nil, provider.NewError(a.Name(), provider.KindStructural, "empty company overview")
	}

	data := map[string]any{}
	put := func(key, out string) {
		if v := avFloat(payload, key); v != 0 {
			data[out] = v
		}
	}
	put("PERatio", "pe_ratio")
	put("MarketCapitalization", "market_cap")
	put("EPS", "eps")
	put("DividendYield", "dividend_yield")
	put("Beta", "beta")
	put("PriceToBookRatio", "price_to_book")
	put("ProfitMargin", "profit_margin")
	if sector := payload["Sector"]; sector != "" {
		data["sector"] = sector
	}

	return a.NewResponse(asset, market.DataTypeFundamentals, data, 0.90), nil
}

func (a *AlphaVantage) FetchTechnical(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	var payload struct {
		Analysis map[string]map[string]string `json:"Technical Analysis: RSI"`
		Note     string                       `json:"Note"`
	}
	extra := map[string]string{"interval": "daily", "time_period": "14", "series_type": "close"}
	if err := getJSON(ctx, a.Base, a.endpoint("RSI", asset.Symbol, extra), nil, &payload); err != nil {
		return nil, err
	}
	if payload.Note != "" {
		return nil, provider.NewError(a.Name(), provider.KindRateLimit, payload.Note)
	}
	if len(payload.Analysis) == 0 {
		return nil, provider.NewError(a.Name(), provider.KindStructural, "empty RSI series")
	}

	// Latest date wins.
	latest := ""
	for d := range payload.Analysis {
		if d > latest {
			latest = d
		}
	}
	rsi := avFloat(payload.Analysis[latest], "RSI")

	data := map[string]any{
		"rsi":        rsi,
		"rsi_period": 14,
		"as_of":      latest,
	}
	return a.NewResponse(asset, market.DataTypeTechnical, data, 0.85), nil
}

func (a *AlphaVantage) Completeness(dt market.DataType) float64 {
	switch dt {
	case market.DataTypePrice, market.DataTypeOHLCV:
		return 0.90
	case market.DataTypeFundamentals:
		return 0.92
	case market.DataTypeTechnical:
		return 0.80
	}
	return 0
}

func (a *AlphaVantage) endpoint(function, symbol string, extra map[string]string) string {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", a.Config().APIKey)
	for k, v := range extra {
		q.Set(k, v)
	}
	return fmt.Sprintf("%s/query?%s", a.baseURL, q.Encode())
}

func avFloat(m map[string]string, key string) float64 {
	f, _ := strconv.ParseFloat(m[key], 64)
	return f
}

func avPercent(m map[string]string, key string) float64 {
	raw := m[key]
	if n := len(raw); n > 0 && raw[n-1] == '%' {
		raw = raw[:n-1]
	}
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

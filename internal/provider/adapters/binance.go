package adapters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

const binanceBaseURL = "https://api.binance.com"

// Binance serves crypto price and OHLCV from Binance public spot
// endpoints. No credentials required.
type Binance struct {
	*provider.Base
	baseURL string
}

// NewBinance constructs the Binance adapter.
func NewBinance(cfg provider.Config) *Binance {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	return &Binance{Base: provider.NewBase(cfg), baseURL: baseURL}
}

func (b *Binance) Capabilities() []market.DataType {
	return []market.DataType{market.DataTypePrice, market.DataTypeOHLCV}
}

func (b *Binance) SupportsAsset(asset market.Asset) bool {
	return asset.Kind == market.KindCrypto
}

// binanceTicker is the /api/v3/ticker/24hr response subset we consume.
type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

func (b *Binance) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", b.baseURL, b.pairSymbol(asset))

	var ticker binanceTicker
	if err := getJSON(ctx, b.Base, url, nil, &ticker); err != nil {
		return nil, err
	}

	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil || price <= 0 {
		return nil, provider.NewError(b.Name(), provider.KindStructural,
			fmt.Sprintf("unparseable last price %q", ticker.LastPrice))
	}
	change, _ := strconv.ParseFloat(ticker.PriceChange, 64)
	changePct, _ := strconv.ParseFloat(ticker.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(ticker.Volume, 64)

	data := map[string]any{
		"price":          price,
		"change":         change,
		"change_percent": changePct,
		"volume":         volume,
	}
	return b.NewResponse(asset, market.DataTypePrice, data, 0.95), nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	if timeframe == "" {
		timeframe = "1h"
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		b.baseURL, b.pairSymbol(asset), timeframe, limit)

	// Binance klines are positional arrays:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]any
	if err := getJSON(ctx, b.Base, url, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, provider.NewError(b.Name(), provider.KindStructural, "empty kline payload")
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(int64(openTime)).UTC(),
			Open:      parseFloatField(row[1]),
			High:      parseFloatField(row[2]),
			Low:       parseFloatField(row[3]),
			Close:     parseFloatField(row[4]),
			Volume:    parseFloatField(row[5]),
		})
	}
	if len(candles) == 0 {
		return nil, provider.NewError(b.Name(), provider.KindStructural, "no parseable candles")
	}

	data := map[string]any{
		"candles":   candles,
		"timeframe": timeframe,
	}
	return b.NewResponse(asset, market.DataTypeOHLCV, data, 0.95), nil
}

// pairSymbol maps BTC to BTCUSDT unless the asset carries an explicit pair.
func (b *Binance) pairSymbol(asset market.Asset) string {
	if asset.Pair != "" {
		return asset.Pair
	}
	return asset.Symbol + "USDT"
}

func (b *Binance) Completeness(dt market.DataType) float64 {
	switch dt {
	case market.DataTypePrice, market.DataTypeOHLCV:
		return 0.98
	}
	return 0
}

func parseFloatField(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

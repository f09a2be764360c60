package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// coingeckoIDs maps common ticker symbols to CoinGecko coin ids. Symbols
// not listed fall back to the lower-cased symbol, which matches for a
// long tail of coins.
var coingeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"AVAX":  "avalanche-2",
}

// CoinGecko serves crypto price and OHLCV from the CoinGecko public API.
// The free tier is tightly rate limited, so the configured
// rate_limit_per_minute should stay low.
type CoinGecko struct {
	*provider.Base
	baseURL string
}

// NewCoinGecko constructs the CoinGecko adapter.
func NewCoinGecko(cfg provider.Config) *CoinGecko {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = coingeckoBaseURL
	}
	return &CoinGecko{Base: provider.NewBase(cfg), baseURL: baseURL}
}

func (c *CoinGecko) Capabilities() []market.DataType {
	return []market.DataType{market.DataTypePrice, market.DataTypeOHLCV}
}

func (c *CoinGecko) SupportsAsset(asset market.Asset) bool {
	return asset.Kind == market.KindCrypto
}

func (c *CoinGecko) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	id := c.coinID(asset)
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true&include_24hr_vol=true",
		c.baseURL, id)

	var payload map[string]map[string]float64
	if err := getJSON(ctx, c.Base, url, nil, &payload); err != nil {
		return nil, err
	}

	coin, ok := payload[id]
	if !ok {
		return nil, provider.NewError(c.Name(), provider.KindStructural,
			fmt.Sprintf("coin %s missing from payload", id))
	}
	price, ok := coin["usd"]
	if !ok || price <= 0 {
		return nil, provider.NewError(c.Name(), provider.KindStructural, "missing usd price")
	}

	changePct := coin["usd_24h_change"]
	data := map[string]any{
		"price":          price,
		"change":         price * changePct / 100,
		"change_percent": changePct,
		"volume":         coin["usd_24h_vol"],
	}
	return c.NewResponse(asset, market.DataTypePrice, data, 0.90), nil
}

func (c *CoinGecko) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	days := ohlcDays(timeframe, limit)
	url := fmt.Sprintf("%s/coins/%s/ohlc?vs_currency=usd&days=%d", c.baseURL, c.coinID(asset), days)

	// CoinGecko OHLC rows are positional: [ms, open, high, low, close].
	var rows [][]float64
	if err := getJSON(ctx, c.Base, url, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, provider.NewError(c.Name(), provider.KindStructural, "empty ohlc payload")
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(int64(row[0])).UTC(),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	data := map[string]any{
		"candles":   candles,
		"timeframe": timeframe,
	}
	// The OHLC endpoint carries no volume, so completeness and
	// confidence sit below the exchange-native sources.
	return c.NewResponse(asset, market.DataTypeOHLCV, data, 0.80), nil
}

func (c *CoinGecko) coinID(asset market.Asset) string {
	if id, ok := coingeckoIDs[asset.Symbol]; ok {
		return id
	}
	return strings.ToLower(asset.Symbol)
}

func (c *CoinGecko) Completeness(dt market.DataType) float64 {
	switch dt {
	case market.DataTypePrice:
		return 0.90
	case market.DataTypeOHLCV:
		return 0.75 // no volume on the OHLC endpoint
	}
	return 0
}

func ohlcDays(timeframe string, limit int) int {
	if limit <= 0 {
		limit = 100
	}
	switch timeframe {
	case "1d":
		if limit > 90 {
			return 180
		}
		return 90
	case "4h":
		return 30
	default:
		return 7
	}
}

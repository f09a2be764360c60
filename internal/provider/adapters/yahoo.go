package adapters

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo serves equities, ETFs, indices and forex from the Yahoo Finance
// chart and quoteSummary endpoints. No credentials required.
type Yahoo struct {
	*provider.Base
	baseURL string
}

// NewYahoo constructs the Yahoo Finance adapter.
func NewYahoo(cfg provider.Config) *Yahoo {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &Yahoo{Base: provider.NewBase(cfg), baseURL: baseURL}
}

func (y *Yahoo) Capabilities() []market.DataType {
	return []market.DataType{
		market.DataTypePrice,
		market.DataTypeOHLCV,
		market.DataTypeFundamentals,
	}
}

func (y *Yahoo) SupportsAsset(asset market.Asset) bool {
	switch asset.Kind {
	case market.KindEquity, market.KindETF, market.KindIndex, market.KindForex:
		return true
	}
	return false
}

// yahooChart is the subset of the v8 chart response we consume.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				PreviousClose       float64 `json:"chartPreviousClose"`
				RegularMarketVolume float64 `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) FetchPrice(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=1d&interval=1d",
		y.baseURL, url.PathEscape(y.ticker(asset)))

	var chart yahooChart
	if err := getJSON(ctx, y.Base, u, yahooHeaders(), &chart); err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		return nil, provider.NewError(y.Name(), provider.KindProtocol,
			fmt.Sprintf("upstream error %s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "empty chart result")
	}

	meta := chart.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "missing regular market price")
	}

	change := meta.RegularMarketPrice - meta.PreviousClose
	changePct := 0.0
	if meta.PreviousClose > 0 {
		changePct = change / meta.PreviousClose * 100
	}

	data := map[string]any{
		"price":          meta.RegularMarketPrice,
		"change":         change,
		"change_percent": changePct,
		"volume":         meta.RegularMarketVolume,
	}
	return y.NewResponse(asset, market.DataTypePrice, data, 0.95), nil
}

func (y *Yahoo) FetchOHLCV(ctx context.Context, asset market.Asset, timeframe string, limit int) (*market.ProviderResponse, error) {
	interval, rng := yahooRange(timeframe, limit)
	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		y.baseURL, url.PathEscape(y.ticker(asset)), rng, interval)

	var chart yahooChart
	if err := getJSON(ctx, y.Base, u, yahooHeaders(), &chart); err != nil {
		return nil, err
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "empty chart result")
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	candles := make([]market.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		candles = append(candles, market.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(quote.Open, i),
			High:      at(quote.High, i),
			Low:       at(quote.Low, i),
			Close:     at(quote.Close, i),
			Volume:    at(quote.Volume, i),
		})
	}
	if len(candles) == 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "no candles in chart")
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	data := map[string]any{
		"candles":   candles,
		"timeframe": timeframe,
	}
	return y.NewResponse(asset, market.DataTypeOHLCV, data, 0.95), nil
}

// yahooSummary is the quoteSummary subset backing fundamentals.
type yahooSummary struct {
	QuoteSummary struct {
		Result []struct {
			SummaryDetail map[string]struct {
				Raw float64 `json:"raw"`
			} `json:"summaryDetail"`
			DefaultKeyStatistics map[string]struct {
				Raw float64 `json:"raw"`
			} `json:"defaultKeyStatistics"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

func (y *Yahoo) FetchFundamentals(ctx context.Context, asset market.Asset) (*market.ProviderResponse, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=summaryDetail,defaultKeyStatistics",
		y.baseURL, url.PathEscape(y.ticker(asset)))

	var summary yahooSummary
	if err := getJSON(ctx, y.Base, u, yahooHeaders(), &summary); err != nil {
		return nil, err
	}
	if len(summary.QuoteSummary.Result) == 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "empty quote summary")
	}

	result := summary.QuoteSummary.Result[0]
	data := map[string]any{}
	pick := func(src map[string]struct {
		Raw float64 `json:"raw"`
	}, key, out string) {
		if v, ok := src[key]; ok && v.Raw != 0 {
			data[out] = v.Raw
		}
	}
	pick(result.SummaryDetail, "trailingPE", "pe_ratio")
	pick(result.SummaryDetail, "dividendYield", "dividend_yield")
	pick(result.SummaryDetail, "marketCap", "market_cap")
	pick(result.SummaryDetail, "beta", "beta")
	pick(result.DefaultKeyStatistics, "trailingEps", "eps")
	pick(result.DefaultKeyStatistics, "priceToBook", "price_to_book")

	if len(data) == 0 {
		return nil, provider.NewError(y.Name(), provider.KindStructural, "no fundamental fields present")
	}
	return y.NewResponse(asset, market.DataTypeFundamentals, data, 0.85), nil
}

// ticker maps an Asset onto Yahoo's symbol conventions: indices carry a
// ^ prefix, forex pairs an =X suffix.
func (y *Yahoo) ticker(asset market.Asset) string {
	switch asset.Kind {
	case market.KindIndex:
		return "^" + asset.Symbol
	case market.KindForex:
		if asset.Pair != "" {
			return asset.Pair + "=X"
		}
		return asset.Symbol + "=X"
	}
	return asset.Symbol
}

func (y *Yahoo) Completeness(dt market.DataType) float64 {
	switch dt {
	case market.DataTypePrice, market.DataTypeOHLCV:
		return 0.95
	case market.DataTypeFundamentals:
		return 0.85
	}
	return 0
}

func yahooHeaders() map[string]string {
	return map[string]string{"User-Agent": "Mozilla/5.0 (compatible; fiml/1.0)"}
}

func yahooRange(timeframe string, limit int) (interval, rng string) {
	switch timeframe {
	case "1m", "5m", "15m":
		return timeframe, "5d"
	case "1h":
		return "1h", "1mo"
	case "1wk":
		return "1wk", "2y"
	default:
		if limit > 250 {
			return "1d", "2y"
		}
		return "1d", "1y"
	}
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

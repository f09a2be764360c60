package stream

import (
	"github.com/kiarashplusplus/fiml/internal/market"
)

// project turns an engine response into the stream's update shape, or
// nil when the response carries nothing projectable.
func project(st StreamType, symbol string, resp *market.ProviderResponse) any {
	switch st {
	case StreamPrice, StreamMultiAsset:
		return projectPrice(symbol, resp)
	case StreamOHLCV:
		return projectOHLCV(symbol, resp)
	case StreamQuote:
		return projectQuote(symbol, resp)
	case StreamTrades:
		return projectTrade(symbol, resp)
	}
	return nil
}

func projectPrice(symbol string, resp *market.ProviderResponse) any {
	price, ok := floatField(resp.Data, "price")
	if !ok {
		return nil
	}
	update := PriceUpdate{
		Symbol:     symbol,
		Price:      price,
		Timestamp:  resp.Timestamp,
		Provider:   resp.Provider,
		Confidence: resp.Confidence,
	}
	update.Change, _ = floatField(resp.Data, "change")
	update.ChangePercent, _ = floatField(resp.Data, "change_percent")
	if v, ok := floatField(resp.Data, "volume"); ok {
		update.Volume = &v
	}
	return update
}

func projectOHLCV(symbol string, resp *market.ProviderResponse) any {
	candles, ok := resp.Data["candles"].([]market.Candle)
	if !ok || len(candles) == 0 {
		return nil
	}
	// The newest candle is still forming; everything before it is closed.
	latest := candles[len(candles)-1]
	return OHLCVUpdate{
		Symbol:    symbol,
		Timestamp: latest.Timestamp,
		Open:      latest.Open,
		High:      latest.High,
		Low:       latest.Low,
		Close:     latest.Close,
		Volume:    latest.Volume,
		IsClosed:  false,
	}
}

// projectQuote prefers explicit bid/ask fields and degrades to a
// zero-spread quote at the last price when the source has none.
func projectQuote(symbol string, resp *market.ProviderResponse) any {
	bid, hasBid := floatField(resp.Data, "bid")
	ask, hasAsk := floatField(resp.Data, "ask")
	if !hasBid || !hasAsk {
		price, ok := floatField(resp.Data, "price")
		if !ok {
			return nil
		}
		bid, ask = price, price
	}
	update := QuoteUpdate{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Spread:    ask - bid,
		Timestamp: resp.Timestamp,
	}
	if v, ok := floatField(resp.Data, "bid_size"); ok {
		update.BidSize = &v
	}
	if v, ok := floatField(resp.Data, "ask_size"); ok {
		update.AskSize = &v
	}
	return update
}

func projectTrade(symbol string, resp *market.ProviderResponse) any {
	price, ok := floatField(resp.Data, "price")
	if !ok {
		return nil
	}
	update := TradeUpdate{
		Symbol:    symbol,
		Price:     price,
		Timestamp: resp.Timestamp,
	}
	update.Quantity, _ = floatField(resp.Data, "quantity")
	if id, ok := resp.Data["trade_id"].(string); ok {
		update.TradeID = id
	}
	if side, ok := resp.Data["side"].(string); ok {
		update.Side = side
	}
	return update
}

func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

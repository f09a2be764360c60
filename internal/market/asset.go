package market

import (
	"fmt"
	"strings"
)

// AssetKind classifies the instrument class of an asset.
type AssetKind string

const (
	KindEquity    AssetKind = "equity"
	KindCrypto    AssetKind = "crypto"
	KindForex     AssetKind = "forex"
	KindCommodity AssetKind = "commodity"
	KindIndex     AssetKind = "index"
	KindETF       AssetKind = "etf"
	KindOption    AssetKind = "option"
	KindFuture    AssetKind = "future"
)

// Valid reports whether the kind is one of the known instrument classes.
func (k AssetKind) Valid() bool {
	switch k {
	case KindEquity, KindCrypto, KindForex, KindCommodity,
		KindIndex, KindETF, KindOption, KindFuture:
		return true
	}
	return false
}

// Market is a region tag for an asset's primary listing venue.
type Market string

const (
	MarketUS     Market = "US"
	MarketUK     Market = "UK"
	MarketEU     Market = "EU"
	MarketJP     Market = "JP"
	MarketCN     Market = "CN"
	MarketHK     Market = "HK"
	MarketCrypto Market = "CRYPTO"
	MarketGlobal Market = "GLOBAL"
)

// Asset identifies the subject of a market data query.
// Construct through NewAsset so the symbol invariant holds.
type Asset struct {
	Symbol   string    `json:"symbol"`
	Kind     AssetKind `json:"kind"`
	Market   Market    `json:"market"`
	Exchange string    `json:"exchange,omitempty"`
	Pair     string    `json:"pair,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Name     string    `json:"name,omitempty"`
}

// AssetOption customizes optional Asset fields at construction.
type AssetOption func(*Asset)

// WithExchange sets the listing exchange.
func WithExchange(exchange string) AssetOption {
	return func(a *Asset) { a.Exchange = exchange }
}

// WithPair sets the trading pair (crypto/forex).
func WithPair(pair string) AssetOption {
	return func(a *Asset) { a.Pair = strings.ToUpper(strings.TrimSpace(pair)) }
}

// WithCurrency sets the quote currency.
func WithCurrency(currency string) AssetOption {
	return func(a *Asset) { a.Currency = strings.ToUpper(strings.TrimSpace(currency)) }
}

// WithName sets the display name.
func WithName(name string) AssetOption {
	return func(a *Asset) { a.Name = name }
}

// NewAsset builds an Asset. Symbols are trimmed and stored upper-case.
func NewAsset(symbol string, kind AssetKind, market Market, opts ...AssetOption) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Asset{}, fmt.Errorf("asset symbol must be non-empty")
	}
	if !kind.Valid() {
		return Asset{}, fmt.Errorf("unknown asset kind: %q", kind)
	}

	a := Asset{
		Symbol: symbol,
		Kind:   kind,
		Market: market,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a, nil
}

// MustAsset is NewAsset for static test fixtures; panics on invalid input.
func MustAsset(symbol string, kind AssetKind, market Market, opts ...AssetOption) Asset {
	a, err := NewAsset(symbol, kind, market, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the asset as "SYMBOL (kind/market)".
func (a Asset) String() string {
	return fmt.Sprintf("%s (%s/%s)", a.Symbol, a.Kind, a.Market)
}

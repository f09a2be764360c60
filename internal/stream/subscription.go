package stream

import (
	"context"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
)

// Subscription limits and poll bounds.
const (
	maxSymbols  = 50
	minInterval = 100 * time.Millisecond
	maxInterval = 60 * time.Second
)

// Subscription is one connection's long-lived poll loop over a fixed
// symbol set. It does not own the transport; the owning connection
// does. Symbol mutation happens under the manager's lock.
type Subscription struct {
	ID         string
	StreamType StreamType
	Symbols    []string
	Kind       market.AssetKind
	Market     market.Market
	DataType   market.DataType
	Interval   time.Duration
	Params     map[string]any

	CreatedAt  time.Time
	LastUpdate time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// clampInterval forces the poll period into [100ms, 60s], defaulting to
// one second when the client sent nothing.
func clampInterval(ms int) time.Duration {
	if ms <= 0 {
		return time.Second
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minInterval {
		return minInterval
	}
	if d > maxInterval {
		return maxInterval
	}
	return d
}

// dataTypeFor derives the engine data type a stream polls when the
// client did not pin one explicitly.
func dataTypeFor(st StreamType, explicit string) market.DataType {
	if explicit != "" {
		return market.DataType(explicit)
	}
	switch st {
	case StreamOHLCV:
		return market.DataTypeOHLCV
	default:
		// price, quote, trades and multi_asset all poll price data and
		// differ only in projection.
		return market.DataTypePrice
	}
}

// removeSymbols narrows the subscription's symbol set, preserving the
// order of the survivors. Returns the number of symbols left.
func (s *Subscription) removeSymbols(remove []string) int {
	drop := make(map[string]bool, len(remove))
	for _, sym := range remove {
		drop[sym] = true
	}
	kept := s.Symbols[:0]
	for _, sym := range s.Symbols {
		if !drop[sym] {
			kept = append(kept, sym)
		}
	}
	s.Symbols = kept
	return len(kept)
}

// stop cancels the poll loop and waits for it to exit.
func (s *Subscription) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

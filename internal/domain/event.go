package domain

import "github.com/shopspring/decimal"

// UnknownLabel is the sentinel used when the upstream omits a display field.
const UnknownLabel = "Unknown"

// TokenEvent is the canonical representation of one observed token launch.
// All heterogeneous upstream shapes normalize into this struct before any
// freshness or filter decision is made.
type TokenEvent struct {
	Address              string           // token address, primary dedup key
	Name                 string           // display only, UnknownLabel if absent
	Symbol               string           // display only, UnknownLabel if absent
	PriceUsd             *decimal.Decimal // nil when upstream has no price
	LiquidityUsd         decimal.Decimal  // must be > 0 for the event to be eligible
	MarketCapUsd         decimal.Decimal  // derived when absent, see feed normalization
	FullyDilutedValueUsd *decimal.Decimal // nil when upstream has no FDV
	HoldersCount         *int64           // nil means holder-based filters are skipped
	TradingEnabled       bool             // defaults to true when unknown
	ContractAgeMinutes   *int64           // nil when launch time is unknown
	DevHoldingsPercent   *decimal.Decimal // 0-100, nil when unknown
	ObservedAtMs         int64            // Unix ms, freshness comparison key
}

// Eligible reports whether the event may proceed past normalization.
// Events without an address or without positive liquidity never reach
// the freshness tracker or the filter engine.
func (e *TokenEvent) Eligible() bool {
	return e.Address != "" && e.LiquidityUsd.IsPositive()
}

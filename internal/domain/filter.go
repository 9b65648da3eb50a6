package domain

import "github.com/shopspring/decimal"

// FilterSpec is one subscriber-authored alert rule. Specs are created and
// soft-deleted by the filter-management collaborator; the core only reads
// them. All bounds are inclusive and independently nullable: a nil bound
// is unconstrained.
type FilterSpec struct {
	ID           string // spec identifier, opaque to the core
	SubscriberID string // owner

	MinMarketCap *decimal.Decimal
	MaxMarketCap *decimal.Decimal
	MinLiquidity *decimal.Decimal
	MaxLiquidity *decimal.Decimal
	MinHolders   *int64
	MaxHolders   *int64

	MaxDevHoldingsPercent *decimal.Decimal
	MinContractAgeMinutes *int64

	// RequiredTradingEnabled is tri-state: nil is unconstrained, otherwise
	// the event's TradingEnabled must equal the pointed-to value.
	RequiredTradingEnabled *bool

	// IsActive is false for soft-deleted specs. Inactive specs are never
	// evaluated.
	IsActive bool
}

// Package match evaluates token events against filter specs. Evaluation
// is a pure function: no I/O, no clock, no state.
package match

import "tokenwatch/internal/domain"

// Predicate identifies one filter bound for diagnostics.
type Predicate string

const (
	PredicateMarketCapMin   Predicate = "market_cap_min"
	PredicateMarketCapMax   Predicate = "market_cap_max"
	PredicateLiquidityMin   Predicate = "liquidity_min"
	PredicateLiquidityMax   Predicate = "liquidity_max"
	PredicateHoldersMin     Predicate = "holders_min"
	PredicateHoldersMax     Predicate = "holders_max"
	PredicateDevHoldingsMax Predicate = "dev_holdings_max"
	PredicateContractAgeMin Predicate = "contract_age_min"
	PredicateTradingEnabled Predicate = "trading_enabled"
)

// Result is the outcome of evaluating one event against one spec.
// FailedPredicate is empty when Matched is true.
type Result struct {
	Matched         bool
	FailedPredicate Predicate
}

// Matches evaluates the event against the spec. Predicates run in a fixed
// order and the first failure short-circuits, so FailedPredicate is
// deterministic for a given input.
//
// A bound that depends on data the event does not carry is skipped, not
// failed: an event without a holder count passes holder bounds, an event
// without dev-holdings data passes the dev-holdings bound, an event
// without a known launch time passes the contract-age bound. Incomplete
// enrichment never disqualifies a token on its own.
func Matches(e *domain.TokenEvent, s *domain.FilterSpec) Result {
	if s.MinMarketCap != nil && e.MarketCapUsd.LessThan(*s.MinMarketCap) {
		return failed(PredicateMarketCapMin)
	}
	if s.MaxMarketCap != nil && e.MarketCapUsd.GreaterThan(*s.MaxMarketCap) {
		return failed(PredicateMarketCapMax)
	}

	if s.MinLiquidity != nil && e.LiquidityUsd.LessThan(*s.MinLiquidity) {
		return failed(PredicateLiquidityMin)
	}
	if s.MaxLiquidity != nil && e.LiquidityUsd.GreaterThan(*s.MaxLiquidity) {
		return failed(PredicateLiquidityMax)
	}

	if e.HoldersCount != nil {
		if s.MinHolders != nil && *e.HoldersCount < *s.MinHolders {
			return failed(PredicateHoldersMin)
		}
		if s.MaxHolders != nil && *e.HoldersCount > *s.MaxHolders {
			return failed(PredicateHoldersMax)
		}
	}

	if s.MaxDevHoldingsPercent != nil && e.DevHoldingsPercent != nil &&
		e.DevHoldingsPercent.GreaterThan(*s.MaxDevHoldingsPercent) {
		return failed(PredicateDevHoldingsMax)
	}

	if s.MinContractAgeMinutes != nil && e.ContractAgeMinutes != nil &&
		*e.ContractAgeMinutes < *s.MinContractAgeMinutes {
		return failed(PredicateContractAgeMin)
	}

	if s.RequiredTradingEnabled != nil && e.TradingEnabled != *s.RequiredTradingEnabled {
		return failed(PredicateTradingEnabled)
	}

	return Result{Matched: true}
}

func failed(p Predicate) Result {
	return Result{FailedPredicate: p}
}

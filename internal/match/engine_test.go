package match

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tokenwatch/internal/domain"
)

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func i64(v int64) *int64 { return &v }

func boolPtr(v bool) *bool { return &v }

// fullEvent carries every optional field.
func fullEvent() *domain.TokenEvent {
	return &domain.TokenEvent{
		Address:            "tokenA",
		Name:               "Example",
		Symbol:             "EXM",
		PriceUsd:           dec(0.5),
		LiquidityUsd:       decimal.NewFromInt(20000),
		MarketCapUsd:       decimal.NewFromInt(100000),
		HoldersCount:       i64(150),
		TradingEnabled:     true,
		ContractAgeMinutes: i64(30),
		DevHoldingsPercent: dec(4),
	}
}

func TestMatchesAllBounds(t *testing.T) {
	spec := &domain.FilterSpec{
		ID:                     "spec1",
		SubscriberID:           "sub1",
		MinMarketCap:           dec(50000),
		MaxMarketCap:           dec(500000),
		MinLiquidity:           dec(10000),
		MaxLiquidity:           dec(100000),
		MinHolders:             i64(100),
		MaxHolders:             i64(10000),
		MaxDevHoldingsPercent:  dec(5),
		MinContractAgeMinutes:  i64(10),
		RequiredTradingEnabled: boolPtr(true),
		IsActive:               true,
	}

	res := Matches(fullEvent(), spec)
	assert.True(t, res.Matched)
	assert.Empty(t, res.FailedPredicate)
}

func TestMatchesEmptySpecMatchesEverything(t *testing.T) {
	res := Matches(fullEvent(), &domain.FilterSpec{ID: "open", SubscriberID: "sub1", IsActive: true})
	assert.True(t, res.Matched)
}

func TestMatchesSingleBoundFailures(t *testing.T) {
	cases := []struct {
		name string
		spec domain.FilterSpec
		want Predicate
	}{
		{"market cap below min", domain.FilterSpec{MinMarketCap: dec(200000)}, PredicateMarketCapMin},
		{"market cap above max", domain.FilterSpec{MaxMarketCap: dec(50000)}, PredicateMarketCapMax},
		{"liquidity below min", domain.FilterSpec{MinLiquidity: dec(50000)}, PredicateLiquidityMin},
		{"liquidity above max", domain.FilterSpec{MaxLiquidity: dec(10000)}, PredicateLiquidityMax},
		{"holders below min", domain.FilterSpec{MinHolders: i64(500)}, PredicateHoldersMin},
		{"holders above max", domain.FilterSpec{MaxHolders: i64(100)}, PredicateHoldersMax},
		{"dev holdings above max", domain.FilterSpec{MaxDevHoldingsPercent: dec(2)}, PredicateDevHoldingsMax},
		{"contract too young", domain.FilterSpec{MinContractAgeMinutes: i64(60)}, PredicateContractAgeMin},
		{"trading must be disabled", domain.FilterSpec{RequiredTradingEnabled: boolPtr(false)}, PredicateTradingEnabled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Matches(fullEvent(), &tc.spec)
			assert.False(t, res.Matched)
			assert.Equal(t, tc.want, res.FailedPredicate)
		})
	}
}

func TestMatchesInclusiveBoundaries(t *testing.T) {
	e := fullEvent()
	spec := &domain.FilterSpec{
		MinMarketCap: dec(100000),
		MaxMarketCap: dec(100000),
		MinLiquidity: dec(20000),
		MaxLiquidity: dec(20000),
		MinHolders:   i64(150),
		MaxHolders:   i64(150),
	}
	assert.True(t, Matches(e, spec).Matched)
}

func TestMatchesSkipsBoundsWithoutData(t *testing.T) {
	e := fullEvent()
	e.HoldersCount = nil
	e.DevHoldingsPercent = nil
	e.ContractAgeMinutes = nil

	spec := &domain.FilterSpec{
		MinHolders:            i64(1000000),
		MaxHolders:            i64(1),
		MaxDevHoldingsPercent: dec(0),
		MinContractAgeMinutes: i64(100000),
	}
	res := Matches(e, spec)
	assert.True(t, res.Matched)
}

func TestMatchesFirstFailureWins(t *testing.T) {
	// Multiple bounds fail; the fixed evaluation order reports the first.
	spec := &domain.FilterSpec{
		MinMarketCap: dec(1000000),
		MinLiquidity: dec(1000000),
		MinHolders:   i64(1000000),
	}
	res := Matches(fullEvent(), spec)
	assert.False(t, res.Matched)
	assert.Equal(t, PredicateMarketCapMin, res.FailedPredicate)
}

func TestMatchesTradingRequiredTrue(t *testing.T) {
	e := fullEvent()
	e.TradingEnabled = false

	spec := &domain.FilterSpec{RequiredTradingEnabled: boolPtr(true)}
	res := Matches(e, spec)
	assert.False(t, res.Matched)
	assert.Equal(t, PredicateTradingEnabled, res.FailedPredicate)

	// Nil means indifferent.
	assert.True(t, Matches(e, &domain.FilterSpec{}).Matched)
}

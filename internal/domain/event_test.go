package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEligible(t *testing.T) {
	ev := &TokenEvent{Address: "tokenA", LiquidityUsd: decimal.NewFromInt(100)}
	assert.True(t, ev.Eligible())

	assert.False(t, (&TokenEvent{LiquidityUsd: decimal.NewFromInt(100)}).Eligible())
	assert.False(t, (&TokenEvent{Address: "tokenA"}).Eligible())
	assert.False(t, (&TokenEvent{Address: "tokenA", LiquidityUsd: decimal.NewFromInt(-1)}).Eligible())
}

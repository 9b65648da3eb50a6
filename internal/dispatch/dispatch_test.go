package dispatch

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenwatch/internal/domain"
)

func alert(id string) *domain.AlertRequest {
	return &domain.AlertRequest{
		ID:           id,
		SubscriberID: "sub1",
		FilterID:     "spec1",
		Event: &domain.TokenEvent{
			Address:      "tokenA",
			Symbol:       "EXM",
			LiquidityUsd: decimal.NewFromInt(1000),
			MarketCapUsd: decimal.NewFromInt(2000),
		},
	}
}

func TestLogDispatcherDeliver(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewLogDispatcher(logger)

	assert.NoError(t, d.Deliver(context.Background(), alert("a1")))
}

func TestCaptureRecordsAlerts(t *testing.T) {
	c := NewCapture()

	require.NoError(t, c.Deliver(context.Background(), alert("a1")))
	require.NoError(t, c.Deliver(context.Background(), alert("a2")))

	assert.Equal(t, 2, c.Count())
	alerts := c.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "a1", alerts[0].ID)
	assert.Equal(t, "a2", alerts[1].ID)
}

func TestCaptureFailWithStillRecords(t *testing.T) {
	c := NewCapture()
	c.FailWith = errors.New("delivery down")

	err := c.Deliver(context.Background(), alert("a1"))
	assert.Error(t, err)
	assert.Equal(t, 1, c.Count())
}

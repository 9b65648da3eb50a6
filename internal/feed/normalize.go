package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"tokenwatch/internal/domain"
)

// envelopeKeys are the property names under which upstream revisions have
// been observed to return the token list. Tried in order after the
// bare-array shape.
var envelopeKeys = []string{"data", "result", "tokens", "pairs", "items"}

// extractRecords pulls the raw token records out of a response body.
// Accepted shapes: a bare JSON array, or an object with the list under one
// of envelopeKeys. Returns ErrMalformedResponse when none match.
func extractRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrMalformedResponse
	}

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, ErrMalformedResponse
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, ErrMalformedResponse
	}

	for _, key := range envelopeKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var records []json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			continue
		}
		return records, nil
	}

	return nil, ErrMalformedResponse
}

// flexDecimal accepts a JSON number, a numeric string, or null. Anything
// unparseable is treated as absent rather than failing the record.
type flexDecimal struct {
	val decimal.Decimal
	ok  bool
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f.val = d
	f.ok = true
	return nil
}

func (f flexDecimal) ptr() *decimal.Decimal {
	if !f.ok {
		return nil
	}
	v := f.val
	return &v
}

// flexInt accepts a JSON integer, a float, a numeric string, or null, with
// the same absent-on-unparseable policy as flexDecimal.
type flexInt struct {
	val int64
	ok  bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.val = v
		f.ok = true
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		f.val = int64(v)
		f.ok = true
	}
	return nil
}

// rawToken mirrors the union of field names observed across upstream
// response revisions.
type rawToken struct {
	Address      string `json:"address"`
	Mint         string `json:"mint"`
	TokenAddress string `json:"tokenAddress"`

	Name   string `json:"name"`
	Symbol string `json:"symbol"`

	PriceUsd flexDecimal `json:"priceUsd"`
	Price    flexDecimal `json:"price"`

	LiquidityUsd flexDecimal `json:"liquidityUsd"`
	Liquidity    flexDecimal `json:"liquidity"`

	MarketCapUsd flexDecimal `json:"marketCapUsd"`
	MarketCap    flexDecimal `json:"marketCap"`

	Fdv               flexDecimal `json:"fdv"`
	FullyDilutedValue flexDecimal `json:"fullyDilutedValue"`

	Holders      flexInt `json:"holders"`
	HoldersCount flexInt `json:"holdersCount"`

	TradingEnabled *bool `json:"tradingEnabled"`

	DevHoldingsPercent flexDecimal `json:"devHoldingsPercent"`
	DevHoldings        flexDecimal `json:"devHoldings"`

	LaunchTimestamp flexInt `json:"launchTimestamp"`
	CreatedAt       flexInt `json:"createdAt"`
	Timestamp       flexInt `json:"timestamp"`
}

// msThreshold distinguishes second-precision epoch values from
// millisecond-precision ones. Anything below it is treated as seconds.
const msThreshold = int64(1e12)

func toMillis(v int64) int64 {
	if v < msThreshold {
		return v * 1000
	}
	return v
}

// normalizeRecord converts one raw upstream record into a canonical
// TokenEvent. Returns false when the record is ineligible: missing address
// or zero/absent liquidity.
func normalizeRecord(raw json.RawMessage, nowMs int64) (*domain.TokenEvent, bool) {
	var rt rawToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, false
	}

	address := rt.Address
	if address == "" {
		address = rt.Mint
	}
	if address == "" {
		address = rt.TokenAddress
	}
	if address == "" {
		return nil, false
	}

	liquidity := rt.LiquidityUsd
	if !liquidity.ok {
		liquidity = rt.Liquidity
	}
	if !liquidity.ok || !liquidity.val.IsPositive() {
		return nil, false
	}

	ev := &domain.TokenEvent{
		Address:        address,
		Name:           rt.Name,
		Symbol:         rt.Symbol,
		LiquidityUsd:   liquidity.val,
		TradingEnabled: true,
		ObservedAtMs:   nowMs,
	}
	if ev.Name == "" {
		ev.Name = domain.UnknownLabel
	}
	if ev.Symbol == "" {
		ev.Symbol = domain.UnknownLabel
	}
	if rt.TradingEnabled != nil {
		ev.TradingEnabled = *rt.TradingEnabled
	}

	price := rt.PriceUsd
	if !price.ok {
		price = rt.Price
	}
	ev.PriceUsd = price.ptr()

	marketCap := rt.MarketCapUsd
	if !marketCap.ok {
		marketCap = rt.MarketCap
	}
	switch {
	case marketCap.ok:
		ev.MarketCapUsd = marketCap.val
	case price.ok:
		// Fallback heuristic carried over from the upstream contract:
		// price x liquidity when a price is known.
		ev.MarketCapUsd = price.val.Mul(liquidity.val)
	default:
		// Second fallback: liquidity x 2.
		ev.MarketCapUsd = liquidity.val.Mul(decimal.NewFromInt(2))
	}

	fdv := rt.Fdv
	if !fdv.ok {
		fdv = rt.FullyDilutedValue
	}
	ev.FullyDilutedValueUsd = fdv.ptr()

	holders := rt.HoldersCount
	if !holders.ok {
		holders = rt.Holders
	}
	if holders.ok && holders.val >= 0 {
		v := holders.val
		ev.HoldersCount = &v
	}

	dev := rt.DevHoldingsPercent
	if !dev.ok {
		dev = rt.DevHoldings
	}
	ev.DevHoldingsPercent = dev.ptr()

	launch := rt.LaunchTimestamp
	if !launch.ok {
		launch = rt.CreatedAt
	}
	if launch.ok && launch.val > 0 {
		age := (nowMs - toMillis(launch.val)) / 60000
		if age < 0 {
			age = 0
		}
		ev.ContractAgeMinutes = &age
	}

	if rt.Timestamp.ok && rt.Timestamp.val > 0 {
		ev.ObservedAtMs = toMillis(rt.Timestamp.val)
	}

	return ev, true
}

// plausibleAddress reports whether the address decodes as a base58 key of
// the expected width. Used for diagnostics only; implausible addresses are
// still processed.
func plausibleAddress(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

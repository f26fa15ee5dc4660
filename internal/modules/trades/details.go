// Package trades implements the OTC trade request lifecycle: economic terms,
// the state machine, the append-only history log, snapshot diffing, the
// authorization policy and the lifecycle service that composes them.
package trades

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for all trade dates
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day, normalized to UTC midnight
type Date struct {
	t time.Time
}

// NewDate builds a Date from its calendar components
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar date in the timestamp's location
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return Date{t: t}, nil
}

// AddDays returns the date n days later (or earlier for negative n)
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly earlier than other
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is strictly later than other
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// IsZero reports whether the date was never set
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns the date as a UTC midnight timestamp
func (d Date) Time() time.Time {
	return d.t
}

func (d Date) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// MarshalJSON renders the date as "YYYY-MM-DD"
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "YYYY-MM-DD"
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TradeDetails holds the economic terms of a trade.
// Details are replaced wholesale on update; a copy embedded in a history
// snapshot is never mutated afterwards.
type TradeDetails struct {
	TradingEntity  string   `json:"trading_entity"`
	Counterparty   string   `json:"counterparty"`
	Direction      string   `json:"direction"` // Buy or Sell
	Style          string   `json:"style"`     // Forward or Swap
	Currency       string   `json:"currency"`
	NotionalAmount float64  `json:"notional_amount"`
	Underlying     []string `json:"underlying"`
	TradeDate      Date     `json:"trade_date"`
	ValueDate      Date     `json:"value_date"`
	DeliveryDate   Date     `json:"delivery_date"`
	Strike         *float64 `json:"strike"`
}

// Validate checks trade_date <= value_date <= delivery_date
func (d TradeDetails) Validate() error {
	if d.TradeDate.After(d.ValueDate) || d.ValueDate.After(d.DeliveryDate) {
		return &DateOrderError{
			TradeDate:    d.TradeDate,
			ValueDate:    d.ValueDate,
			DeliveryDate: d.DeliveryDate,
		}
	}
	return nil
}

// Clone returns a deep copy that shares no memory with d
func (d TradeDetails) Clone() TradeDetails {
	out := d
	if d.Underlying != nil {
		out.Underlying = append([]string(nil), d.Underlying...)
	}
	if d.Strike != nil {
		strike := *d.Strike
		out.Strike = &strike
	}
	return out
}

// WithStrike returns a copy of the details with the strike price set
func (d TradeDetails) WithStrike(price float64) TradeDetails {
	out := d.Clone()
	out.Strike = &price
	return out
}

// Fields flattens the details into named values for diffing.
// Dates are rendered as strings, an unset strike is nil and the underlying
// codes stay a single ordered list.
func (d TradeDetails) Fields() map[string]interface{} {
	var strike interface{}
	if d.Strike != nil {
		strike = *d.Strike
	}

	var underlying interface{}
	if d.Underlying != nil {
		underlying = append([]string(nil), d.Underlying...)
	}

	return map[string]interface{}{
		"trading_entity":  d.TradingEntity,
		"counterparty":    d.Counterparty,
		"direction":       d.Direction,
		"style":           d.Style,
		"currency":        d.Currency,
		"notional_amount": d.NotionalAmount,
		"underlying":      underlying,
		"trade_date":      d.TradeDate.String(),
		"value_date":      d.ValueDate.String(),
		"delivery_date":   d.DeliveryDate.String(),
		"strike":          strike,
	}
}

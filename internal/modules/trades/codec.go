package trades

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// detailsRecord is the stored shape of TradeDetails, shared by the live
// details column and every history snapshot
type detailsRecord struct {
	TradingEntity  string   `msgpack:"trading_entity"`
	Counterparty   string   `msgpack:"counterparty"`
	Direction      string   `msgpack:"direction"`
	Style          string   `msgpack:"style"`
	Currency       string   `msgpack:"currency"`
	NotionalAmount float64  `msgpack:"notional_amount"`
	Underlying     []string `msgpack:"underlying"`
	TradeDate      string   `msgpack:"trade_date"`
	ValueDate      string   `msgpack:"value_date"`
	DeliveryDate   string   `msgpack:"delivery_date"`
	Strike         *float64 `msgpack:"strike"`
}

// EncodeDetails serializes details for storage
func EncodeDetails(d TradeDetails) ([]byte, error) {
	rec := detailsRecord{
		TradingEntity:  d.TradingEntity,
		Counterparty:   d.Counterparty,
		Direction:      d.Direction,
		Style:          d.Style,
		Currency:       d.Currency,
		NotionalAmount: d.NotionalAmount,
		Underlying:     d.Underlying,
		TradeDate:      d.TradeDate.String(),
		ValueDate:      d.ValueDate.String(),
		DeliveryDate:   d.DeliveryDate.String(),
		Strike:         d.Strike,
	}

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trade details: %w", err)
	}
	return data, nil
}

// DecodeDetails restores details written by EncodeDetails
func DecodeDetails(data []byte) (TradeDetails, error) {
	var rec detailsRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return TradeDetails{}, fmt.Errorf("failed to decode trade details: %w", err)
	}

	d := TradeDetails{
		TradingEntity:  rec.TradingEntity,
		Counterparty:   rec.Counterparty,
		Direction:      rec.Direction,
		Style:          rec.Style,
		Currency:       rec.Currency,
		NotionalAmount: rec.NotionalAmount,
		Underlying:     rec.Underlying,
		Strike:         rec.Strike,
	}

	var err error
	if d.TradeDate, err = parseStoredDate(rec.TradeDate); err != nil {
		return TradeDetails{}, err
	}
	if d.ValueDate, err = parseStoredDate(rec.ValueDate); err != nil {
		return TradeDetails{}, err
	}
	if d.DeliveryDate, err = parseStoredDate(rec.DeliveryDate); err != nil {
		return TradeDetails{}, err
	}

	return d, nil
}

func parseStoredDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	return ParseDate(s)
}

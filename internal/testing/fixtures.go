package testing

import (
	"time"

	"github.com/aristath/tradeapproval/internal/modules/trades"
)

// NewTradeDetailsFixture returns valid Forward terms with dates
// 2025-03-10 / +2 days / +3 days
func NewTradeDetailsFixture() trades.TradeDetails {
	tradeDate := trades.NewDate(2025, time.March, 10)
	return trades.TradeDetails{
		TradingEntity:  "TE1",
		Counterparty:   "CP1",
		Direction:      "Buy",
		Style:          "Forward",
		Currency:       "USD",
		NotionalAmount: 1000000,
		Underlying:     []string{"EUR", "USD"},
		TradeDate:      tradeDate,
		ValueDate:      tradeDate.AddDays(2),
		DeliveryDate:   tradeDate.AddDays(3),
	}
}

// NewPrincipalFixtures returns two requesters and one approver
func NewPrincipalFixtures() []trades.Principal {
	return []trades.Principal{
		{ID: "alice", Role: trades.RoleUser},
		{ID: "bob", Role: trades.RoleUser},
		{ID: "admin", Role: trades.RoleAdmin},
	}
}

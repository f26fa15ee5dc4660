// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Trade lifecycle events
	TradeSubmitted          EventType = "TRADE_SUBMITTED"
	TradeApproved           EventType = "TRADE_APPROVED"
	TradeUpdated            EventType = "TRADE_UPDATED"
	TradeCancelled          EventType = "TRADE_CANCELLED"
	TradeSentToCounterparty EventType = "TRADE_SENT_TO_COUNTERPARTY"
	TradeBooked             EventType = "TRADE_BOOKED"

	// System events
	BackupCompleted EventType = "BACKUP_COMPLETED"
	ErrorOccurred   EventType = "ERROR_OCCURRED"
)

// LifecycleEventTypes lists every trade lifecycle event type
var LifecycleEventTypes = []EventType{
	TradeSubmitted,
	TradeApproved,
	TradeUpdated,
	TradeCancelled,
	TradeSentToCounterparty,
	TradeBooked,
}

// AllEventTypes lists every event type the bus can carry
var AllEventTypes = append(append([]EventType{}, LifecycleEventTypes...), BackupCompleted, ErrorOccurred)

// Event represents a system event with typed data
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

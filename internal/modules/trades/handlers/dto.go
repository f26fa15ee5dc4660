package handlers

import (
	"fmt"
	"time"

	"github.com/aristath/tradeapproval/internal/modules/trades"
)

// detailsRequest wraps trade details in submit and update bodies.
// Extra fields such as requester_id or user_id are accepted and ignored;
// the acting principal always comes from the X-User-Id header.
type detailsRequest struct {
	Details *trades.TradeDetails `json:"details"`
}

type bookRequest struct {
	Strike *float64 `json:"strike"`
}

// TradeResponse is the wire shape of a trade
type TradeResponse struct {
	ID          string              `json:"id"`
	State       trades.TradeState   `json:"state"`
	RequesterID string              `json:"requester_id"`
	Details     trades.TradeDetails `json:"details"`
	History     []HistoryResponse   `json:"history"`
}

// HistoryResponse is the wire shape of one history record
type HistoryResponse struct {
	Timestamp       string              `json:"timestamp"`
	UserID          string              `json:"user_id"`
	Action          string              `json:"action"`
	PreviousState   trades.TradeState   `json:"previous_state"`
	NewState        trades.TradeState   `json:"new_state"`
	DetailsSnapshot trades.TradeDetails `json:"details_snapshot"`
}

// HistoryListResponse wraps GET /trades/{id}/history
type HistoryListResponse struct {
	History []HistoryResponse `json:"history"`
}

// DiffResponse wraps GET /trades/{id}/diff
type DiffResponse struct {
	Differences map[string]trades.FieldChange `json:"differences"`
}

func toTradeResponse(t *trades.Trade) TradeResponse {
	return TradeResponse{
		ID:          t.ID,
		State:       t.State,
		RequesterID: t.RequesterID,
		Details:     t.Details,
		History:     toHistoryResponses(t.History),
	}
}

func toHistoryResponses(records []trades.HistoryRecord) []HistoryResponse {
	out := make([]HistoryResponse, 0, len(records))
	for _, h := range records {
		out = append(out, HistoryResponse{
			Timestamp:       h.Timestamp.UTC().Format(time.RFC3339Nano),
			UserID:          h.UserID,
			Action:          h.Action,
			PreviousState:   h.PreviousState,
			NewState:        h.NewState,
			DetailsSnapshot: h.DetailsSnapshot,
		})
	}
	return out
}

// checkRequired rejects payloads that omit mandatory economic terms
func checkRequired(d trades.TradeDetails) error {
	required := []struct {
		name  string
		blank bool
	}{
		{"trading_entity", d.TradingEntity == ""},
		{"counterparty", d.Counterparty == ""},
		{"direction", d.Direction == ""},
		{"style", d.Style == ""},
		{"currency", d.Currency == ""},
		{"underlying", d.Underlying == nil},
		{"trade_date", d.TradeDate.IsZero()},
		{"value_date", d.ValueDate.IsZero()},
		{"delivery_date", d.DeliveryDate.IsZero()},
	}

	for _, field := range required {
		if field.blank {
			return fmt.Errorf("details.%s is required", field.name)
		}
	}
	return nil
}

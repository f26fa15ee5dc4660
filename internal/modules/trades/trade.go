package trades

import (
	"time"

	"github.com/google/uuid"
)

// HistoryRecord is one immutable audit entry of a trade
type HistoryRecord struct {
	Timestamp       time.Time    `json:"timestamp"`
	UserID          string       `json:"user_id"`
	Action          string       `json:"action"`
	PreviousState   TradeState   `json:"previous_state"`
	NewState        TradeState   `json:"new_state"`
	DetailsSnapshot TradeDetails `json:"details_snapshot"`
}

// Clone deep-copies the record including its snapshot
func (h HistoryRecord) Clone() HistoryRecord {
	out := h
	out.DetailsSnapshot = h.DetailsSnapshot.Clone()
	return out
}

// Trade is the aggregate root of a trade request.
// ID and RequesterID never change after creation; History only grows.
type Trade struct {
	ID          string          `json:"id"`
	RequesterID string          `json:"requester_id"`
	Details     TradeDetails    `json:"details"`
	State       TradeState      `json:"state"`
	History     []HistoryRecord `json:"history"`

	// Version is the optimistic concurrency token maintained by repositories.
	Version int64 `json:"-"`
}

// NewTrade creates a DRAFT trade with a fresh identifier and empty history
func NewTrade(requesterID string, details TradeDetails) *Trade {
	return &Trade{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		Details:     details.Clone(),
		State:       StateDraft,
		History:     []HistoryRecord{},
	}
}

// AppendHistory records a transition that has already been applied.
// The caller sets t.State to the new state first; the record takes it as
// NewState and snapshots a deep copy of the current details.
func (t *Trade) AppendHistory(actorID, action string, previous TradeState, at time.Time) HistoryRecord {
	record := HistoryRecord{
		Timestamp:       at.UTC(),
		UserID:          actorID,
		Action:          action,
		PreviousState:   previous,
		NewState:        t.State,
		DetailsSnapshot: t.Details.Clone(),
	}
	t.History = append(t.History, record)
	return record
}

// LastRecord returns the latest history entry, if any
func (t *Trade) LastRecord() (HistoryRecord, bool) {
	if len(t.History) == 0 {
		return HistoryRecord{}, false
	}
	return t.History[len(t.History)-1], true
}

// Clone deep-copies the aggregate so a failed operation never leaks partial
// mutation into a shared instance
func (t *Trade) Clone() *Trade {
	out := *t
	out.Details = t.Details.Clone()
	out.History = make([]HistoryRecord, len(t.History))
	for i, h := range t.History {
		out.History[i] = h.Clone()
	}
	return &out
}

// Status is the identifier/state pair returned by status lookups
type Status struct {
	ID    string     `json:"id"`
	State TradeState `json:"state"`
}

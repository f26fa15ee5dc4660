package trades

import (
	"fmt"
	"strings"
)

// TradeState is a lifecycle state of a trade
type TradeState string

const (
	StateDraft              TradeState = "DRAFT"
	StatePendingApproval    TradeState = "PENDING_APPROVAL"
	StateNeedsReapproval    TradeState = "NEEDS_REAPPROVAL"
	StateApproved           TradeState = "APPROVED"
	StateSentToCounterparty TradeState = "SENT_TO_COUNTERPARTY"
	StateExecuted           TradeState = "EXECUTED"
	StateCancelled          TradeState = "CANCELLED"
)

// AllStates lists every lifecycle state in declaration order
var AllStates = []TradeState{
	StateDraft,
	StatePendingApproval,
	StateNeedsReapproval,
	StateApproved,
	StateSentToCounterparty,
	StateExecuted,
	StateCancelled,
}

// IsTerminal reports whether no action leads out of the state
func (s TradeState) IsTerminal() bool {
	return s == StateExecuted || s == StateCancelled
}

// ParseTradeState converts a stored state name back into a TradeState
func ParseTradeState(name string) (TradeState, error) {
	for _, s := range AllStates {
		if string(s) == strings.ToUpper(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown trade state %q", name)
}

// TradeAction is an operation that may move a trade between states
type TradeAction string

const (
	ActionSubmit        TradeAction = "SUBMIT"
	ActionApprove       TradeAction = "APPROVE"
	ActionUpdate        TradeAction = "UPDATE"
	ActionCancel        TradeAction = "CANCEL"
	ActionSendToExecute TradeAction = "SEND_TO_EXECUTE"
	ActionBook          TradeAction = "BOOK"
)

// AllActions lists every action in declaration order
var AllActions = []TradeAction{
	ActionSubmit,
	ActionApprove,
	ActionUpdate,
	ActionCancel,
	ActionSendToExecute,
	ActionBook,
}

// transitions is the complete table of table-driven moves.
// UPDATE is absent on purpose: it always forces NEEDS_REAPPROVAL and is
// applied by the service outside this table.
var transitions = map[TradeState]map[TradeAction]TradeState{
	StateDraft: {
		ActionSubmit: StatePendingApproval,
	},
	StatePendingApproval: {
		ActionApprove: StateApproved,
		ActionCancel:  StateCancelled,
	},
	StateNeedsReapproval: {
		ActionApprove: StateApproved,
		ActionCancel:  StateCancelled,
	},
	StateApproved: {
		ActionSendToExecute: StateSentToCounterparty,
		ActionCancel:        StateCancelled,
	},
	StateSentToCounterparty: {
		ActionBook:   StateExecuted,
		ActionCancel: StateCancelled,
	},
	StateExecuted:  {},
	StateCancelled: {},
}

// NextState looks up where action leads from state.
// It returns a *TransitionError when the table has no entry.
func NextState(state TradeState, action TradeAction) (TradeState, error) {
	next, ok := transitions[state][action]
	if !ok {
		return "", &TransitionError{State: state, Action: action}
	}
	return next, nil
}

// AllowedActions returns the table-driven actions available from state
func AllowedActions(state TradeState) []TradeAction {
	allowed := make([]TradeAction, 0, len(transitions[state]))
	for _, action := range AllActions {
		if _, ok := transitions[state][action]; ok {
			allowed = append(allowed, action)
		}
	}
	return allowed
}

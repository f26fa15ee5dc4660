package trades

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextState_AllowedTransitions(t *testing.T) {
	tests := []struct {
		from   TradeState
		action TradeAction
		to     TradeState
	}{
		{StateDraft, ActionSubmit, StatePendingApproval},
		{StatePendingApproval, ActionApprove, StateApproved},
		{StatePendingApproval, ActionCancel, StateCancelled},
		{StateNeedsReapproval, ActionApprove, StateApproved},
		{StateNeedsReapproval, ActionCancel, StateCancelled},
		{StateApproved, ActionSendToExecute, StateSentToCounterparty},
		{StateApproved, ActionCancel, StateCancelled},
		{StateSentToCounterparty, ActionBook, StateExecuted},
		{StateSentToCounterparty, ActionCancel, StateCancelled},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			next, err := NextState(tt.from, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.to, next)
		})
	}
}

func TestNextState_EveryOtherPairIsRejected(t *testing.T) {
	allowed := 0
	for _, state := range AllStates {
		for _, action := range AllActions {
			_, inTable := transitions[state][action]
			next, err := NextState(state, action)
			if inTable {
				allowed++
				assert.NoError(t, err)
				continue
			}

			require.Error(t, err, "%s from %s", action, state)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Empty(t, next)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, state, te.State)
			assert.Equal(t, action, te.Action)
		}
	}
	assert.Equal(t, 9, allowed)
}

func TestNextState_UpdateIsNeverTableDriven(t *testing.T) {
	for _, state := range AllStates {
		_, err := NextState(state, ActionUpdate)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, state := range AllStates {
		terminal := state == StateExecuted || state == StateCancelled
		assert.Equal(t, terminal, state.IsTerminal(), string(state))
		if terminal {
			assert.Empty(t, AllowedActions(state))
		}
	}
}

func TestAllowedActions(t *testing.T) {
	assert.Equal(t, []TradeAction{ActionSubmit}, AllowedActions(StateDraft))
	assert.Equal(t, []TradeAction{ActionCancel, ActionSendToExecute}, AllowedActions(StateApproved))
}

func TestParseTradeState(t *testing.T) {
	s, err := ParseTradeState("needs_reapproval")
	require.NoError(t, err)
	assert.Equal(t, StateNeedsReapproval, s)

	_, err = ParseTradeState("BOOKED")
	assert.Error(t, err)
}

func TestTransitionError_Message(t *testing.T) {
	_, err := NextState(StateExecuted, ActionApprove)
	assert.EqualError(t, err, "Action APPROVE not allowed from state EXECUTED")
}

package trades

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeapproval/internal/events"
	"github.com/rs/zerolog"
)

// EventEmitter publishes lifecycle events after a transition is persisted
type EventEmitter interface {
	EmitTyped(eventType events.EventType, module string, data events.EventData)
}

// ServiceConfig tunes lifecycle rules that are deployment decisions
type ServiceConfig struct {
	// GuardTerminalUpdates rejects UPDATE on EXECUTED and CANCELLED trades.
	// When false, update reopens any trade into NEEDS_REAPPROVAL.
	GuardTerminalUpdates bool
}

// Service is the only component that mutates trades. Every mutating
// operation runs load -> decide -> mutate -> persist under the trade's lock
// and pairs the change with exactly one new history record.
//
// Authorization is not evaluated here. Callers consult Policy first, using
// RequesterOf for ownership-dependent actions.
type Service struct {
	repo    Repository
	locker  *TradeLocker
	emitter EventEmitter
	cfg     ServiceConfig
	now     func() time.Time
	log     zerolog.Logger
}

// NewService creates the lifecycle service. emitter may be nil.
func NewService(repo Repository, emitter EventEmitter, cfg ServiceConfig, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		locker:  NewTradeLocker(),
		emitter: emitter,
		cfg:     cfg,
		now:     time.Now,
		log:     log.With().Str("service", "trades").Logger(),
	}
}

// SetClock replaces the history timestamp source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Submit creates a trade in DRAFT and moves it to PENDING_APPROVAL in one
// persisted unit. Nothing is written when the details are invalid.
func (s *Service) Submit(ctx context.Context, requesterID string, details TradeDetails) (*Trade, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	trade := NewTrade(requesterID, details)
	previous := trade.State

	next, err := NextState(previous, ActionSubmit)
	if err != nil {
		return nil, err
	}
	trade.State = next
	trade.AppendHistory(requesterID, string(ActionSubmit), previous, s.now())

	if err := s.repo.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade %s: %w", trade.ID, err)
	}

	s.logTransition(trade, requesterID, ActionSubmit, previous)
	s.emit(trade, requesterID, ActionSubmit, previous)

	return trade, nil
}

// Approve moves a pending trade to APPROVED
func (s *Service) Approve(ctx context.Context, tradeID, actorID string) (*Trade, error) {
	return s.mutate(ctx, tradeID, actorID, ActionApprove, viaTable(ActionApprove))
}

// Update replaces the trade details and forces NEEDS_REAPPROVAL regardless
// of the current state (unless terminal updates are guarded)
func (s *Service) Update(ctx context.Context, tradeID string, actor Principal, details TradeDetails) (*Trade, error) {
	return s.mutate(ctx, tradeID, actor.ID, ActionUpdate, func(t *Trade) error {
		if s.cfg.GuardTerminalUpdates && t.State.IsTerminal() {
			return &TransitionError{State: t.State, Action: ActionUpdate}
		}
		if err := details.Validate(); err != nil {
			return err
		}
		t.Details = details.Clone()
		t.State = StateNeedsReapproval
		return nil
	})
}

// Cancel moves a trade to CANCELLED. Booked trades report AlreadyExecuted.
func (s *Service) Cancel(ctx context.Context, tradeID string, actor Principal) (*Trade, error) {
	return s.mutate(ctx, tradeID, actor.ID, ActionCancel, func(t *Trade) error {
		if t.State == StateExecuted {
			return &AlreadyExecutedError{TradeID: t.ID}
		}
		return viaTable(ActionCancel)(t)
	})
}

// SendToExecute moves an approved trade to SENT_TO_COUNTERPARTY
func (s *Service) SendToExecute(ctx context.Context, tradeID, actorID string) (*Trade, error) {
	return s.mutate(ctx, tradeID, actorID, ActionSendToExecute, viaTable(ActionSendToExecute))
}

// Book records the strike price and moves the trade to EXECUTED. Dates are
// not re-validated since booking only touches the strike.
func (s *Service) Book(ctx context.Context, tradeID, actorID string, strike float64) (*Trade, error) {
	return s.mutate(ctx, tradeID, actorID, ActionBook, func(t *Trade) error {
		next, err := NextState(t.State, ActionBook)
		if err != nil {
			return err
		}
		t.Details = t.Details.WithStrike(strike)
		t.State = next
		return nil
	})
}

// GetHistory returns the ordered history of a trade
func (s *Service) GetHistory(ctx context.Context, tradeID string) ([]HistoryRecord, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return trade.History, nil
}

// Diff compares the snapshots at two history indices
func (s *Service) Diff(ctx context.Context, tradeID string, fromIndex, toIndex int) (map[string]FieldChange, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	n := len(trade.History)
	if fromIndex < 0 || toIndex < 0 || fromIndex >= n || toIndex >= n {
		return nil, &IndexOutOfRangeError{From: fromIndex, To: toIndex, Max: n - 1}
	}

	return Diff(trade.History[fromIndex].DetailsSnapshot, trade.History[toIndex].DetailsSnapshot), nil
}

// GetStatus returns the identifier and current state of a trade
func (s *Service) GetStatus(ctx context.Context, tradeID string) (Status, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return Status{}, err
	}
	return Status{ID: trade.ID, State: trade.State}, nil
}

// GetTrade returns the full aggregate
func (s *Service) GetTrade(ctx context.Context, tradeID string) (*Trade, error) {
	return s.load(ctx, tradeID)
}

// RequesterOf returns the owning requester so the boundary can evaluate the
// policy before invoking a mutation
func (s *Service) RequesterOf(ctx context.Context, tradeID string) (string, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return "", err
	}
	return trade.RequesterID, nil
}

// ListTrades returns every trade for admins and only the caller's own
// trades otherwise
func (s *Service) ListTrades(ctx context.Context, userID string, isAdmin bool) ([]*Trade, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	if isAdmin {
		return all, nil
	}

	filtered := make([]*Trade, 0, len(all))
	for _, t := range all {
		if t.RequesterID == userID {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// mutate applies fn to a private copy of the stored trade and persists the
// copy together with one new history record. On any failure the stored
// trade is left untouched.
func (s *Service) mutate(ctx context.Context, tradeID, actorID string, action TradeAction, fn func(t *Trade) error) (*Trade, error) {
	unlock := s.locker.Lock(tradeID)
	defer unlock()

	current, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	trade := current.Clone()
	previous := trade.State

	if err := fn(trade); err != nil {
		s.log.Debug().
			Err(err).
			Str("trade_id", tradeID).
			Str("action", string(action)).
			Str("state", string(previous)).
			Msg("Transition rejected")
		return nil, err
	}

	trade.AppendHistory(actorID, string(action), previous, s.now())

	if err := s.repo.Update(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade %s: %w", tradeID, err)
	}

	s.logTransition(trade, actorID, action, previous)
	s.emit(trade, actorID, action, previous)

	return trade, nil
}

func (s *Service) load(ctx context.Context, tradeID string) (*Trade, error) {
	trade, err := s.repo.Get(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %s: %w", tradeID, err)
	}
	if trade == nil {
		return nil, &NotFoundError{TradeID: tradeID}
	}
	return trade, nil
}

func (s *Service) logTransition(trade *Trade, actorID string, action TradeAction, previous TradeState) {
	s.log.Info().
		Str("trade_id", trade.ID).
		Str("actor", actorID).
		Str("action", string(action)).
		Str("from", string(previous)).
		Str("to", string(trade.State)).
		Int("history", len(trade.History)).
		Msg("Trade transitioned")
}

func (s *Service) emit(trade *Trade, actorID string, action TradeAction, previous TradeState) {
	if s.emitter == nil {
		return
	}

	eventType, ok := actionEvents[action]
	if !ok {
		return
	}

	s.emitter.EmitTyped(eventType, "trades", &events.TradeTransitionData{
		Type:          eventType,
		TradeID:       trade.ID,
		RequesterID:   trade.RequesterID,
		ActorID:       actorID,
		Action:        string(action),
		PreviousState: string(previous),
		NewState:      string(trade.State),
		HistoryLength: len(trade.History),
	})
}

var actionEvents = map[TradeAction]events.EventType{
	ActionSubmit:        events.TradeSubmitted,
	ActionApprove:       events.TradeApproved,
	ActionUpdate:        events.TradeUpdated,
	ActionCancel:        events.TradeCancelled,
	ActionSendToExecute: events.TradeSentToCounterparty,
	ActionBook:          events.TradeBooked,
}

// viaTable applies a table-driven transition
func viaTable(action TradeAction) func(t *Trade) error {
	return func(t *Trade) error {
		next, err := NextState(t.State, action)
		if err != nil {
			return err
		}
		t.State = next
		return nil
	}
}

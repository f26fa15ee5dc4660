package trades

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/tradeapproval/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	Type events.EventType
	Data *events.TradeTransitionData
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *recordingEmitter) EmitTyped(eventType events.EventType, _ string, data events.EventData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{Type: eventType, Data: data.(*events.TradeTransitionData)})
}

func (e *recordingEmitter) types() []events.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

// failingRepository fails every Update after delegating reads
type failingRepository struct {
	Repository
	creates int
}

func (r *failingRepository) Create(ctx context.Context, trade *Trade) error {
	r.creates++
	return r.Repository.Create(ctx, trade)
}

func (r *failingRepository) Update(context.Context, *Trade) error {
	return errors.New("disk full")
}

var (
	alice = Principal{ID: "alice", Role: RoleUser}
	admin = Principal{ID: "admin", Role: RoleAdmin}
)

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *MemoryRepository, *recordingEmitter) {
	t.Helper()
	repo := NewMemoryRepository()
	emitter := &recordingEmitter{}
	svc := NewService(repo, emitter, cfg, zerolog.New(nil).Level(zerolog.Disabled))

	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return svc, repo, emitter
}

func TestService_FullLifecycle(t *testing.T) {
	svc, _, emitter := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	assert.Equal(t, StatePendingApproval, trade.State)
	require.Len(t, trade.History, 1)
	assert.Equal(t, StateDraft, trade.History[0].PreviousState)

	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	require.NoError(t, err)
	_, err = svc.SendToExecute(ctx, trade.ID, admin.ID)
	require.NoError(t, err)
	booked, err := svc.Book(ctx, trade.ID, alice.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, StateExecuted, booked.State)
	require.NotNil(t, booked.Details.Strike)
	assert.Equal(t, 100.0, *booked.Details.Strike)

	history, err := svc.GetHistory(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	actions := []string{"SUBMIT", "APPROVE", "SEND_TO_EXECUTE", "BOOK"}
	users := []string{"alice", "admin", "admin", "alice"}
	for i, h := range history {
		assert.Equal(t, actions[i], h.Action)
		assert.Equal(t, users[i], h.UserID)
		if i > 0 {
			assert.Equal(t, history[i-1].NewState, h.PreviousState)
			assert.True(t, h.Timestamp.After(history[i-1].Timestamp))
		}
	}
	assert.Equal(t, StateExecuted, history[3].NewState)
	assert.Nil(t, history[2].DetailsSnapshot.Strike)
	require.NotNil(t, history[3].DetailsSnapshot.Strike)

	status, err := svc.GetStatus(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, Status{ID: trade.ID, State: StateExecuted}, status)

	assert.Equal(t, []events.EventType{
		events.TradeSubmitted,
		events.TradeApproved,
		events.TradeSentToCounterparty,
		events.TradeBooked,
	}, emitter.types())
}

func TestService_UpdateForcesReapprovalAndDiff(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)

	changed := sampleDetails()
	changed.NotionalAmount = 123
	updated, err := svc.Update(ctx, trade.ID, alice, changed)
	require.NoError(t, err)
	assert.Equal(t, StateNeedsReapproval, updated.State)
	assert.Equal(t, "UPDATE", updated.History[1].Action)
	assert.Equal(t, StatePendingApproval, updated.History[1].PreviousState)

	diffs, err := svc.Diff(ctx, trade.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]FieldChange{
		"notional_amount": {Old: 1000000.0, New: 123.0},
	}, diffs)

	same, err := svc.Diff(ctx, trade.ID, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, same)

	approved, err := svc.Approve(ctx, trade.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, approved.State)
}

func TestService_UpdateFromApprovedRequiresReapproval(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, trade.ID, alice, sampleDetails())
	require.NoError(t, err)
	assert.Equal(t, StateNeedsReapproval, updated.State)

	_, err = svc.SendToExecute(ctx, trade.ID, admin.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_UpdateOnTerminalStates(t *testing.T) {
	t.Run("reopens by default", func(t *testing.T) {
		svc, _, _ := newTestService(t, ServiceConfig{})
		ctx := context.Background()

		trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, trade.ID, alice)
		require.NoError(t, err)

		updated, err := svc.Update(ctx, trade.ID, alice, sampleDetails())
		require.NoError(t, err)
		assert.Equal(t, StateNeedsReapproval, updated.State)
		assert.Equal(t, StateCancelled, updated.History[2].PreviousState)
	})

	t.Run("rejected when guarded", func(t *testing.T) {
		svc, _, _ := newTestService(t, ServiceConfig{GuardTerminalUpdates: true})
		ctx := context.Background()

		trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
		require.NoError(t, err)
		_, err = svc.Cancel(ctx, trade.ID, alice)
		require.NoError(t, err)

		_, err = svc.Update(ctx, trade.ID, alice, sampleDetails())
		assert.ErrorIs(t, err, ErrInvalidTransition)

		history, err := svc.GetHistory(ctx, trade.ID)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}

func TestService_SubmitWithBadDatesWritesNothing(t *testing.T) {
	svc, repo, emitter := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	bad := sampleDetails()
	bad.TradeDate = bad.ValueDate.AddDays(1)

	trade, err := svc.Submit(ctx, alice.ID, bad)
	assert.Nil(t, trade)
	assert.ErrorIs(t, err, ErrDateOrder)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, emitter.types())
}

func TestService_UpdateWithBadDatesLeavesTrade(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)

	bad := sampleDetails()
	bad.DeliveryDate = bad.ValueDate.AddDays(-1)
	_, err = svc.Update(ctx, trade.ID, alice, bad)
	assert.ErrorIs(t, err, ErrDateOrder)

	loaded, err := svc.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePendingApproval, loaded.State)
	assert.Len(t, loaded.History, 1)
}

func TestService_CancelExecutedTrade(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	require.NoError(t, err)
	_, err = svc.SendToExecute(ctx, trade.ID, admin.ID)
	require.NoError(t, err)
	_, err = svc.Book(ctx, trade.ID, alice.ID, 1.1)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, trade.ID, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.EqualError(t, err, "Trade "+trade.ID+" has already been Booked")

	status, err := svc.GetStatus(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, status.State)
}

func TestService_CancelledTradeRejectsEverything(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, trade.ID, alice)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Cancel(ctx, trade.ID, alice)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Book(ctx, trade.ID, alice.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestService_BookRequiresSentState(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)

	_, err = svc.Book(ctx, trade.ID, alice.ID, 100)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	loaded, err := svc.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.Details.Strike)
}

func TestService_DiffOutOfRange(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to int
	}{
		{"to past end", 0, 2},
		{"negative from", -1, 1},
		{"both past end", 5, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Diff(ctx, trade.ID, tt.from, tt.to)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)

			var ie *IndexOutOfRangeError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, 1, ie.Max)
			assert.EqualError(t, err, "Invalid history indices - min index should be 0 and max index should be 1")
		})
	}
}

func TestService_UnknownTrade(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Approve(ctx, "nope", admin.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetStatus(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.RequesterOf(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Diff(ctx, "nope", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListTrades(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	a1, err := svc.Submit(ctx, "alice", sampleDetails())
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "bob", sampleDetails())
	require.NoError(t, err)
	a2, err := svc.Submit(ctx, "alice", sampleDetails())
	require.NoError(t, err)

	mine, err := svc.ListTrades(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a1.ID, mine[0].ID)
	assert.Equal(t, a2.ID, mine[1].ID)

	all, err := svc.ListTrades(ctx, "admin", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := svc.ListTrades(ctx, "carol", false)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_PersistFailureLeavesTradeUntouched(t *testing.T) {
	mem := NewMemoryRepository()
	repo := &failingRepository{Repository: mem}
	emitter := &recordingEmitter{}
	svc := NewService(repo, emitter, ServiceConfig{}, zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.creates)

	_, err = svc.Approve(ctx, trade.ID, admin.ID)
	require.Error(t, err)
	assert.False(t, IsBusinessError(err))

	loaded, err := mem.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePendingApproval, loaded.State)
	assert.Len(t, loaded.History, 1)
	assert.Equal(t, []events.EventType{events.TradeSubmitted}, emitter.types())
}

func TestService_ConcurrentApproveHasOneWinner(t *testing.T) {
	svc, _, emitter := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(ctx, trade.ID, admin.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
			} else if errors.Is(err, ErrInvalidTransition) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, rejected)

	history, err := svc.GetHistory(ctx, trade.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, emitter.types(), 2)
}

func TestService_ConcurrentUpdatesAllRecorded(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			d := sampleDetails()
			d.NotionalAmount = float64(n + 1)
			_, err := svc.Update(ctx, trade.ID, alice, d)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	history, err := svc.GetHistory(ctx, trade.ID)
	require.NoError(t, err)
	require.Len(t, history, workers+1)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].NewState, history[i].PreviousState)
	}
}

func TestService_EventPayload(t *testing.T) {
	svc, _, emitter := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	trade, err := svc.Submit(ctx, alice.ID, sampleDetails())
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, trade.ID, admin)
	require.NoError(t, err)

	require.Len(t, emitter.events, 2)
	ev := emitter.events[1]
	assert.Equal(t, events.TradeCancelled, ev.Type)
	assert.Equal(t, trade.ID, ev.Data.TradeID)
	assert.Equal(t, "alice", ev.Data.RequesterID)
	assert.Equal(t, "admin", ev.Data.ActorID)
	assert.Equal(t, "PENDING_APPROVAL", ev.Data.PreviousState)
	assert.Equal(t, "CANCELLED", ev.Data.NewState)
	assert.Equal(t, 2, ev.Data.HistoryLength)
}

func TestService_NilEmitter(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil, ServiceConfig{}, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := svc.Submit(context.Background(), alice.ID, sampleDetails())
	assert.NoError(t, err)
}

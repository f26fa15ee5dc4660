package trades

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/aristath/tradeapproval/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.ApplySchema(db, "trades"))

	return NewSQLiteRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

// newPostgresRepo connects to TEST_DATABASE_URL and empties the trade tables
func newPostgresRepo(t *testing.T, url string) *PostgresRepository {
	t.Helper()
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, url, database.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.MigratePostgres(ctx, pool))
	_, err = pool.Exec(ctx, "truncate trades cascade")
	require.NoError(t, err)

	return NewPostgresRepository(pool, zerolog.New(nil).Level(zerolog.Disabled))
}

func repositories(t *testing.T) map[string]func() Repository {
	repos := map[string]func() Repository{
		"memory": func() Repository { return NewMemoryRepository() },
		"sqlite": func() Repository { return newSQLiteRepo(t) },
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		repos["postgres"] = func() Repository { return newPostgresRepo(t, url) }
	}
	return repos
}

func submittedTrade(requester string) *Trade {
	trade := NewTrade(requester, sampleDetails())
	trade.State = StatePendingApproval
	trade.AppendHistory(requester, string(ActionSubmit), StateDraft, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	return trade
}

func TestRepository_CreateAndGet(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			ctx := context.Background()

			trade := submittedTrade("alice")
			require.NoError(t, repo.Create(ctx, trade))
			assert.Equal(t, int64(1), trade.Version)

			loaded, err := repo.Get(ctx, trade.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded)

			assert.Equal(t, trade.ID, loaded.ID)
			assert.Equal(t, "alice", loaded.RequesterID)
			assert.Equal(t, StatePendingApproval, loaded.State)
			assert.Equal(t, int64(1), loaded.Version)
			assert.Equal(t, trade.Details.Fields(), loaded.Details.Fields())

			require.Len(t, loaded.History, 1)
			h := loaded.History[0]
			assert.Equal(t, "SUBMIT", h.Action)
			assert.Equal(t, StateDraft, h.PreviousState)
			assert.Equal(t, StatePendingApproval, h.NewState)
			assert.True(t, h.Timestamp.Equal(trade.History[0].Timestamp))
		})
	}
}

func TestRepository_GetUnknownReturnsNil(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			loaded, err := newRepo().Get(context.Background(), "missing")
			assert.NoError(t, err)
			assert.Nil(t, loaded)
		})
	}
}

func TestRepository_UpdateAppendsHistory(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			ctx := context.Background()

			trade := submittedTrade("alice")
			require.NoError(t, repo.Create(ctx, trade))

			trade.Details.NotionalAmount = 123
			trade.State = StateNeedsReapproval
			trade.AppendHistory("alice", string(ActionUpdate), StatePendingApproval, time.Now())
			require.NoError(t, repo.Update(ctx, trade))
			assert.Equal(t, int64(2), trade.Version)

			loaded, err := repo.Get(ctx, trade.ID)
			require.NoError(t, err)
			require.Len(t, loaded.History, 2)
			assert.Equal(t, StateNeedsReapproval, loaded.State)
			assert.Equal(t, 123.0, loaded.Details.NotionalAmount)
			assert.Equal(t, 1000000.0, loaded.History[0].DetailsSnapshot.NotionalAmount)
			assert.Equal(t, 123.0, loaded.History[1].DetailsSnapshot.NotionalAmount)
		})
	}
}

func TestRepository_UpdateRejectsStaleVersion(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			ctx := context.Background()

			trade := submittedTrade("alice")
			require.NoError(t, repo.Create(ctx, trade))

			first, err := repo.Get(ctx, trade.ID)
			require.NoError(t, err)
			second, err := repo.Get(ctx, trade.ID)
			require.NoError(t, err)

			first.State = StateApproved
			first.AppendHistory("admin", string(ActionApprove), StatePendingApproval, time.Now())
			require.NoError(t, repo.Update(ctx, first))

			second.State = StateCancelled
			second.AppendHistory("alice", string(ActionCancel), StatePendingApproval, time.Now())
			err = repo.Update(ctx, second)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConcurrentModification)

			loaded, err := repo.Get(ctx, trade.ID)
			require.NoError(t, err)
			assert.Equal(t, StateApproved, loaded.State)
			assert.Len(t, loaded.History, 2)
		})
	}
}

func TestRepository_UpdateUnknownTrade(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			trade := submittedTrade("alice")
			trade.Version = 1
			err := newRepo().Update(context.Background(), trade)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepository_UpdateRejectsShrinkingHistory(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			ctx := context.Background()

			trade := submittedTrade("alice")
			require.NoError(t, repo.Create(ctx, trade))

			trade.History = nil
			assert.Error(t, repo.Update(ctx, trade))
		})
	}
}

func TestRepository_ListAllInCreationOrder(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := newRepo()
			ctx := context.Background()

			var ids []string
			for _, requester := range []string{"alice", "bob", "alice"} {
				trade := submittedTrade(requester)
				require.NoError(t, repo.Create(ctx, trade))
				ids = append(ids, trade.ID)
			}

			all, err := repo.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			for i, trade := range all {
				assert.Equal(t, ids[i], trade.ID)
				assert.Len(t, trade.History, 1)
			}
		})
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	trade := submittedTrade("alice")
	require.NoError(t, repo.Create(ctx, trade))

	loaded, err := repo.Get(ctx, trade.ID)
	require.NoError(t, err)
	loaded.State = StateCancelled
	loaded.History[0].DetailsSnapshot.Underlying[0] = "XXX"

	again, err := repo.Get(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePendingApproval, again.State)
	assert.Equal(t, "EUR", again.History[0].DetailsSnapshot.Underlying[0])
}

package trades

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeapproval/internal/utils"
)

// PostgresRepository persists trades in Postgres with the same layout as
// the SQLite store: one row per trade plus ordered history rows.
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgresRepository creates a repository over a pgx pool
func NewPostgresRepository(pool *pgxpool.Pool, log zerolog.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		log:  log.With().Str("repo", "trade_postgres").Logger(),
	}
}

// Compile-time check that PostgresRepository implements Repository
var _ Repository = (*PostgresRepository)(nil)

// Create inserts a new trade and its initial history in one transaction
func (r *PostgresRepository) Create(ctx context.Context, trade *Trade) error {
	details, err := EncodeDetails(trade.Details)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			insert into trades (id, requester_id, state, details, version)
			values ($1, $2, $3, $4, 1)
		`, trade.ID, trade.RequesterID, string(trade.State), details)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		return insertHistoryPg(ctx, tx, trade, 0)
	})
	if err != nil {
		return fmt.Errorf("failed to create trade %s: %w", trade.ID, err)
	}

	trade.Version = 1
	return nil
}

// Get retrieves a trade with its ordered history, or nil when unknown
func (r *PostgresRepository) Get(ctx context.Context, tradeID string) (*Trade, error) {
	row := r.pool.QueryRow(ctx, `
		select id, requester_id, state, details, version from trades where id = $1
	`, tradeID)
	trade, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		select trade_id, seq, recorded_at, user_id, action, previous_state, new_state, details_snapshot
		from trade_history where trade_id = $1 order by seq asc
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		_, record, err := scanHistoryPg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		trade.History = append(trade.History, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return trade, nil
}

// Update overwrites state and details under a version check and appends
// new history rows
func (r *PostgresRepository) Update(ctx context.Context, trade *Trade) error {
	details, err := EncodeDetails(trade.Details)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			update trades
			set state = $1, details = $2, version = version + 1, updated_at = now()
			where id = $3 and version = $4
		`, string(trade.State), details, trade.ID, trade.Version)
		if err != nil {
			return fmt.Errorf("failed to update trade: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists int
			err := tx.QueryRow(ctx, `select 1 from trades where id = $1`, trade.ID).Scan(&exists)
			if errors.Is(err, pgx.ErrNoRows) {
				return &NotFoundError{TradeID: trade.ID}
			}
			if err != nil {
				return fmt.Errorf("failed to check trade existence: %w", err)
			}
			return &ConcurrentModificationError{TradeID: trade.ID, ExpectedVersion: trade.Version}
		}

		var stored int
		if err := tx.QueryRow(ctx, `select count(*) from trade_history where trade_id = $1`, trade.ID).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}
		if len(trade.History) < stored {
			return fmt.Errorf("history of trade %s is append-only", trade.ID)
		}

		return insertHistoryPg(ctx, tx, trade, stored)
	})
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", trade.ID, err)
	}

	trade.Version++
	return nil
}

// ListAll retrieves every trade in creation order
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*Trade, error) {
	defer utils.OperationTimer("list_trades", 0, r.log)()

	rows, err := r.pool.Query(ctx, `
		select id, requester_id, state, details, version from trades order by created_seq asc
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	var trades []*Trade
	byID := make(map[string]*Trade)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
		byID[trade.ID] = trade
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	historyRows, err := r.pool.Query(ctx, `
		select trade_id, seq, recorded_at, user_id, action, previous_state, new_state, details_snapshot
		from trade_history order by trade_id asc, seq asc
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade history: %w", err)
	}
	defer historyRows.Close()

	for historyRows.Next() {
		tradeID, record, err := scanHistoryPg(historyRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if trade, ok := byID[tradeID]; ok {
			trade.History = append(trade.History, record)
		}
	}
	if err := historyRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return trades, nil
}

func insertHistoryPg(ctx context.Context, tx pgx.Tx, trade *Trade, from int) error {
	for seq := from; seq < len(trade.History); seq++ {
		h := trade.History[seq]
		snapshot, err := EncodeDetails(h.DetailsSnapshot)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			insert into trade_history
			(trade_id, seq, recorded_at, user_id, action, previous_state, new_state, details_snapshot)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, trade.ID, seq, h.Timestamp, h.UserID, h.Action,
			string(h.PreviousState), string(h.NewState), snapshot)
		if err != nil {
			return fmt.Errorf("failed to insert history record %d: %w", seq, err)
		}
	}
	return nil
}

func scanHistoryPg(row pgx.Row) (string, HistoryRecord, error) {
	var (
		record        HistoryRecord
		tradeID       string
		seq           int
		recordedAt    time.Time
		previousState string
		newState      string
		snapshot      []byte
	)

	err := row.Scan(&tradeID, &seq, &recordedAt, &record.UserID, &record.Action,
		&previousState, &newState, &snapshot)
	if err != nil {
		return "", HistoryRecord{}, err
	}

	record.Timestamp = recordedAt.UTC()
	if record.PreviousState, err = ParseTradeState(previousState); err != nil {
		return "", HistoryRecord{}, err
	}
	if record.NewState, err = ParseTradeState(newState); err != nil {
		return "", HistoryRecord{}, err
	}
	if record.DetailsSnapshot, err = DecodeDetails(snapshot); err != nil {
		return "", HistoryRecord{}, err
	}

	return tradeID, record, nil
}

package trades

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradeapproval/internal/database"
	"github.com/aristath/tradeapproval/internal/utils"
	"github.com/rs/zerolog"
)

// SQLiteRepository persists trades in the trades database.
// Each Create and Update runs in a single transaction covering the trade
// row and its history rows.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// tradesColumns is the column list for the trades table.
// Order must match scanTrade().
const tradesColumns = `id, requester_id, state, details, version`

// historyColumns is the column list for the trade_history table.
// Order must match scanHistory().
const historyColumns = `trade_id, seq, timestamp, user_id, action, previous_state, new_state, details_snapshot`

// NewSQLiteRepository creates a repository over an open trades database
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repo", "trade_sqlite").Logger(),
	}
}

// Compile-time check that SQLiteRepository implements Repository
var _ Repository = (*SQLiteRepository)(nil)

// Create inserts a new trade and its initial history
func (r *SQLiteRepository) Create(ctx context.Context, trade *Trade) error {
	details, err := EncodeDetails(trade.Details)
	if err != nil {
		return err
	}

	now := time.Now().Unix()

	err = database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, requester_id, state, details, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`, trade.ID, trade.RequesterID, string(trade.State), details, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}

		return insertHistory(ctx, tx, trade, 0)
	})
	if err != nil {
		return fmt.Errorf("failed to create trade %s: %w", trade.ID, err)
	}

	trade.Version = 1

	r.log.Debug().
		Str("trade_id", trade.ID).
		Str("requester", trade.RequesterID).
		Msg("Trade created")

	return nil
}

// Get retrieves a trade with its full, ordered history.
// Returns nil, nil when the trade does not exist.
func (r *SQLiteRepository) Get(ctx context.Context, tradeID string) (*Trade, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tradesColumns+" FROM trades WHERE id = ?", tradeID)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM trade_history WHERE trade_id = ? ORDER BY seq ASC", tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		_, record, err := scanHistory(rows)
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

// Update overwrites state and details when the stored version matches and
// appends the history records not yet stored
func (r *SQLiteRepository) Update(ctx context.Context, trade *Trade) error {
	details, err := EncodeDetails(trade.Details)
	if err != nil {
		return err
	}

	err = database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE trades
			SET state = ?, details = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`, string(trade.State), details, time.Now().Unix(), trade.ID, trade.Version)
		if err != nil {
			return fmt.Errorf("failed to update trade: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, "SELECT 1 FROM trades WHERE id = ?", trade.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return &NotFoundError{TradeID: trade.ID}
			}
			if err != nil {
				return fmt.Errorf("failed to check trade existence: %w", err)
			}
			return &ConcurrentModificationError{TradeID: trade.ID, ExpectedVersion: trade.Version}
		}

		var stored int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM trade_history WHERE trade_id = ?", trade.ID).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}
		if len(trade.History) < stored {
			return fmt.Errorf("history of trade %s is append-only", trade.ID)
		}

		return insertHistory(ctx, tx, trade, stored)
	})
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", trade.ID, err)
	}

	trade.Version++
	return nil
}

// ListAll retrieves every trade in creation order
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*Trade, error) {
	defer utils.OperationTimer("list_trades", 0, r.log)()

	rows, err := r.db.QueryContext(ctx, "SELECT "+tradesColumns+" FROM trades ORDER BY created_at ASC, rowid ASC")
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	rows.Close()

	historyRows, err := r.db.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM trade_history ORDER BY trade_id ASC, seq ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list trade history: %w", err)
	}
	defer historyRows.Close()

	for historyRows.Next() {
		tradeID, record, err := scanHistory(historyRows)
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

// insertHistory writes trade.History[from:] with their sequence numbers
func insertHistory(ctx context.Context, tx *sql.Tx, trade *Trade, from int) error {
	for seq := from; seq < len(trade.History); seq++ {
		h := trade.History[seq]
		snapshot, err := EncodeDetails(h.DetailsSnapshot)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO trade_history
			(trade_id, seq, timestamp, user_id, action, previous_state, new_state, details_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, trade.ID, seq, h.Timestamp.UnixNano(), h.UserID, h.Action,
			string(h.PreviousState), string(h.NewState), snapshot)
		if err != nil {
			return fmt.Errorf("failed to insert history record %d: %w", seq, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var (
		trade   Trade
		state   string
		details []byte
	)

	if err := row.Scan(&trade.ID, &trade.RequesterID, &state, &details, &trade.Version); err != nil {
		return nil, err
	}

	var err error
	if trade.State, err = ParseTradeState(state); err != nil {
		return nil, err
	}
	if trade.Details, err = DecodeDetails(details); err != nil {
		return nil, err
	}
	trade.History = []HistoryRecord{}

	return &trade, nil
}

func scanHistory(row rowScanner) (string, HistoryRecord, error) {
	var (
		record        HistoryRecord
		tradeID       string
		seq           int
		timestamp     int64
		previousState string
		newState      string
		snapshot      []byte
	)

	err := row.Scan(&tradeID, &seq, &timestamp, &record.UserID, &record.Action,
		&previousState, &newState, &snapshot)
	if err != nil {
		return "", HistoryRecord{}, err
	}

	record.Timestamp = time.Unix(0, timestamp).UTC()
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

package trades

import "context"

// Repository is the durable store of trades and their history.
//
// Get returns (nil, nil) when the identifier is unknown. Update overwrites
// state, details and history of an existing trade and fails with
// ErrConcurrentModification when trade.Version no longer matches the stored
// version; on success it advances trade.Version. Create and Update are each
// atomic: either the whole aggregate is written or nothing is.
type Repository interface {
	Create(ctx context.Context, trade *Trade) error
	Get(ctx context.Context, tradeID string) (*Trade, error)
	Update(ctx context.Context, trade *Trade) error
	ListAll(ctx context.Context) ([]*Trade, error)
}

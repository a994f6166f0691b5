package book

import (
	"context"
	"fmt"

	"github.com/pouladzade/bitrade/internal/store"
)

// Recover rebuilds a Book from durable storage: it loads every
// OPEN/PARTIALLY_FILLED order with remained_base > 0 for the market in
// create_time ascending order via Reader.ListRestable, so that
// re-inserting them in that order reproduces the exact price-time
// priority the book had before restart. A resting MARKET order is a
// process-crash artifact (MARKET orders must never rest) and is
// returned in stale, not pushed, for the caller to force-cancel through
// the wallet unlock path.
func Recover(ctx context.Context, marketID string, r store.Reader) (restored *Book, stale []*store.Order, err error) {
	b := New(marketID)

	orders, err := r.ListRestable(ctx, marketID)
	if err != nil {
		return nil, nil, fmt.Errorf("book: recover %s: %w", marketID, err)
	}

	for i := range orders {
		o := &orders[i]
		if o.OrderType != store.OrderTypeLimit {
			stale = append(stale, o)
			continue
		}
		if err := b.Push(o); err != nil {
			return nil, nil, fmt.Errorf("book: recover %s: %w", marketID, err)
		}
	}

	return b, stale, nil
}

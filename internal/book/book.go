// Package book implements the per-market price-time priority order
// book: one priority queue per side over github.com/emirpasic/gods,
// with O(1) best-price peek, plus price-level depth maps maintained in
// lockstep.
package book

import (
	"fmt"

	"github.com/emirpasic/gods/queues/priorityqueue"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

// Book holds one market's two priority queues and depth maps. It is
// never shared across goroutines: the market manager pins exactly one
// worker to each Book, so no synchronization primitive guards its
// state.
type Book struct {
	MarketID string

	bids *priorityqueue.Queue // resting BUY LIMIT orders, best bid first
	asks *priorityqueue.Queue // resting SELL LIMIT orders, best ask first

	bidDepth map[string]money.Decimal // price -> aggregated remaining base
	askDepth map[string]money.Decimal

	index map[string]*store.Order // order id -> resting order, for Cancel
}

func New(marketID string) *Book {
	return &Book{
		MarketID: marketID,
		bids:     priorityqueue.NewWith(bidComparator),
		asks:     priorityqueue.NewWith(askComparator),
		bidDepth: map[string]money.Decimal{},
		askDepth: map[string]money.Decimal{},
		index:    map[string]*store.Order{},
	}
}

// bidComparator orders BUY resting orders by (higher price first, then
// earlier create_time first). gods' priority queue dequeues the element
// the comparator ranks "least", so higher price must compare as less.
func bidComparator(a, b any) int {
	oa, ob := a.(*store.Order), b.(*store.Order)
	if c := oa.Price.Cmp(ob.Price); c != 0 {
		return -c // higher price dequeues first
	}
	return compareCreateTime(oa, ob)
}

// askComparator orders SELL resting orders by (lower price first, then
// earlier create_time first).
func askComparator(a, b any) int {
	oa, ob := a.(*store.Order), b.(*store.Order)
	if c := oa.Price.Cmp(ob.Price); c != 0 {
		return c // lower price dequeues first
	}
	return compareCreateTime(oa, ob)
}

func compareCreateTime(oa, ob *store.Order) int {
	switch {
	case oa.CreateTime < ob.CreateTime:
		return -1
	case oa.CreateTime > ob.CreateTime:
		return 1
	default:
		return 0
	}
}

func (b *Book) queueFor(side store.Side) *priorityqueue.Queue {
	if side == store.SideBuy {
		return b.bids
	}
	return b.asks
}

func (b *Book) depthFor(side store.Side) map[string]money.Decimal {
	if side == store.SideBuy {
		return b.bidDepth
	}
	return b.askDepth
}

func depthKey(price money.Decimal) string { return price.Norm8().String() }

// adjustDepth adds delta (which may be negative) to the aggregated
// remaining-base entry at price on the given side, removing the entry
// once it falls to zero at normalized precision.
func (b *Book) adjustDepth(side store.Side, price, delta money.Decimal) {
	m := b.depthFor(side)
	key := depthKey(price)
	next := m[key].Add(delta).Norm8()
	if next.IsZero8() {
		delete(m, key)
	} else {
		m[key] = next
	}
}

// Push inserts a resting LIMIT order (a fresh insert, or a maker being
// put back after a partial fill). MARKET orders never rest and Push
// rejects them.
func (b *Book) Push(o *store.Order) error {
	if o.OrderType != store.OrderTypeLimit {
		return fmt.Errorf("book: only LIMIT orders may rest, got %s", o.OrderType)
	}
	b.queueFor(o.Side).Enqueue(o)
	b.adjustDepth(o.Side, o.Price, o.RemainedBase)
	b.index[o.ID] = o
	return nil
}

// Peek returns the best resting order on side without removing it.
func (b *Book) Peek(side store.Side) (*store.Order, bool) {
	v, ok := b.queueFor(side).Peek()
	if !ok {
		return nil, false
	}
	return v.(*store.Order), true
}

// Pop removes and returns the best resting order on side, subtracting
// its contribution from the depth map. The caller decides the maker's
// fate: Push it back if remained_base > 0, else let it drop.
func (b *Book) Pop(side store.Side) (*store.Order, bool) {
	v, ok := b.queueFor(side).Dequeue()
	if !ok {
		return nil, false
	}
	o := v.(*store.Order)
	b.adjustDepth(side, o.Price, o.RemainedBase.Neg())
	delete(b.index, o.ID)
	return o, true
}

// Cancel removes a resting order by id in O(n): gods' priority queue
// has no arbitrary-element removal, so Cancel drains the queue, drops
// the match, and rebuilds it. Explicit cancel is the only caller, never
// the match loop.
func (b *Book) Cancel(id string) (*store.Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	q := b.queueFor(o.Side)
	rebuilt := priorityqueue.NewWith(comparatorFor(o.Side))
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		cur := v.(*store.Order)
		if cur.ID == id {
			continue
		}
		rebuilt.Enqueue(cur)
	}
	if o.Side == store.SideBuy {
		b.bids = rebuilt
	} else {
		b.asks = rebuilt
	}
	b.adjustDepth(o.Side, o.Price, o.RemainedBase.Neg())
	delete(b.index, id)
	return o, true
}

func comparatorFor(side store.Side) func(a, b any) int {
	if side == store.SideBuy {
		return bidComparator
	}
	return askComparator
}

// BidDepth and AskDepth return snapshots of the aggregated remaining-base
// depth maps.
func (b *Book) BidDepth() map[string]money.Decimal { return cloneDepth(b.bidDepth) }
func (b *Book) AskDepth() map[string]money.Decimal { return cloneDepth(b.askDepth) }

func cloneDepth(m map[string]money.Decimal) map[string]money.Decimal {
	out := make(map[string]money.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Size reports how many orders currently rest on each side, mainly for
// diagnostics and tests.
func (b *Book) Size() (bids, asks int) { return b.bids.Size(), b.asks.Size() }

// Resting returns every order currently resting in the book, in no
// particular order. Used by the market manager's cancel-all command.
func (b *Book) Resting() []*store.Order {
	out := make([]*store.Order, 0, len(b.index))
	for _, o := range b.index {
		out = append(out, o)
	}
	return out
}

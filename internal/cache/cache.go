// Package cache is a redis layer in front of the store's wallet reads,
// plus a pub/sub fan-out of committed trades. It is never a source of
// truth: every entry is short-lived and settlement invalidates the
// affected keys on commit, so a stale read never outlives the TTL window.
// Order placement and cancel do not invalidate, so within that window a
// cached balance can lag those changes in either direction.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/store"
)

// TradeChannel is the pub/sub channel committed trades are published on.
const TradeChannel = "bitrade:trades"

const balanceTTL = 5 * time.Second

// Cache wraps a redis client. A nil *Cache is valid everywhere and means
// caching/publishing is disabled.
type Cache struct {
	rdb *redis.Client
}

func New(addr string) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the connection at startup.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.rdb.Close() }

func balanceKey(userID, asset string) string {
	return fmt.Sprintf("bitrade:balance:%s:%s", userID, asset)
}

// GetWallet returns the cached wallet for (userID, asset), or ok=false on
// a miss or any redis failure (misses and failures are equivalent to the
// caller: go to the store).
func (c *Cache) GetWallet(ctx context.Context, userID, asset string) (*store.Wallet, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, balanceKey(userID, asset)).Bytes()
	if err != nil {
		return nil, false
	}
	var w store.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	return &w, true
}

// SetWallet stores a wallet read-through result with a short TTL.
func (c *Cache) SetWallet(ctx context.Context, w *store.Wallet) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, balanceKey(w.UserID, w.Asset), raw, balanceTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("cache: wallet set failed")
	}
}

// InvalidateWallet drops the cached entry for (userID, asset).
func (c *Cache) InvalidateWallet(ctx context.Context, userID, asset string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, balanceKey(userID, asset)).Err(); err != nil {
		log.Debug().Err(err).Msg("cache: wallet invalidate failed")
	}
}

// PublishTrade implements settlement.Publisher: it invalidates every
// cached wallet of the trade's buyer and seller (a superset of the four
// wallets a settlement touches) and publishes the trade JSON on
// TradeChannel. Both are best-effort; the trade is already committed.
func (c *Cache) PublishTrade(t *store.Trade) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The trade row doesn't carry asset names, but dropping every cached
	// wallet of both users is cheap and strictly safe.
	for _, userID := range []string{t.BuyerUserID, t.SellerUserID} {
		keys, err := c.rdb.Keys(ctx, fmt.Sprintf("bitrade:balance:%s:*", userID)).Result()
		if err != nil {
			continue
		}
		if len(keys) > 0 {
			c.rdb.Del(ctx, keys...)
		}
	}

	raw, err := json.Marshal(t)
	if err != nil {
		log.Warn().Err(err).Str("trade_id", t.ID).Msg("cache: trade marshal failed")
		return
	}
	if err := c.rdb.Publish(ctx, TradeChannel, raw).Err(); err != nil {
		log.Warn().Err(err).Str("trade_id", t.ID).Msg("cache: trade publish failed")
	}
}

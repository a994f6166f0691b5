// Package api is the request/response RPC surface: a command router and
// a query router over HTTP+JSON. It stays intentionally thin (argument
// decoding, a call into the market manager or store reader, error-kind
// translation); no engine semantics live here.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pouladzade/bitrade/internal/cache"
	"github.com/pouladzade/bitrade/internal/market"
	"github.com/pouladzade/bitrade/internal/store"
	"github.com/pouladzade/bitrade/internal/stream"
)

type Server struct {
	Manager *market.Manager
	Reader  store.Reader
	Cache   *cache.Cache // nil disables the balance read-through
	Hub     *stream.Hub  // nil disables /v1/ws

	// JWTSecret gates the admin commands; empty disables auth.
	JWTSecret string
}

// Router builds the full route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(), cors.Default())

	cmd := r.Group("/v1/cmd")
	{
		admin := cmd.Group("", requireAdmin(s.JWTSecret))
		admin.POST("/markets", s.createMarket)
		admin.POST("/markets/:market_id/start", s.startMarket)
		admin.POST("/markets/:market_id/stop", s.stopMarket)

		cmd.POST("/orders", s.addOrder)
		cmd.DELETE("/markets/:market_id/orders/:order_id", s.cancelOrder)
		cmd.DELETE("/markets/:market_id/orders", s.cancelAllOrders)

		cmd.POST("/deposit", s.deposit)
		cmd.POST("/withdraw", s.withdraw)
		cmd.GET("/balance", s.getBalance)
	}

	q := r.Group("/v1/query")
	{
		q.GET("/markets", s.listMarkets)
		q.GET("/markets/:market_id", s.getMarket)
		q.GET("/markets/:market_id/stats", s.getMarketStats)
		q.GET("/markets/:market_id/treasury/:asset", s.getFeeTreasury)
		q.GET("/orders", s.listOrders)
		q.GET("/orders/:order_id", s.getOrder)
		q.GET("/trades", s.listTrades)
		q.GET("/wallets", s.listWallets)
		q.GET("/wallets/:user_id/:asset", s.getWallet)
		q.GET("/users/:user_id/trades", s.getUserTrades)
	}

	if s.Hub != nil {
		r.GET("/v1/ws", func(c *gin.Context) {
			s.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("api: request")
	}
}

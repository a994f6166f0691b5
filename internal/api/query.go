package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pouladzade/bitrade/internal/store"
)

// listOptions decodes the pagination descriptor from query params;
// store.ListOptions.Normalize applies the defaults and the 100-row cap.
func listOptions(c *gin.Context) store.ListOptions {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return store.ListOptions{
		Limit:          atoi(c.Query("limit")),
		Offset:         atoi(c.Query("offset")),
		OrderBy:        c.Query("order_by"),
		OrderDirection: c.Query("order_direction"),
	}
}

func pageView[T any](p store.Page[T]) gin.H {
	return gin.H{
		"items":       p.Items,
		"total_count": p.TotalCount,
		"next_offset": p.NextOffset,
		"has_more":    p.HasMore,
	}
}

func (s *Server) getMarket(c *gin.Context) {
	m, err := s.Reader.GetMarket(c.Request.Context(), c.Param("market_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) listMarkets(c *gin.Context) {
	page, err := s.Reader.ListMarkets(c.Request.Context(), listOptions(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageView(page))
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.Reader.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) listOrders(c *gin.Context) {
	f := store.OrderFilter{
		MarketID: c.Query("market_id"),
		UserID:   c.Query("user_id"),
		Status:   store.OrderStatus(c.Query("status")),
	}
	page, err := s.Reader.ListOrders(c.Request.Context(), f, listOptions(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageView(page))
}

func tradeFilter(c *gin.Context) store.TradeFilter {
	atoi64 := func(s string) int64 {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return store.TradeFilter{
		MarketID: c.Query("market_id"),
		UserID:   c.Query("user_id"),
		FromTS:   atoi64(c.Query("from")),
		ToTS:     atoi64(c.Query("to")),
	}
}

func (s *Server) listTrades(c *gin.Context) {
	page, err := s.Reader.ListTrades(c.Request.Context(), tradeFilter(c), listOptions(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageView(page))
}

func (s *Server) getUserTrades(c *gin.Context) {
	f := tradeFilter(c)
	f.UserID = c.Param("user_id")
	page, err := s.Reader.ListTrades(c.Request.Context(), f, listOptions(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageView(page))
}

func (s *Server) getWallet(c *gin.Context) {
	ctx := c.Request.Context()
	userID, asset := c.Param("user_id"), c.Param("asset")
	if w, ok := s.Cache.GetWallet(ctx, userID, asset); ok {
		c.JSON(http.StatusOK, w)
		return
	}
	w, err := s.Reader.GetWallet(ctx, userID, asset)
	if err != nil {
		fail(c, err)
		return
	}
	s.Cache.SetWallet(ctx, w)
	c.JSON(http.StatusOK, w)
}

func (s *Server) listWallets(c *gin.Context) {
	f := store.WalletFilter{
		UserID: c.Query("user_id"),
		Asset:  c.Query("asset"),
	}
	page, err := s.Reader.ListWallets(c.Request.Context(), f, listOptions(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageView(page))
}

func (s *Server) getMarketStats(c *gin.Context) {
	st, err := s.Reader.GetMarketStat(c.Request.Context(), c.Param("market_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getFeeTreasury(c *gin.Context) {
	f, err := s.Reader.GetFeeTreasury(c.Request.Context(), c.Param("market_id"), c.Param("asset"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

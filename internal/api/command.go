package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pouladzade/bitrade/internal/money"
	"github.com/pouladzade/bitrade/internal/store"
)

type createMarketRequest struct {
	MarketID        string        `json:"market_id" binding:"required"`
	BaseAsset       string        `json:"base_asset" binding:"required"`
	QuoteAsset      string        `json:"quote_asset" binding:"required"`
	DefaultMakerFee money.Decimal `json:"default_maker_fee"`
	DefaultTakerFee money.Decimal `json:"default_taker_fee"`
	MinBaseAmount   money.Decimal `json:"min_base_amount"`
	MinQuoteAmount  money.Decimal `json:"min_quote_amount"`
	PricePrecision  int32         `json:"price_precision"`
	AmountPrecision int32         `json:"amount_precision"`
}

func (s *Server) createMarket(c *gin.Context) {
	var req createMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mkt := &store.Market{
		ID:              req.MarketID,
		BaseAsset:       req.BaseAsset,
		QuoteAsset:      req.QuoteAsset,
		DefaultMakerFee: req.DefaultMakerFee,
		DefaultTakerFee: req.DefaultTakerFee,
		MinBaseAmount:   req.MinBaseAmount,
		MinQuoteAmount:  req.MinQuoteAmount,
		PricePrecision:  req.PricePrecision,
		AmountPrecision: req.AmountPrecision,
	}
	if err := s.Manager.CreateMarket(c.Request.Context(), mkt); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "market_id": mkt.ID})
}

func (s *Server) startMarket(c *gin.Context) {
	id := c.Param("market_id")
	if err := s.Manager.StartMarket(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "market_id": id})
}

func (s *Server) stopMarket(c *gin.Context) {
	id := c.Param("market_id")
	if err := s.Manager.StopMarket(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "market_id": id})
}

type addOrderRequest struct {
	MarketID      string            `json:"market_id" binding:"required"`
	UserID        string            `json:"user_id" binding:"required"`
	Side          store.Side        `json:"side" binding:"required"`
	OrderType     store.OrderType   `json:"order_type" binding:"required"`
	Price         money.Decimal     `json:"price"`
	BaseAmount    money.Decimal     `json:"base_amount"`
	QuoteAmount   money.Decimal     `json:"quote_amount"`
	MakerFee      money.Decimal     `json:"maker_fee"`
	TakerFee      money.Decimal     `json:"taker_fee"`
	TimeInForce   store.TimeInForce `json:"time_in_force"`
	PostOnly      bool              `json:"post_only"`
	ClientOrderID string            `json:"client_order_id"`
}

func (s *Server) addOrder(c *gin.Context) {
	var req addOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o := &store.Order{
		MarketID:      req.MarketID,
		UserID:        req.UserID,
		Side:          req.Side,
		OrderType:     req.OrderType,
		Price:         req.Price,
		BaseAmount:    req.BaseAmount,
		QuoteAmount:   req.QuoteAmount,
		MakerFee:      req.MakerFee,
		TakerFee:      req.TakerFee,
		TimeInForce:   req.TimeInForce,
		PostOnly:      req.PostOnly,
		ClientOrderID: req.ClientOrderID,
	}
	trades, restingID, err := s.Manager.SubmitOrder(c.Request.Context(), o)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resting_order_id": restingID,
		"trades":           trades,
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	marketID, orderID := c.Param("market_id"), c.Param("order_id")
	if err := s.Manager.CancelOrder(c.Request.Context(), marketID, orderID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	marketID := c.Param("market_id")
	if err := s.Manager.CancelAllOrders(c.Request.Context(), marketID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type walletMutationRequest struct {
	UserID string        `json:"user_id" binding:"required"`
	Asset  string        `json:"asset" binding:"required"`
	Amount money.Decimal `json:"amount"`
}

func walletView(w *store.Wallet) gin.H {
	return gin.H{
		"user_id":         w.UserID,
		"asset":           w.Asset,
		"available":       w.Available,
		"locked":          w.Locked,
		"reserved":        w.Reserved,
		"total_deposited": w.TotalDeposited,
		"total_withdrawn": w.TotalWithdrawn,
		"update_time":     w.UpdateTime,
	}
}

func (s *Server) deposit(c *gin.Context) {
	var req walletMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := s.Manager.Deposit(c.Request.Context(), req.UserID, req.Asset, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	s.Cache.InvalidateWallet(c.Request.Context(), req.UserID, req.Asset)
	c.JSON(http.StatusOK, walletView(w))
}

func (s *Server) withdraw(c *gin.Context) {
	var req walletMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := s.Manager.Withdraw(c.Request.Context(), req.UserID, req.Asset, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	s.Cache.InvalidateWallet(c.Request.Context(), req.UserID, req.Asset)
	c.JSON(http.StatusOK, walletView(w))
}

func (s *Server) getBalance(c *gin.Context) {
	userID, asset := c.Query("user_id"), c.Query("asset")
	if userID == "" || asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidArgument", "message": "user_id and asset are required"})
		return
	}
	ctx := c.Request.Context()
	if w, ok := s.Cache.GetWallet(ctx, userID, asset); ok {
		c.JSON(http.StatusOK, gin.H{"available": w.Available, "locked": w.Locked})
		return
	}
	w, err := s.Reader.GetWallet(ctx, userID, asset)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"available": money.Zero, "locked": money.Zero})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	s.Cache.SetWallet(ctx, w)
	c.JSON(http.StatusOK, gin.H{"available": w.Available, "locked": w.Locked})
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pouladzade/bitrade/internal/market"
	"github.com/pouladzade/bitrade/internal/matching"
	"github.com/pouladzade/bitrade/internal/order"
	"github.com/pouladzade/bitrade/internal/settlement"
	"github.com/pouladzade/bitrade/internal/store"
)

// classify maps an engine error onto its taxonomy kind and an HTTP status.
func classify(err error) (kind string, status int) {
	var verr *order.ValidationError
	switch {
	case errors.As(err, &verr):
		return "InvalidArgument", http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return "NotFound", http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return "Conflict", http.StatusConflict
	case errors.Is(err, matching.ErrMarketNotActive), errors.Is(err, market.ErrMarketNotRunning):
		return "MarketNotActive", http.StatusConflict
	case errors.Is(err, matching.ErrAlreadyTerminal):
		return "AlreadyTerminal", http.StatusConflict
	case errors.Is(err, matching.ErrInsufficientFunds):
		return "InsufficientFunds", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrInsufficientLockedFunds):
		return "InsufficientLockedFunds", http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrSelfTrade):
		return "SelfTrade", http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvariant):
		return "InsufficientFunds", http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrTransient):
		return "Internal", http.StatusServiceUnavailable
	default:
		return "Internal", http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	kind, status := classify(err)
	c.JSON(status, gin.H{"error": kind, "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidArgument", "message": err.Error()})
}

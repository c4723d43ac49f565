// Package http 成交查询接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/internal/settlement/application"
	"github.com/wyfcoding/spotexchange/pkg/logger"
)

// TradeHandler HTTP 处理器
type TradeHandler struct {
	svc *application.SettlementService
}

func NewTradeHandler(svc *application.SettlementService) *TradeHandler {
	return &TradeHandler{svc: svc}
}

func (h *TradeHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/markets/:market/trades", h.ListMarketTrades)
		api.GET("/orders/:id/trades", h.ListOrderTrades)
	}
}

// ListMarketTrades 市场最近成交
func (h *TradeHandler) ListMarketTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	trades, err := h.svc.Trades(c.Request.Context(), c.Param("market"), limit)
	if err != nil {
		if errors.Is(err, refdata.ErrMarketNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.Error(c.Request.Context(), "failed to list trades", "market", c.Param("market"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// ListOrderTrades 订单的成交明细
func (h *TradeHandler) ListOrderTrades(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	trades, err := h.svc.OrderTrades(c.Request.Context(), id)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list order trades", "order_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

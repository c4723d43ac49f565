// Package http 下单、撤单与订单查询接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	account "github.com/wyfcoding/spotexchange/internal/account/domain"
	matching "github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	"github.com/wyfcoding/spotexchange/internal/order/application"
	"github.com/wyfcoding/spotexchange/internal/order/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/logger"
)

// OrderHandler HTTP 处理器
type OrderHandler struct {
	svc *application.OrderService
}

// NewOrderHandler 创建 HTTP 处理器
func NewOrderHandler(svc *application.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// RegisterRoutes 注册路由，guards 只作用于下单
func (h *OrderHandler) RegisterRoutes(router gin.IRouter, guards ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	{
		api.POST("/orders", append(guards, h.CreateOrder)...)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/cancel", h.CancelOrder)
		api.GET("/members/:member_id/orders", h.ListOrders)
	}
}

// CreateOrderRequest 下单请求，金额使用字符串
type CreateOrderRequest struct {
	MemberID uint64          `json:"member_id" binding:"required"`
	Market   string          `json:"market" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=ask bid"`
	OrdType  string          `json:"ord_type" binding:"required,oneof=limit market"`
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
}

// CreateOrder 下单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.svc.PlaceOrder(c.Request.Context(), application.PlaceOrderCommand{
		MemberID: req.MemberID,
		Market:   req.Market,
		Side:     domain.Side(req.Side),
		Type:     domain.Type(req.OrdType),
		Price:    req.Price,
		Volume:   req.Volume,
	})
	if err != nil {
		// 已受理但未进入撮合的订单仍返回给调用方
		if o != nil {
			logger.Warn(c.Request.Context(), "order accepted without matching", "order_id", o.ID, "error", err)
			c.JSON(http.StatusAccepted, gin.H{"order": o, "error": err.Error()})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// GetOrder 订单详情，member_id 用于归属校验
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	memberID, ok := memberQuery(c)
	if !ok {
		return
	}
	o, err := h.svc.GetOrder(c.Request.Context(), memberID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CancelOrder 撤单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	memberID, ok := memberQuery(c)
	if !ok {
		return
	}
	o, err := h.svc.CancelOrder(c.Request.Context(), memberID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListOrders 会员订单
func (h *OrderHandler) ListOrders(c *gin.Context) {
	memberID, ok := uintParam(c, "member_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := h.svc.ListOrders(c.Request.Context(), memberID, c.Query("market"), domain.State(c.Query("state")), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func memberQuery(c *gin.Context) (uint64, bool) {
	v, err := strconv.ParseUint(c.Query("member_id"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "member_id is required"})
		return 0, false
	}
	return v, true
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, refdata.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, matching.ErrMarketNotDeepEnough):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, matching.ErrEngineHalted):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "order request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Package http 账户、提现与充值的运营接口
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/spotexchange/internal/account/application"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/logger"
	"github.com/wyfcoding/spotexchange/pkg/money"
)

// AccountHandler HTTP 处理器
type AccountHandler struct {
	ledger    *application.LedgerService
	withdraws *application.WithdrawService
	deposits  *application.DepositService
}

// NewAccountHandler 创建 HTTP 处理器
func NewAccountHandler(ledger *application.LedgerService, withdraws *application.WithdrawService, deposits *application.DepositService) *AccountHandler {
	return &AccountHandler{ledger: ledger, withdraws: withdraws, deposits: deposits}
}

// RegisterRoutes 注册路由
func (h *AccountHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/members/:member_id/accounts", h.ListAccounts)
		api.GET("/members/:member_id/reconcile", h.Reconcile)
		api.GET("/members/:member_id/withdraws", h.ListWithdraws)

		api.POST("/withdraws", h.CreateWithdraw)
		api.GET("/withdraws/:id", h.GetWithdraw)
		api.POST("/withdraws/:id/:action", h.TransitWithdraw)

		api.POST("/deposits", h.CreateDeposit)
		api.GET("/deposits/:id", h.GetDeposit)
		api.POST("/deposits/:id/:action", h.TransitDeposit)
	}
}

// ListAccounts 会员全部账户
func (h *AccountHandler) ListAccounts(c *gin.Context) {
	memberID, ok := uintParam(c, "member_id")
	if !ok {
		return
	}
	accounts, err := h.ledger.Balances(c.Request.Context(), memberID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// Reconcile 核对账户与流水
func (h *AccountHandler) Reconcile(c *gin.Context) {
	memberID, ok := uintParam(c, "member_id")
	if !ok {
		return
	}
	currency := c.Query("currency")
	if currency == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency is required"})
		return
	}
	if err := h.ledger.Reconcile(c.Request.Context(), memberID, currency); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member_id": memberID, "currency": currency, "consistent": true})
}

// CreateWithdrawRequest 提现请求
type CreateWithdrawRequest struct {
	MemberID uint64 `json:"member_id" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Sum      string `json:"sum" binding:"required"`
	RID      string `json:"rid" binding:"required"`
	Draft    bool   `json:"draft"`
}

// CreateWithdraw 创建提现
func (h *AccountHandler) CreateWithdraw(c *gin.Context) {
	var req CreateWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sum, err := money.Parse(req.Sum)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sum"})
		return
	}
	w, err := h.withdraws.CreateWithdraw(c.Request.Context(), application.CreateWithdrawCommand{
		MemberID: req.MemberID,
		Currency: req.Currency,
		Sum:      sum,
		RID:      req.RID,
		Draft:    req.Draft,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// GetWithdraw 查询提现
func (h *AccountHandler) GetWithdraw(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	w, err := h.withdraws.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// ListWithdraws 会员提现记录
func (h *AccountHandler) ListWithdraws(c *gin.Context) {
	memberID, ok := uintParam(c, "member_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.withdraws.List(c.Request.Context(), memberID, c.Query("currency"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdraws": list})
}

// TransitWithdraw 推进提现状态
func (h *AccountHandler) TransitWithdraw(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var body struct {
		TxID string `json:"txid"`
	}
	_ = c.ShouldBindJSON(&body)

	actions := map[string]func(context.Context, uint64) (*domain.Withdraw, error){
		"submit":  h.withdraws.Submit,
		"cancel":  h.withdraws.Cancel,
		"audit":   h.withdraws.Audit,
		"accept":  h.withdraws.Accept,
		"reject":  h.withdraws.Reject,
		"suspect": h.withdraws.Suspect,
		"process": h.withdraws.Process,
		"succeed": h.withdraws.Succeed,
		"fail":    h.withdraws.Fail,
		"dispatch": func(ctx context.Context, id uint64) (*domain.Withdraw, error) {
			return h.withdraws.Dispatch(ctx, id, body.TxID)
		},
	}
	run, found := actions[c.Param("action")]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action " + c.Param("action")})
		return
	}
	w, err := run(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// CreateDepositRequest 到账通知
type CreateDepositRequest struct {
	MemberID uint64 `json:"member_id" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Address  string `json:"address"`
	TxID     string `json:"txid" binding:"required"`
	TxOut    int    `json:"txout"`
}

// CreateDeposit 登记充值
func (h *AccountHandler) CreateDeposit(c *gin.Context) {
	var req CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	d, err := h.deposits.CreateDeposit(c.Request.Context(), application.CreateDepositCommand{
		MemberID: req.MemberID,
		Currency: req.Currency,
		Amount:   amount,
		Address:  req.Address,
		TxID:     req.TxID,
		TxOut:    req.TxOut,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDeposit 查询充值
func (h *AccountHandler) GetDeposit(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	d, err := h.deposits.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// TransitDeposit 推进充值状态
func (h *AccountHandler) TransitDeposit(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	actions := map[string]func(context.Context, uint64) (*domain.Deposit, error){
		"accept":  h.deposits.Accept,
		"reject":  h.deposits.Reject,
		"cancel":  h.deposits.Cancel,
		"collect": h.deposits.Collect,
	}
	run, found := actions[c.Param("action")]
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown action " + c.Param("action")})
		return
	}
	d, err := run(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return v, true
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrWithdrawNotFound),
		errors.Is(err, domain.ErrDepositNotFound),
		errors.Is(err, refdata.ErrCurrencyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateDeposit),
		errors.Is(err, domain.ErrLedgerMismatch):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientLocked),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidWithdraw),
		errors.Is(err, domain.ErrInvalidDeposit):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "account request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

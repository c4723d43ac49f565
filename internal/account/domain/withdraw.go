package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/pkg/fsm"
	"github.com/wyfcoding/pkg/idgen"
)

var (
	// ErrWithdrawNotFound 提现单不存在
	ErrWithdrawNotFound = errors.New("withdraw not found")
	// ErrInvalidWithdraw 提现参数非法
	ErrInvalidWithdraw = errors.New("invalid withdraw")
	// ErrInvalidTransition 当前状态不允许该事件
	ErrInvalidTransition = errors.New("invalid state transition")
)

// WithdrawState 提现状态
type WithdrawState string

const (
	WithdrawPrepared   WithdrawState = "prepared"
	WithdrawSubmitted  WithdrawState = "submitted"
	WithdrawRejected   WithdrawState = "rejected"
	WithdrawAccepted   WithdrawState = "accepted"
	WithdrawSuspected  WithdrawState = "suspected"
	WithdrawProcessing WithdrawState = "processing"
	WithdrawConfirming WithdrawState = "confirming"
	WithdrawSucceed    WithdrawState = "succeed"
	WithdrawCanceled   WithdrawState = "canceled"
	WithdrawFailed     WithdrawState = "failed"
)

// Completed 是否终态
func (s WithdrawState) Completed() bool {
	switch s {
	case WithdrawSucceed, WithdrawRejected, WithdrawCanceled, WithdrawFailed:
		return true
	}
	return false
}

// WithdrawEvent 提现事件
type WithdrawEvent string

const (
	WithdrawSubmit   WithdrawEvent = "submit"
	WithdrawCancel   WithdrawEvent = "cancel"
	WithdrawSuspect  WithdrawEvent = "suspect"
	WithdrawAccept   WithdrawEvent = "accept"
	WithdrawReject   WithdrawEvent = "reject"
	WithdrawProcess  WithdrawEvent = "process"
	WithdrawDispatch WithdrawEvent = "dispatch"
	WithdrawSuccess  WithdrawEvent = "success"
	WithdrawFail     WithdrawEvent = "fail"
)

// Action 状态迁移附带的副作用，与状态变更在同一事务内按顺序执行
type Action string

const (
	ActionLockFunds      Action = "lock_funds"
	ActionUnlockFunds    Action = "unlock_funds"
	ActionSubLocked      Action = "unlock_and_sub_funds"
	ActionPlusFunds      Action = "plus_funds"
	ActionCreditRevenue  Action = "credit_revenue"
	ActionDebitAsset     Action = "debit_asset"
	ActionCreditAsset    Action = "credit_asset"
	ActionDispatchPayout Action = "dispatch_payout"
)

type withdrawTransition struct {
	from    WithdrawState
	event   WithdrawEvent
	to      WithdrawState
	actions []Action
}

// withdrawTable 当前状态 × 事件 → 下一状态 + 副作用
var withdrawTable = []withdrawTransition{
	{WithdrawPrepared, WithdrawSubmit, WithdrawSubmitted, []Action{ActionLockFunds}},
	{WithdrawPrepared, WithdrawCancel, WithdrawCanceled, nil},
	{WithdrawSubmitted, WithdrawCancel, WithdrawCanceled, []Action{ActionUnlockFunds}},
	{WithdrawAccepted, WithdrawCancel, WithdrawCanceled, []Action{ActionUnlockFunds}},
	{WithdrawSubmitted, WithdrawSuspect, WithdrawSuspected, []Action{ActionUnlockFunds}},
	{WithdrawSubmitted, WithdrawAccept, WithdrawAccepted, nil},
	{WithdrawSubmitted, WithdrawReject, WithdrawRejected, []Action{ActionUnlockFunds}},
	{WithdrawAccepted, WithdrawReject, WithdrawRejected, []Action{ActionUnlockFunds}},
	{WithdrawAccepted, WithdrawProcess, WithdrawProcessing, []Action{ActionDispatchPayout}},
	{WithdrawProcessing, WithdrawDispatch, WithdrawConfirming, nil},
	{WithdrawConfirming, WithdrawSuccess, WithdrawSucceed, []Action{ActionSubLocked, ActionCreditRevenue, ActionCreditAsset}},
	{WithdrawProcessing, WithdrawFail, WithdrawFailed, []Action{ActionUnlockFunds}},
	{WithdrawConfirming, WithdrawFail, WithdrawFailed, []Action{ActionUnlockFunds}},
}

// Withdraw 提现单，Amount = Sum - Fee
type Withdraw struct {
	ID       uint64 `json:"id"`
	TID      string `json:"tid"`
	MemberID uint64 `json:"member_id"`
	Currency string `json:"currency"`
	// 冻结并最终扣除的总额
	Sum decimal.Decimal `json:"sum"`
	// 实际出款金额
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	// 收款地址
	RID         string        `json:"rid"`
	TxID        string        `json:"txid"`
	State       WithdrawState `json:"state"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	fsm *fsm.Machine `json:"-"`
}

// NewWithdraw 创建 prepared 状态的提现单；sum 已按币种精度截断
func NewWithdraw(memberID uint64, currency string, sum, fee decimal.Decimal, rid string) (*Withdraw, error) {
	if !sum.IsPositive() {
		return nil, fmt.Errorf("%w: sum must be positive", ErrInvalidWithdraw)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(sum) {
		return nil, fmt.Errorf("%w: fee %s not below sum %s", ErrInvalidWithdraw, fee, sum)
	}
	if rid == "" {
		return nil, fmt.Errorf("%w: rid is required", ErrInvalidWithdraw)
	}
	return &Withdraw{
		TID:      fmt.Sprintf("TID%d", idgen.GenID()),
		MemberID: memberID,
		Currency: currency,
		Sum:      sum,
		Fee:      fee,
		Amount:   sum.Sub(fee),
		RID:      rid,
		State:    WithdrawPrepared,
	}, nil
}

// machine 返回与当前状态同步的状态机，仅在首次使用或状态被外部改写时重建
func (w *Withdraw) machine() *fsm.Machine {
	if w.fsm == nil || WithdrawState(w.fsm.Current()) != w.State {
		m := fsm.NewMachine(fsm.State(w.State))
		for _, t := range withdrawTable {
			m.AddTransition(fsm.State(t.from), fsm.Event(t.event), fsm.State(t.to))
		}
		w.fsm = m
	}
	return w.fsm
}

func withdrawActions(from WithdrawState, event WithdrawEvent) []Action {
	for _, t := range withdrawTable {
		if t.from == from && t.event == event {
			return t.actions
		}
	}
	return nil
}

// Fire 触发事件，成功时更新状态并返回需要执行的副作用
func (w *Withdraw) Fire(ctx context.Context, event WithdrawEvent) ([]Action, error) {
	from := w.State
	m := w.machine()
	if err := m.Trigger(ctx, fsm.Event(event)); err != nil {
		return nil, fmt.Errorf("%w: withdraw %d: %v", ErrInvalidTransition, w.ID, err)
	}

	w.State = WithdrawState(m.Current())
	if w.State.Completed() {
		now := time.Now()
		w.CompletedAt = &now
	}
	return withdrawActions(from, event), nil
}

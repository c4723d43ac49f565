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
	// ErrDepositNotFound 充值单不存在
	ErrDepositNotFound = errors.New("deposit not found")
	// ErrInvalidDeposit 充值参数非法
	ErrInvalidDeposit = errors.New("invalid deposit")
	// ErrDuplicateDeposit 同一笔链上交易重复入账
	ErrDuplicateDeposit = errors.New("duplicate deposit")
)

// DepositState 充值状态
type DepositState string

const (
	DepositSubmitted DepositState = "submitted"
	DepositCanceled  DepositState = "canceled"
	DepositRejected  DepositState = "rejected"
	DepositAccepted  DepositState = "accepted"
	DepositCollected DepositState = "collected"
)

// DepositEvent 充值事件
type DepositEvent string

const (
	DepositAccept   DepositEvent = "accept"
	DepositReject   DepositEvent = "reject"
	DepositCancel   DepositEvent = "cancel"
	DepositDispatch DepositEvent = "dispatch"
)

type depositTransition struct {
	from    DepositState
	event   DepositEvent
	to      DepositState
	actions []Action
}

var depositTable = []depositTransition{
	{DepositSubmitted, DepositAccept, DepositAccepted, []Action{ActionPlusFunds, ActionDebitAsset, ActionCreditRevenue}},
	{DepositSubmitted, DepositReject, DepositRejected, nil},
	{DepositSubmitted, DepositCancel, DepositCanceled, nil},
	{DepositAccepted, DepositDispatch, DepositCollected, nil},
}

// Deposit 充值单；Amount 为入账金额，托管资产增加 Amount + Fee
type Deposit struct {
	ID          uint64          `json:"id"`
	TID         string          `json:"tid"`
	MemberID    uint64          `json:"member_id"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Address     string          `json:"address"`
	TxID        string          `json:"txid"`
	TxOut       int             `json:"txout"`
	State       DepositState    `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	fsm *fsm.Machine `json:"-"`
}

// NewDeposit 由到账总额创建充值单，手续费从总额中扣除
func NewDeposit(memberID uint64, currency string, gross, fee decimal.Decimal, address, txid string, txout int) (*Deposit, error) {
	if !gross.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidDeposit)
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(gross) {
		return nil, fmt.Errorf("%w: fee %s not below amount %s", ErrInvalidDeposit, fee, gross)
	}
	if txid == "" {
		return nil, fmt.Errorf("%w: txid is required", ErrInvalidDeposit)
	}
	return &Deposit{
		TID:      fmt.Sprintf("TID%d", idgen.GenID()),
		MemberID: memberID,
		Currency: currency,
		Amount:   gross.Sub(fee),
		Fee:      fee,
		Address:  address,
		TxID:     txid,
		TxOut:    txout,
		State:    DepositSubmitted,
	}, nil
}

func (d *Deposit) machine() *fsm.Machine {
	if d.fsm == nil || DepositState(d.fsm.Current()) != d.State {
		m := fsm.NewMachine(fsm.State(d.State))
		for _, t := range depositTable {
			m.AddTransition(fsm.State(t.from), fsm.Event(t.event), fsm.State(t.to))
		}
		d.fsm = m
	}
	return d.fsm
}

// Fire 触发事件，成功时更新状态并返回需要执行的副作用
func (d *Deposit) Fire(ctx context.Context, event DepositEvent) ([]Action, error) {
	from := d.State
	m := d.machine()
	if err := m.Trigger(ctx, fsm.Event(event)); err != nil {
		return nil, fmt.Errorf("%w: deposit %d: %v", ErrInvalidTransition, d.ID, err)
	}

	d.State = DepositState(m.Current())
	if d.State != DepositAccepted {
		now := time.Now()
		d.CompletedAt = &now
	}
	for _, t := range depositTable {
		if t.from == from && t.event == event {
			return t.actions, nil
		}
	}
	return nil, nil
}

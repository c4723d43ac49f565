// Package domain 会员资金账户、资金流水与充提状态机
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds 可用余额不足
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientLocked 冻结余额不足
	ErrInsufficientLocked = errors.New("insufficient locked funds")
	// ErrInvalidAmount 金额为负
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrLedgerMismatch 账户余额与流水汇总不一致
	ErrLedgerMismatch = errors.New("ledger mismatch")
)

// Account 会员在某一币种上的资金账户
// Balance 为可用余额，Locked 为挂单、提现冻结的余额，两者始终非负。
type Account struct {
	ID        uint64          `json:"id"`
	MemberID  uint64          `json:"member_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccount 创建零余额账户
func NewAccount(memberID uint64, currency string) *Account {
	return &Account{
		MemberID: memberID,
		Currency: currency,
		Balance:  decimal.Zero,
		Locked:   decimal.Zero,
	}
}

// Total 余额与冻结之和
func (a *Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Locked)
}

// LockFunds 可用转冻结
func (a *Account) LockFunds(amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: member %d %s balance %s, need %s", ErrInsufficientFunds, a.MemberID, a.Currency, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	a.Locked = a.Locked.Add(amount)
	return nil
}

// UnlockFunds 冻结转回可用
func (a *Account) UnlockFunds(amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Locked.LessThan(amount) {
		return fmt.Errorf("%w: member %d %s locked %s, need %s", ErrInsufficientLocked, a.MemberID, a.Currency, a.Locked, amount)
	}
	a.Locked = a.Locked.Sub(amount)
	a.Balance = a.Balance.Add(amount)
	return nil
}

// UnlockAndSubFunds 从冻结中扣除，不回到可用（成交付出或提现出款）
func (a *Account) UnlockAndSubFunds(amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if a.Locked.LessThan(amount) {
		return fmt.Errorf("%w: member %d %s locked %s, need %s", ErrInsufficientLocked, a.MemberID, a.Currency, a.Locked, amount)
	}
	a.Locked = a.Locked.Sub(amount)
	return nil
}

// PlusFunds 增加可用余额
func (a *Account) PlusFunds(amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OperationCode 流水所属科目
type OperationCode string

const (
	// CodeLiability 平台对会员的负债，即会员账户
	CodeLiability OperationCode = "liability"
	// CodeRevenue 平台手续费收入
	CodeRevenue OperationCode = "revenue"
	// CodeAsset 平台持有的资产（托管钱包）
	CodeAsset OperationCode = "asset"
)

// BalanceKind 会员账户的子余额
type BalanceKind string

const (
	KindMain   BalanceKind = "main"
	KindLocked BalanceKind = "locked"
)

// ReferenceKind 引起资金变动的实体类型
type ReferenceKind string

const (
	RefTrade    ReferenceKind = "trade"
	RefWithdraw ReferenceKind = "withdraw"
	RefDeposit  ReferenceKind = "deposit"
	RefOrder    ReferenceKind = "order"
)

// Reference 流水来源，类型限定为 ReferenceKind 中的一种
type Reference struct {
	Kind ReferenceKind `json:"kind"`
	ID   uint64        `json:"id"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

func TradeRef(id uint64) Reference    { return Reference{Kind: RefTrade, ID: id} }
func WithdrawRef(id uint64) Reference { return Reference{Kind: RefWithdraw, ID: id} }
func DepositRef(id uint64) Reference  { return Reference{Kind: RefDeposit, ID: id} }
func OrderRef(id uint64) Reference    { return Reference{Kind: RefOrder, ID: id} }

// Operation 只追加的资金流水，创建后不修改不删除
// 负债与收入科目贷方增加、借方减少；资产科目借方增加、贷方减少。
type Operation struct {
	ID        uint64          `json:"id"`
	Code      OperationCode   `json:"code"`
	MemberID  uint64          `json:"member_id"`
	Currency  string          `json:"currency"`
	Kind      BalanceKind     `json:"kind"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Reference Reference       `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// Liability 会员账户流水
func Liability(memberID uint64, currency string, kind BalanceKind, ref Reference) *Operation {
	return &Operation{Code: CodeLiability, MemberID: memberID, Currency: currency, Kind: kind, Debit: decimal.Zero, Credit: decimal.Zero, Reference: ref}
}

// Revenue 平台收入流水
func Revenue(currency string, ref Reference) *Operation {
	return &Operation{Code: CodeRevenue, Currency: currency, Kind: KindMain, Debit: decimal.Zero, Credit: decimal.Zero, Reference: ref}
}

// Asset 平台资产流水
func Asset(currency string, ref Reference) *Operation {
	return &Operation{Code: CodeAsset, Currency: currency, Kind: KindMain, Debit: decimal.Zero, Credit: decimal.Zero, Reference: ref}
}

// WithDebit 设置借方金额
func (o *Operation) WithDebit(amount decimal.Decimal) *Operation {
	o.Debit = amount
	return o
}

// WithCredit 设置贷方金额
func (o *Operation) WithCredit(amount decimal.Decimal) *Operation {
	o.Credit = amount
	return o
}

// Net 科目方向上的净额
func (o *Operation) Net() decimal.Decimal {
	if o.Code == CodeAsset {
		return o.Debit.Sub(o.Credit)
	}
	return o.Credit.Sub(o.Debit)
}

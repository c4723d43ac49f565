package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountRepository 账户仓储
type AccountRepository interface {
	// GetForUpdate 加排他锁读取账户，不存在时创建零余额账户；必须在事务内调用
	GetForUpdate(ctx context.Context, memberID uint64, currency string) (*Account, error)
	// Get 读取账户，不存在返回 ErrAccountNotFound
	Get(ctx context.Context, memberID uint64, currency string) (*Account, error)
	// ListByMember 会员全部币种账户
	ListByMember(ctx context.Context, memberID uint64) ([]*Account, error)
	Save(ctx context.Context, account *Account) error
}

// OperationRepository 资金流水仓储，只追加
type OperationRepository interface {
	Append(ctx context.Context, ops ...*Operation) error
	// Totals 按科目、会员、币种、子余额汇总借贷
	Totals(ctx context.Context, code OperationCode, memberID uint64, currency string, kind BalanceKind) (debit, credit decimal.Decimal, err error)
	ListByReference(ctx context.Context, ref Reference) ([]*Operation, error)
}

// WithdrawRepository 提现单仓储
type WithdrawRepository interface {
	Save(ctx context.Context, w *Withdraw) error
	Get(ctx context.Context, id uint64) (*Withdraw, error)
	GetForUpdate(ctx context.Context, id uint64) (*Withdraw, error)
	// SumSince 会员某币种在 since 之后创建、处于给定状态的提现总额
	SumSince(ctx context.Context, memberID uint64, currency string, states []WithdrawState, since time.Time) (decimal.Decimal, error)
	ListByMember(ctx context.Context, memberID uint64, currency string, limit int) ([]*Withdraw, error)
}

// DepositRepository 充值单仓储
type DepositRepository interface {
	Save(ctx context.Context, d *Deposit) error
	Get(ctx context.Context, id uint64) (*Deposit, error)
	GetForUpdate(ctx context.Context, id uint64) (*Deposit, error)
	FindByTx(ctx context.Context, currency, txid string, txout int) (*Deposit, error)
}

// PayoutDispatcher 把进入 processing 的提现交给外部出款服务
type PayoutDispatcher interface {
	Dispatch(ctx context.Context, w *Withdraw) error
}

// Package application 账户上下文的应用服务：资金账本、提现与充值流程
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"github.com/wyfcoding/spotexchange/pkg/logger"
)

// LedgerService 资金账本
// 每次余额变动都在同一事务内写入成对的流水，任一步失败整体回滚。
// ctx 中已有事务时加入该事务，因此可以被结算、提现等流程组合调用。
type LedgerService struct {
	tx       db.TxManager
	accounts domain.AccountRepository
	ops      domain.OperationRepository
	logger   *slog.Logger
}

// NewLedgerService 创建账本服务
func NewLedgerService(tx db.TxManager, accounts domain.AccountRepository, ops domain.OperationRepository) *LedgerService {
	return &LedgerService{
		tx:       tx,
		accounts: accounts,
		ops:      ops,
		logger:   logger.Module("ledger"),
	}
}

// LockFunds 可用转冻结：负债 main 借记，负债 locked 贷记
func (s *LedgerService) LockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.apply(ctx, memberID, currency, amount, (*domain.Account).LockFunds,
		domain.Liability(memberID, currency, domain.KindMain, ref).WithDebit(amount),
		domain.Liability(memberID, currency, domain.KindLocked, ref).WithCredit(amount),
	)
}

// UnlockFunds 冻结转可用
func (s *LedgerService) UnlockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.apply(ctx, memberID, currency, amount, (*domain.Account).UnlockFunds,
		domain.Liability(memberID, currency, domain.KindLocked, ref).WithDebit(amount),
		domain.Liability(memberID, currency, domain.KindMain, ref).WithCredit(amount),
	)
}

// UnlockAndSubFunds 从冻结余额中扣除
func (s *LedgerService) UnlockAndSubFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.apply(ctx, memberID, currency, amount, (*domain.Account).UnlockAndSubFunds,
		domain.Liability(memberID, currency, domain.KindLocked, ref).WithDebit(amount),
	)
}

// PlusFunds 增加可用余额
func (s *LedgerService) PlusFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.apply(ctx, memberID, currency, amount, (*domain.Account).PlusFunds,
		domain.Liability(memberID, currency, domain.KindMain, ref).WithCredit(amount),
	)
}

// CreditRevenue 记入平台手续费收入
func (s *LedgerService) CreditRevenue(ctx context.Context, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.record(ctx, amount, domain.Revenue(currency, ref).WithCredit(amount))
}

// DebitAsset 托管资产增加
func (s *LedgerService) DebitAsset(ctx context.Context, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.record(ctx, amount, domain.Asset(currency, ref).WithDebit(amount))
}

// CreditAsset 托管资产减少
func (s *LedgerService) CreditAsset(ctx context.Context, currency string, amount decimal.Decimal, ref domain.Reference) error {
	return s.record(ctx, amount, domain.Asset(currency, ref).WithCredit(amount))
}

// Balance 查询账户，不存在时返回零余额账户
func (s *LedgerService) Balance(ctx context.Context, memberID uint64, currency string) (*domain.Account, error) {
	acc, err := s.accounts.Get(ctx, memberID, currency)
	if err != nil {
		if isNotFound(err) {
			return domain.NewAccount(memberID, currency), nil
		}
		return nil, err
	}
	return acc, nil
}

// Balances 会员全部账户
func (s *LedgerService) Balances(ctx context.Context, memberID uint64) ([]*domain.Account, error) {
	return s.accounts.ListByMember(ctx, memberID)
}

// Reconcile 核对账户余额与负债流水净额
func (s *LedgerService) Reconcile(ctx context.Context, memberID uint64, currency string) error {
	acc, err := s.Balance(ctx, memberID, currency)
	if err != nil {
		return err
	}
	check := func(kind domain.BalanceKind, have decimal.Decimal) error {
		debit, credit, err := s.ops.Totals(ctx, domain.CodeLiability, memberID, currency, kind)
		if err != nil {
			return err
		}
		if net := credit.Sub(debit); !net.Equal(have) {
			return fmt.Errorf("%w: member %d %s %s balance %s, operations %s",
				domain.ErrLedgerMismatch, memberID, currency, kind, have, net)
		}
		return nil
	}
	if err := check(domain.KindMain, acc.Balance); err != nil {
		return err
	}
	return check(domain.KindLocked, acc.Locked)
}

func (s *LedgerService) apply(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal,
	mutate func(*domain.Account, decimal.Decimal) error, ops ...*domain.Operation) error {
	if amount.IsZero() {
		return nil
	}
	return s.tx.Transaction(ctx, func(txCtx context.Context) error {
		acc, err := s.accounts.GetForUpdate(txCtx, memberID, currency)
		if err != nil {
			return err
		}
		if err := mutate(acc, amount); err != nil {
			return err
		}
		if err := s.accounts.Save(txCtx, acc); err != nil {
			return err
		}
		if err := s.ops.Append(txCtx, ops...); err != nil {
			return err
		}
		s.logger.DebugContext(ctx, "account updated",
			"member_id", memberID, "currency", currency, "amount", amount.String(),
			"reference", ops[0].Reference.String(), "balance", acc.Balance.String(), "locked", acc.Locked.String())
		return nil
	})
}

func (s *LedgerService) record(ctx context.Context, amount decimal.Decimal, op *domain.Operation) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount)
	}
	return s.ops.Append(ctx, op)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrAccountNotFound)
}

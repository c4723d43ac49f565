// Package mysql 账户上下文的 GORM 持久化实现（mysql/postgres/sqlite 通用）
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
)

// AccountModel 账户表
type AccountModel struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	MemberID  uint64          `gorm:"column:member_id;not null;uniqueIndex:idx_accounts_member_currency;comment:会员ID"`
	Currency  string          `gorm:"column:currency;type:varchar(10);not null;uniqueIndex:idx_accounts_member_currency;comment:币种"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(32,16);not null;default:0;comment:可用余额"`
	Locked    decimal.Decimal `gorm:"column:locked;type:decimal(32,16);not null;default:0;comment:冻结余额"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "accounts" }

// OperationModel 资金流水表，只插入
type OperationModel struct {
	ID            uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Code          string          `gorm:"column:code;type:varchar(16);not null;index:idx_operations_account,priority:1;comment:科目"`
	MemberID      uint64          `gorm:"column:member_id;not null;default:0;index:idx_operations_account,priority:2;comment:会员ID，平台科目为0"`
	Currency      string          `gorm:"column:currency;type:varchar(10);not null;index:idx_operations_account,priority:3"`
	Kind          string          `gorm:"column:kind;type:varchar(10);not null;index:idx_operations_account,priority:4;comment:main/locked"`
	Debit         decimal.Decimal `gorm:"column:debit;type:decimal(32,16);not null;default:0"`
	Credit        decimal.Decimal `gorm:"column:credit;type:decimal(32,16);not null;default:0"`
	ReferenceType string          `gorm:"column:reference_type;type:varchar(16);not null;index:idx_operations_reference,priority:1"`
	ReferenceID   uint64          `gorm:"column:reference_id;not null;index:idx_operations_reference,priority:2"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (OperationModel) TableName() string { return "account_operations" }

// WithdrawModel 提现单表
type WithdrawModel struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	TID         string          `gorm:"column:tid;type:varchar(64);not null;index"`
	MemberID    uint64          `gorm:"column:member_id;not null;index:idx_withdraws_member_currency,priority:1"`
	Currency    string          `gorm:"column:currency;type:varchar(10);not null;index:idx_withdraws_member_currency,priority:2"`
	Sum         decimal.Decimal `gorm:"column:sum;type:decimal(32,16);not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,16);not null"`
	Fee         decimal.Decimal `gorm:"column:fee;type:decimal(32,16);not null"`
	RID         string          `gorm:"column:rid;type:varchar(128);not null"`
	TxID        string          `gorm:"column:txid;type:varchar(128)"`
	State       string          `gorm:"column:state;type:varchar(30);not null;index"`
	CreatedAt   time.Time       `gorm:"column:created_at;index"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
}

func (WithdrawModel) TableName() string { return "withdraws" }

// DepositModel 充值单表
type DepositModel struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	TID         string          `gorm:"column:tid;type:varchar(64);not null;index"`
	MemberID    uint64          `gorm:"column:member_id;not null;index"`
	Currency    string          `gorm:"column:currency;type:varchar(10);not null;uniqueIndex:idx_deposits_tx,priority:1"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(32,16);not null"`
	Fee         decimal.Decimal `gorm:"column:fee;type:decimal(32,16);not null"`
	Address     string          `gorm:"column:address;type:varchar(128)"`
	TxID        string          `gorm:"column:txid;type:varchar(128);not null;uniqueIndex:idx_deposits_tx,priority:2"`
	TxOut       int             `gorm:"column:txout;not null;default:0;uniqueIndex:idx_deposits_tx,priority:3"`
	State       string          `gorm:"column:state;type:varchar(30);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at"`
	CompletedAt *time.Time      `gorm:"column:completed_at"`
}

func (DepositModel) TableName() string { return "deposits" }

// Models 需要迁移的全部表
func Models() []any {
	return []any{&AccountModel{}, &OperationModel{}, &WithdrawModel{}, &DepositModel{}}
}

func toAccount(m *AccountModel) *domain.Account {
	return &domain.Account{
		ID:        m.ID,
		MemberID:  m.MemberID,
		Currency:  m.Currency,
		Balance:   m.Balance,
		Locked:    m.Locked,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toOperationModel(o *domain.Operation) *OperationModel {
	return &OperationModel{
		ID:            o.ID,
		Code:          string(o.Code),
		MemberID:      o.MemberID,
		Currency:      o.Currency,
		Kind:          string(o.Kind),
		Debit:         o.Debit,
		Credit:        o.Credit,
		ReferenceType: string(o.Reference.Kind),
		ReferenceID:   o.Reference.ID,
		CreatedAt:     o.CreatedAt,
	}
}

func toOperation(m *OperationModel) *domain.Operation {
	return &domain.Operation{
		ID:        m.ID,
		Code:      domain.OperationCode(m.Code),
		MemberID:  m.MemberID,
		Currency:  m.Currency,
		Kind:      domain.BalanceKind(m.Kind),
		Debit:     m.Debit,
		Credit:    m.Credit,
		Reference: domain.Reference{Kind: domain.ReferenceKind(m.ReferenceType), ID: m.ReferenceID},
		CreatedAt: m.CreatedAt,
	}
}

func toWithdrawModel(w *domain.Withdraw) *WithdrawModel {
	return &WithdrawModel{
		ID:          w.ID,
		TID:         w.TID,
		MemberID:    w.MemberID,
		Currency:    w.Currency,
		Sum:         w.Sum,
		Amount:      w.Amount,
		Fee:         w.Fee,
		RID:         w.RID,
		TxID:        w.TxID,
		State:       string(w.State),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		CompletedAt: w.CompletedAt,
	}
}

func toWithdraw(m *WithdrawModel) *domain.Withdraw {
	return &domain.Withdraw{
		ID:          m.ID,
		TID:         m.TID,
		MemberID:    m.MemberID,
		Currency:    m.Currency,
		Sum:         m.Sum,
		Amount:      m.Amount,
		Fee:         m.Fee,
		RID:         m.RID,
		TxID:        m.TxID,
		State:       domain.WithdrawState(m.State),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func toDepositModel(d *domain.Deposit) *DepositModel {
	return &DepositModel{
		ID:          d.ID,
		TID:         d.TID,
		MemberID:    d.MemberID,
		Currency:    d.Currency,
		Amount:      d.Amount,
		Fee:         d.Fee,
		Address:     d.Address,
		TxID:        d.TxID,
		TxOut:       d.TxOut,
		State:       string(d.State),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
	}
}

func toDeposit(m *DepositModel) *domain.Deposit {
	return &domain.Deposit{
		ID:          m.ID,
		TID:         m.TID,
		MemberID:    m.MemberID,
		Currency:    m.Currency,
		Amount:      m.Amount,
		Fee:         m.Fee,
		Address:     m.Address,
		TxID:        m.TxID,
		TxOut:       m.TxOut,
		State:       domain.DepositState(m.State),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
}

package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// accountRepository 账户仓储实现
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(gdb *gorm.DB) domain.AccountRepository {
	return &accountRepository{db: gdb}
}

// GetForUpdate 行锁读取，账户不存在时先插入零余额行再加锁读取
func (r *accountRepository) GetForUpdate(ctx context.Context, memberID uint64, currency string) (*domain.Account, error) {
	conn := r.getDB(ctx)

	var model AccountModel
	err := db.ForUpdate(conn).Where("member_id = ? AND currency = ?", memberID, currency).First(&model).Error
	if err == nil {
		return toAccount(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	seed := AccountModel{MemberID: memberID, Currency: currency, Balance: decimal.Zero, Locked: decimal.Zero}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	if err := db.ForUpdate(conn).Where("member_id = ? AND currency = ?", memberID, currency).First(&model).Error; err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return toAccount(&model), nil
}

func (r *accountRepository) Get(ctx context.Context, memberID uint64, currency string) (*domain.Account, error) {
	var model AccountModel
	err := r.getDB(ctx).Where("member_id = ? AND currency = ?", memberID, currency).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: member %d %s", domain.ErrAccountNotFound, memberID, currency)
	}
	if err != nil {
		return nil, err
	}
	return toAccount(&model), nil
}

func (r *accountRepository) ListByMember(ctx context.Context, memberID uint64) ([]*domain.Account, error) {
	var models []*AccountModel
	if err := r.getDB(ctx).Where("member_id = ?", memberID).Order("currency").Find(&models).Error; err != nil {
		return nil, err
	}
	accounts := make([]*domain.Account, len(models))
	for i, m := range models {
		accounts[i] = toAccount(m)
	}
	return accounts, nil
}

// Save 只更新余额字段
func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	if account.ID == 0 {
		return errors.New("account must be loaded before save")
	}
	if account.Balance.IsNegative() || account.Locked.IsNegative() {
		return fmt.Errorf("refusing to persist negative balance for member %d %s", account.MemberID, account.Currency)
	}
	return r.getDB(ctx).Model(&AccountModel{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"balance": account.Balance,
			"locked":  account.Locked,
		}).Error
}

func (r *accountRepository) getDB(ctx context.Context) *gorm.DB {
	return db.Conn(ctx, r.db)
}

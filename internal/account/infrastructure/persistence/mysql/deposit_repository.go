package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
)

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository 创建充值仓储
func NewDepositRepository(gdb *gorm.DB) domain.DepositRepository {
	return &depositRepository{db: gdb}
}

func (r *depositRepository) Save(ctx context.Context, d *domain.Deposit) error {
	model := toDepositModel(d)
	conn := db.Conn(ctx, r.db)
	var err error
	if model.ID == 0 {
		err = conn.Create(model).Error
	} else {
		err = conn.Save(model).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}
	d.ID = model.ID
	d.CreatedAt = model.CreatedAt
	d.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *depositRepository) Get(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return r.first(db.Conn(ctx, r.db).Where("id = ?", id))
}

func (r *depositRepository) GetForUpdate(ctx context.Context, id uint64) (*domain.Deposit, error) {
	return r.first(db.ForUpdate(db.Conn(ctx, r.db)).Where("id = ?", id))
}

func (r *depositRepository) FindByTx(ctx context.Context, currency, txid string, txout int) (*domain.Deposit, error) {
	return r.first(db.Conn(ctx, r.db).Where("currency = ? AND txid = ? AND txout = ?", currency, txid, txout))
}

func (r *depositRepository) first(q *gorm.DB) (*domain.Deposit, error) {
	var model DepositModel
	err := q.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDeposit(&model), nil
}

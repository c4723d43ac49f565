package mysql

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/spotexchange/internal/account/domain"
	"github.com/wyfcoding/spotexchange/pkg/db"
	"gorm.io/gorm"
)

type operationRepository struct {
	db *gorm.DB
}

// NewOperationRepository 创建流水仓储
func NewOperationRepository(gdb *gorm.DB) domain.OperationRepository {
	return &operationRepository{db: gdb}
}

func (r *operationRepository) Append(ctx context.Context, ops ...*domain.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	models := make([]*OperationModel, len(ops))
	for i, o := range ops {
		if o.ID != 0 {
			return fmt.Errorf("operation %d already persisted", o.ID)
		}
		models[i] = toOperationModel(o)
	}
	if err := db.Conn(ctx, r.db).Create(&models).Error; err != nil {
		return fmt.Errorf("failed to append operations: %w", err)
	}
	for i, m := range models {
		ops[i].ID = m.ID
		ops[i].CreatedAt = m.CreatedAt
	}
	return nil
}

// Totals 在 Go 中逐行累加，避免数据库把 decimal 聚合成浮点
func (r *operationRepository) Totals(ctx context.Context, code domain.OperationCode, memberID uint64, currency string, kind domain.BalanceKind) (decimal.Decimal, decimal.Decimal, error) {
	var rows []struct {
		Debit  decimal.Decimal
		Credit decimal.Decimal
	}
	err := db.Conn(ctx, r.db).Model(&OperationModel{}).
		Select("debit", "credit").
		Where("code = ? AND member_id = ? AND currency = ? AND kind = ?", string(code), memberID, currency, string(kind)).
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, row := range rows {
		debit = debit.Add(row.Debit)
		credit = credit.Add(row.Credit)
	}
	return debit, credit, nil
}

func (r *operationRepository) ListByReference(ctx context.Context, ref domain.Reference) ([]*domain.Operation, error) {
	var models []*OperationModel
	err := db.Conn(ctx, r.db).
		Where("reference_type = ? AND reference_id = ?", string(ref.Kind), ref.ID).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	ops := make([]*domain.Operation, len(models))
	for i, m := range models {
		ops[i] = toOperation(m)
	}
	return ops, nil
}

package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	"mall/internal/flashsale/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// FlashSaleModel 对应 flash_sale 表。
type FlashSaleModel struct {
	ID         uint   `gorm:"primarykey"`
	SaleID     string `gorm:"uniqueIndex;size:64"`
	ProductID  string `gorm:"size:64;index"`
	Total      int64
	Sold       int64
	Reserved   int64
	PerUserCap int64
	StartAt    time.Time
	EndAt      time.Time
	State      string `gorm:"size:16;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (FlashSaleModel) TableName() string { return "flash_sale" }

// GormFlashSaleRepository 实现 domain.Repository。
// Sold/Reserved 列只由对账任务回写，请求路径不碰它们。
type GormFlashSaleRepository struct {
	db *gorm.DB
}

func NewGormFlashSaleRepository(db *gorm.DB) *GormFlashSaleRepository {
	return &GormFlashSaleRepository{db: db}
}

func (r *GormFlashSaleRepository) Get(ctx context.Context, saleID string) (*domain.FlashSale, error) {
	var model FlashSaleModel
	err := r.db.WithContext(ctx).Where("sale_id = ?", saleID).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrNotFound, "sale %s", saleID)
		}
		return nil, errors.Wrap(err, "query flash sale")
	}
	return toDomainSale(&model), nil
}

func (r *GormFlashSaleRepository) UpdateCounters(ctx context.Context, saleID string, sold, reserved int64) error {
	err := r.db.WithContext(ctx).Model(&FlashSaleModel{}).
		Where("sale_id = ?", saleID).
		Updates(map[string]interface{}{"sold": sold, "reserved": reserved}).Error
	return errors.Wrap(err, "update flash sale counters")
}

func (r *GormFlashSaleRepository) MarkSoldOut(ctx context.Context, saleID string) error {
	// 条件更新：只有 ACTIVE 才迁移，已经是终态的场次不回头
	err := r.db.WithContext(ctx).Model(&FlashSaleModel{}).
		Where("sale_id = ? AND state = ?", saleID, string(domain.StateActive)).
		Update("state", string(domain.StateSoldOut)).Error
	return errors.Wrap(err, "mark flash sale sold out")
}

func (r *GormFlashSaleRepository) ListOpen(ctx context.Context) ([]*domain.FlashSale, error) {
	var models []FlashSaleModel
	err := r.db.WithContext(ctx).
		Where("state NOT IN ?", []string{string(domain.StateEnded), string(domain.StateCancelled)}).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list open flash sales")
	}
	sales := make([]*domain.FlashSale, 0, len(models))
	for i := range models {
		sales = append(sales, toDomainSale(&models[i]))
	}
	return sales, nil
}

func toDomainSale(m *FlashSaleModel) *domain.FlashSale {
	return &domain.FlashSale{
		ID:         m.SaleID,
		ProductID:  m.ProductID,
		Total:      m.Total,
		Sold:       m.Sold,
		Reserved:   m.Reserved,
		PerUserCap: m.PerUserCap,
		StartAt:    m.StartAt,
		EndAt:      m.EndAt,
		State:      domain.State(m.State),
	}
}

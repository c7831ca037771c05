package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	"mall/internal/inventory/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// InventoryModel 对应 inventory 表。
type InventoryModel struct {
	ID           uint   `gorm:"primarykey"`
	ProductID    string `gorm:"uniqueIndex;size:64"`
	SKU          string `gorm:"size:64"`
	Quantity     int64
	Reserved     int64
	ReorderPoint int64
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (InventoryModel) TableName() string { return "inventory" }

// ReservationModel 对应 stock_reservation 表。(order_id, product_id) 唯一。
type ReservationModel struct {
	ID        uint   `gorm:"primarykey"`
	OrderID   string `gorm:"uniqueIndex:uk_order_product;size:64"`
	ProductID string `gorm:"uniqueIndex:uk_order_product;size:64"`
	Qty       int64
	Status    string `gorm:"size:16;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ReservationModel) TableName() string { return "stock_reservation" }

// GormInventoryRepository 实现 domain.Repository。
// 版本条件写回是防止并发覆盖的唯一手段，任何 UPDATE 都必须带 version。
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) Get(ctx context.Context, productID string) (*domain.Record, error) {
	var model InventoryModel
	err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrNotFound, "product %s", productID)
		}
		return nil, errors.Wrap(err, "query inventory")
	}
	return toDomainRecord(&model), nil
}

func (r *GormInventoryRepository) UpdateWithVersion(ctx context.Context, record *domain.Record, expectedVersion int64) error {
	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("product_id = ? AND version = ?", record.ProductID, expectedVersion).
		Updates(map[string]interface{}{
			"quantity": record.Quantity,
			"reserved": record.Reserved,
			"version":  expectedVersion + 1,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update inventory")
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// GormReservationStore 实现 domain.ReservationStore。
type GormReservationStore struct {
	db *gorm.DB
}

func NewGormReservationStore(db *gorm.DB) *GormReservationStore {
	return &GormReservationStore{db: db}
}

func (s *GormReservationStore) Get(ctx context.Context, orderID, productID string) (*domain.Reservation, error) {
	var model ReservationModel
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "query reservation")
	}
	return toDomainReservation(&model), nil
}

func (s *GormReservationStore) Create(ctx context.Context, res *domain.Reservation) (bool, error) {
	model := ReservationModel{
		OrderID:   res.OrderID,
		ProductID: res.ProductID,
		Qty:       res.Qty,
		Status:    string(res.Status),
	}
	err := s.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		// 唯一键冲突说明重复命令已经创建过，按"已存在"处理
		var mysqlErr *mysql.MySQLError
		if stderrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, errors.Wrap(err, "create reservation")
	}
	return true, nil
}

func (s *GormReservationStore) TransitionStatus(ctx context.Context, orderID, productID string, from, to domain.ReservationStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("order_id = ? AND product_id = ? AND status = ?", orderID, productID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "transition reservation status")
	}
	return result.RowsAffected == 1, nil
}

func (s *GormReservationStore) FindByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "query reservations by order")
	}
	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, toDomainReservation(&models[i]))
	}
	return reservations, nil
}

func toDomainRecord(m *InventoryModel) *domain.Record {
	return &domain.Record{
		ProductID:    m.ProductID,
		SKU:          m.SKU,
		Quantity:     m.Quantity,
		Reserved:     m.Reserved,
		ReorderPoint: m.ReorderPoint,
		Version:      m.Version,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		OrderID:   m.OrderID,
		ProductID: m.ProductID,
		Qty:       m.Qty,
		Status:    domain.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

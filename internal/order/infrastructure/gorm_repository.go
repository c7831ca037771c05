package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	"mall/internal/order/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// OrderModel 对应 orders 表。saga_id 和 order_no 都有唯一约束，
// 重复创建靠唯一键冲突兜底。
type OrderModel struct {
	ID              uint   `gorm:"primarykey"`
	OrderNo         string `gorm:"uniqueIndex;size:64"`
	SagaID          string `gorm:"uniqueIndex;size:64"`
	UserID          string `gorm:"size:64;index"`
	TotalAmount     float64
	PaymentRef      string `gorm:"size:128"`
	ShippingAddress string `gorm:"size:512"`
	TrackingNo      string `gorm:"size:64"`
	Status          string `gorm:"size:16;index"`
	SagaStatus      string `gorm:"size:24;index:idx_saga_status_updated"`
	FailureReason   string `gorm:"size:512"`
	CreatedAt       time.Time
	UpdatedAt       time.Time `gorm:"index:idx_saga_status_updated"`

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应 order_item 表，行级预占状态随事件推进。
type OrderItemModel struct {
	ID          uint   `gorm:"primarykey"`
	OrderID     uint   `gorm:"index"`
	ProductID   string `gorm:"size:64"`
	SKU         string `gorm:"size:64"`
	UnitPrice   float64
	Qty         int64
	FlashSaleID string `gorm:"size:64"`
	Reservation string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (OrderItemModel) TableName() string { return "order_item" }

// GormOrderRepository 实现 domain.Repository。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) (bool, error) {
	model := toModel(order)
	err := r.db.WithContext(ctx).Create(model).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stderrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, errors.Wrap(err, "create order")
	}
	return true, nil
}

func (r *GormOrderRepository) GetBySagaID(ctx context.Context, sagaID string) (*domain.Order, error) {
	return r.getOne(ctx, "saga_id = ?", sagaID)
}

func (r *GormOrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	return r.getOne(ctx, "order_no = ?", orderNo)
}

func (r *GormOrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where(query, arg).First(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrNotFound, "%s %v", query, arg)
		}
		return nil, errors.Wrap(err, "query order")
	}
	return toDomain(&model), nil
}

// Update 回写订单头和所有行的状态。同一 saga 的事件串行处理，
// 这里不需要版本条件。
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.Where("saga_id = ?", order.SagaID).First(&model).Error; err != nil {
			return errors.Wrap(err, "load order for update")
		}
		updates := map[string]interface{}{
			"status":         string(order.Status),
			"saga_status":    string(order.SagaStatus),
			"payment_ref":    order.PaymentRef,
			"failure_reason": order.FailureReason,
			"tracking_no":    order.TrackingNo,
		}
		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "update order")
		}
		for _, item := range order.Items {
			err := tx.Model(&OrderItemModel{}).
				Where("order_id = ? AND product_id = ?", model.ID, item.ProductID).
				Update("reservation", string(item.Reservation)).Error
			if err != nil {
				return errors.Wrap(err, "update order item")
			}
		}
		return nil
	})
}

func (r *GormOrderRepository) FindStuck(ctx context.Context, olderThan time.Time) ([]*domain.Order, error) {
	terminal := []string{
		string(domain.SagaConfirmed),
		string(domain.SagaCompensated),
		string(domain.SagaFailed),
	}
	var models []OrderModel
	err := r.db.WithContext(ctx).Preload("Items").
		Where("saga_status NOT IN ? AND updated_at < ?", terminal, olderThan).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "query stuck orders")
	}
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, toDomain(&models[i]))
	}
	return orders, nil
}

func toModel(o *domain.Order) *OrderModel {
	model := &OrderModel{
		OrderNo:         o.OrderNo,
		SagaID:          o.SagaID,
		UserID:          o.UserID,
		TotalAmount:     o.TotalAmount,
		PaymentRef:      o.PaymentRef,
		ShippingAddress: o.ShippingAddress,
		TrackingNo:      o.TrackingNo,
		Status:          string(o.Status),
		SagaStatus:      string(o.SagaStatus),
		FailureReason:   o.FailureReason,
	}
	for _, item := range o.Items {
		model.Items = append(model.Items, OrderItemModel{
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Qty:         item.Qty,
			FlashSaleID: item.FlashSaleID,
			Reservation: string(item.Reservation),
		})
	}
	return model
}

func toDomain(m *OrderModel) *domain.Order {
	order := &domain.Order{
		OrderNo:         m.OrderNo,
		SagaID:          m.SagaID,
		UserID:          m.UserID,
		TotalAmount:     m.TotalAmount,
		PaymentRef:      m.PaymentRef,
		ShippingAddress: m.ShippingAddress,
		TrackingNo:      m.TrackingNo,
		Status:          domain.OrderStatus(m.Status),
		SagaStatus:      domain.SagaStatus(m.SagaStatus),
		FailureReason:   m.FailureReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	for i := range m.Items {
		item := &m.Items[i]
		order.Items = append(order.Items, &domain.Item{
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Qty:         item.Qty,
			FlashSaleID: item.FlashSaleID,
			Reservation: domain.LineStatus(item.Reservation),
		})
	}
	return order
}

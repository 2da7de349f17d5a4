package gormstore

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/bookbarn/checkout/internal/domain/order"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Open connects to MySQL with error translation enabled so duplicate-key
// violations surface as gorm.ErrDuplicatedKey, and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	if err := db.AutoMigrate(&orderRow{}, &lineItemRow{}, &idempotencyRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return db, nil
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert writes the order and all of its line items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	row := toRow(order)
	err := r.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var row orderRow
	err := r.db.WithContext(ctx).Preload("Items").First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("order repository: get: %w", err)
	}
	return fromRow(&row), nil
}

// Update persists a status transition. Line items never change after
// insert, so only the order row is touched.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	res := r.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":         string(order.Status),
			"failure_reason": order.FailureReason,
			"updated_at":     order.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("order repository: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toRow(order *domain.Order) orderRow {
	items := make([]lineItemRow, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, lineItemRow{
			OrderID:   order.ID,
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return orderRow{
		ID:             order.ID,
		UserID:         order.UserID,
		Total:          order.Total,
		Currency:       order.Currency,
		Status:         string(order.Status),
		FailureReason:  order.FailureReason,
		IdempotencyKey: order.IdempotencyKey,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		Items:          items,
	}
}

func fromRow(row *orderRow) *domain.Order {
	items := make([]domain.LineItem, 0, len(row.Items))
	for _, it := range row.Items {
		items = append(items, domain.LineItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return &domain.Order{
		ID:             row.ID,
		UserID:         row.UserID,
		Items:          items,
		Total:          row.Total,
		Currency:       row.Currency,
		Status:         domain.Status(row.Status),
		FailureReason:  row.FailureReason,
		IdempotencyKey: row.IdempotencyKey,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

var _ domain.Repository = (*OrderRepository)(nil)

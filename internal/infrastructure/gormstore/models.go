package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID             string          `gorm:"type:varchar(36);primaryKey"`
	UserID         string          `gorm:"type:varchar(64);not null;index"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	Status         string          `gorm:"type:varchar(16);not null"`
	FailureReason  string          `gorm:"type:varchar(255)"`
	IdempotencyKey string          `gorm:"type:varchar(128)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Items []lineItemRow `gorm:"foreignKey:OrderID;references:ID"`
}

func (orderRow) TableName() string { return "orders" }

type lineItemRow struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	OrderID   string          `gorm:"type:varchar(36);not null;index"`
	BookID    string          `gorm:"type:varchar(64);not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	LineTotal decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (lineItemRow) TableName() string { return "order_line_items" }

// idempotencyRow is write-once: the unique primary key turns the reserve
// step into a single atomic insert, so a concurrent duplicate surfaces as a
// duplicate-key error instead of a lost race.
type idempotencyRow struct {
	Key         string `gorm:"column:idempotency_key;type:varchar(128);primaryKey"`
	OrderID     string `gorm:"type:varchar(36);not null"`
	Fingerprint string `gorm:"type:varchar(64);not null"`
	CreatedAt   time.Time
}

func (idempotencyRow) TableName() string { return "idempotency_records" }

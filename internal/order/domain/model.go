package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID                       snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID                   *snowflake.ID   `json:"user_id,omitempty" gorm:"index"`
	DiscountID               *snowflake.ID   `json:"discount_id,omitempty" gorm:"index"`
	Subtotal                 decimal.Decimal `json:"subtotal" gorm:"type:numeric(18,2);not null"`
	DiscountAmount           decimal.Decimal `json:"discount_amount" gorm:"type:numeric(18,2);not null"`
	ShippingCost             decimal.Decimal `json:"shipping_cost" gorm:"type:numeric(18,2);not null"`
	Total                    decimal.Decimal `json:"total" gorm:"type:numeric(18,2);not null"`
	Currency                 string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status                   OrderStatus     `json:"status" gorm:"type:varchar(32);not null;index"`
	EstimatedMaxShippingDays int             `json:"estimated_max_shipping_days" gorm:"not null;default:0"`
	CancellationReason       *string         `json:"cancellation_reason,omitempty" gorm:"type:text"`
	Version                  int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt                time.Time       `json:"created_at" gorm:"not null;index"`
	UpdatedAt                time.Time       `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID    `json:"order_id" gorm:"not null;index"`
	VariantID snowflake.ID    `json:"variant_id" gorm:"not null"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	Category  string          `json:"category,omitempty" gorm:"type:text;not null;default:''"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,2);not null"`
}

func (OrderItem) TableName() string { return "order_items" }

const (
	ShippingClassSameDay = "same_day"
	ShippingClassRegular = "regular"
)

// ShippingClass classifies an order by its estimated delivery window.
func (o Order) ShippingClass() string {
	if o.EstimatedMaxShippingDays == 0 {
		return ShippingClassSameDay
	}
	return ShippingClassRegular
}

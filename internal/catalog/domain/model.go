package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Slug      string       `json:"slug" gorm:"type:varchar(191);not null;default:''"`
	Category  string       `json:"category" gorm:"type:text;not null;default:''"`
	Active    bool         `json:"active" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

type ProductVariant struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	ProductID snowflake.ID    `json:"product_id" gorm:"not null;index"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	SKU       string          `json:"sku" gorm:"type:varchar(64);not null;uniqueIndex"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(18,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (ProductVariant) TableName() string { return "product_variants" }

// Variant is a purchasable variant joined with its product.
type Variant struct {
	ID          snowflake.ID    `json:"id"`
	ProductID   snowflake.ID    `json:"product_id"`
	ProductName string          `json:"product_name"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Slug        string          `json:"slug"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
}

// DisplayName is the line item name shown on the invoice.
func (v Variant) DisplayName() string {
	if v.Name == "" || v.Name == v.ProductName {
		return v.ProductName
	}
	return v.ProductName + " - " + v.Name
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypeFixed      DiscountType = "fixed"
	DiscountTypePercentage DiscountType = "percentage"
)

func (t DiscountType) Valid() bool {
	return t == DiscountTypeFixed || t == DiscountTypePercentage
}

type Discount struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code       string          `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	Type       DiscountType    `json:"type" gorm:"type:varchar(16);not null"`
	Value      decimal.Decimal `json:"value" gorm:"type:numeric(18,2);not null"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty"`
	UsageLimit *int            `json:"usage_limit,omitempty"`
	UsedCount  int             `json:"used_count" gorm:"not null;default:0"`
	IsActive   bool            `json:"is_active" gorm:"not null;index"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"not null"`
}

func (Discount) TableName() string { return "discounts" }

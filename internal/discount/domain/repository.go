package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, discount *Discount) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Discount, error)
	// ListDeactivationCandidates returns active discounts past their end date
	// or usage limit, in id order after afterID.
	ListDeactivationCandidates(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]Discount, error)
	// Deactivate clears is_active; false means it was already inactive.
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Redeem increments used_count only while the discount is redeemable at now.
	Redeem(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)
}

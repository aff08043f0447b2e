package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindVariants(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Variant, error)
}

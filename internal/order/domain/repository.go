package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StaleFilter selects reconciliation candidates page by page in id order.
type StaleFilter struct {
	Statuses      []OrderStatus
	CreatedBefore time.Time
	AfterID       snowflake.ID
	Limit         int
}

// StatusUpdate moves an order between statuses under a version check.
type StatusUpdate struct {
	ID                 snowflake.ID
	Version            int64
	From               OrderStatus
	To                 OrderStatus
	CancellationReason *string
	Now                time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderItem, error)
	ListStale(ctx context.Context, db *gorm.DB, filter StaleFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) error
}

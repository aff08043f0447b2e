package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	customerdomain "github.com/smallbiznis/storefront/internal/customer/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"gorm.io/gorm"
)

const (
	DemoDiscountCode  = "WELCOME10"
	DemoCustomerEmail = "demo@storefront.local"
)

type demoVariant struct {
	Name  string
	SKU   string
	Price int64
}

type demoProduct struct {
	Name     string
	Category string
	Variants []demoVariant
}

var demoCatalog = []demoProduct{
	{
		Name:     "Kemeja Linen",
		Category: "Pakaian",
		Variants: []demoVariant{
			{Name: "M", SKU: "KL-M", Price: 189000},
			{Name: "L", SKU: "KL-L", Price: 199000},
		},
	},
	{
		Name:     "Tas Kanvas",
		Category: "Aksesoris",
		Variants: []demoVariant{
			{Name: "Tas Kanvas", SKU: "TK-STD", Price: 125000},
		},
	},
}

// EnsureDemoData seeds a small catalog, a percentage discount and one
// customer for local development. Existing rows are left untouched.
func EnsureDemoData(ctx context.Context, db *gorm.DB, node *snowflake.Node, customers customerdomain.Service, now time.Time) error {
	if db == nil || node == nil {
		return errors.New("seed database handle and id generator are required")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, product := range demoCatalog {
			if err := ensureProductTx(ctx, tx, node, product, now); err != nil {
				return err
			}
		}
		return ensureDiscountTx(ctx, tx, node, now)
	})
	if err != nil {
		return err
	}

	if customers == nil {
		return nil
	}
	_, err = customers.Register(ctx, customerdomain.RegisterRequest{
		Name:       "Pelanggan Demo",
		Email:      DemoCustomerEmail,
		Phone:      "+628120000000",
		Address:    "Jl. Merdeka No. 1, Jakarta",
		PostalCode: "10110",
	})
	if errors.Is(err, customerdomain.ErrEmailTaken) {
		return nil
	}
	return err
}

func ensureProductTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, demo demoProduct, now time.Time) error {
	productSlug := slug.Make(demo.Name)

	var product catalogdomain.Product
	err := tx.WithContext(ctx).Where("slug = ?", productSlug).First(&product).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		product = catalogdomain.Product{
			ID:        node.Generate(),
			Name:      demo.Name,
			Slug:      productSlug,
			Category:  demo.Category,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
			return err
		}
	}

	for _, v := range demo.Variants {
		var existing catalogdomain.ProductVariant
		err := tx.WithContext(ctx).Where("sku = ?", v.SKU).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		variant := catalogdomain.ProductVariant{
			ID:        node.Generate(),
			ProductID: product.ID,
			Name:      v.Name,
			SKU:       v.SKU,
			Price:     decimal.NewFromInt(v.Price),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&variant).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureDiscountTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) error {
	var discount discountdomain.Discount
	err := tx.WithContext(ctx).Where("code = ?", DemoDiscountCode).First(&discount).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	limit := 100
	end := now.AddDate(0, 3, 0)
	discount = discountdomain.Discount{
		ID:         node.Generate(),
		Code:       DemoDiscountCode,
		Type:       discountdomain.DiscountTypePercentage,
		Value:      decimal.NewFromInt(10),
		StartDate:  &now,
		EndDate:    &end,
		UsageLimit: &limit,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return tx.WithContext(ctx).Create(&discount).Error
}

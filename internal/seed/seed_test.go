package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	customerdomain "github.com/smallbiznis/storefront/internal/customer/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCustomers struct {
	registered map[string]bool
	calls      int
}

func (f *fakeCustomers) Profile(context.Context, snowflake.ID) (*customerdomain.Profile, error) {
	return nil, customerdomain.ErrNotFound
}

func (f *fakeCustomers) Register(_ context.Context, req customerdomain.RegisterRequest) (*customerdomain.Profile, error) {
	f.calls++
	if f.registered[req.Email] {
		return nil, customerdomain.ErrEmailTaken
	}
	f.registered[req.Email] = true
	return &customerdomain.Profile{}, nil
}

func TestEnsureDemoDataIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t, &catalogdomain.Product{}, &catalogdomain.ProductVariant{}, &discountdomain.Discount{})
	node := testutil.NewNode(t)
	customers := &fakeCustomers{registered: map[string]bool{}}
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, EnsureDemoData(context.Background(), db, node, customers, now))
	require.NoError(t, EnsureDemoData(context.Background(), db, node, customers, now.Add(time.Hour)))

	var products, variants, discounts int64
	require.NoError(t, db.Model(&catalogdomain.Product{}).Count(&products).Error)
	require.NoError(t, db.Model(&catalogdomain.ProductVariant{}).Count(&variants).Error)
	require.NoError(t, db.Model(&discountdomain.Discount{}).Count(&discounts).Error)
	assert.EqualValues(t, 2, products)
	assert.EqualValues(t, 3, variants)
	assert.EqualValues(t, 1, discounts)

	var discount discountdomain.Discount
	require.NoError(t, db.Where("code = ?", DemoDiscountCode).First(&discount).Error)
	assert.Equal(t, discountdomain.DiscountTypePercentage, discount.Type)
	require.NotNil(t, discount.UsageLimit)
	assert.Equal(t, 100, *discount.UsageLimit)
	assert.Equal(t, now.UTC(), discount.CreatedAt.UTC())

	var product catalogdomain.Product
	require.NoError(t, db.Where("slug = ?", "kemeja-linen").First(&product).Error)
	assert.True(t, product.Active)

	assert.Equal(t, 2, customers.calls)
	assert.True(t, customers.registered[DemoCustomerEmail])
}

func TestEnsureDemoDataWithoutCustomers(t *testing.T) {
	db := testutil.NewDB(t, &catalogdomain.Product{}, &catalogdomain.ProductVariant{}, &discountdomain.Discount{})

	require.NoError(t, EnsureDemoData(context.Background(), db, testutil.NewNode(t), nil, time.Now()))
}

func TestEnsureDemoDataRequiresHandles(t *testing.T) {
	assert.Error(t, EnsureDemoData(context.Background(), nil, nil, nil, time.Now()))
}

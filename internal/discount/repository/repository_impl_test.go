package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertKeepsInactiveFlag(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t, &domain.Discount{})
	node := testutil.NewNode(t)
	repo := Provide()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	for _, d := range []domain.Discount{
		{ID: node.Generate(), Code: "PAUSED", IsActive: false},
		{ID: node.Generate(), Code: "LIVE", IsActive: true},
	} {
		d.Type = domain.DiscountTypeFixed
		d.Value = decimal.NewFromInt(5000)
		d.CreatedAt = now
		d.UpdatedAt = now
		require.NoError(t, repo.Insert(ctx, db, &d))
	}

	paused, err := repo.FindByCode(ctx, db, "PAUSED")
	require.NoError(t, err)
	require.NotNil(t, paused)
	assert.False(t, paused.IsActive)

	live, err := repo.FindByCode(ctx, db, "LIVE")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.True(t, live.IsActive)

	ok, err := repo.Redeem(ctx, db, "PAUSED", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Redeem(ctx, db, "LIVE", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/discount/repository"
	"github.com/smallbiznis/storefront/internal/events"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
	hub   *events.Hub
	logs  *observer.ObservedLogs
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t, &domain.Discount{})
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC))
	core, logs := observer.New(zap.InfoLevel)
	hub := events.NewHub()

	cfg := config.DefaultReconcileConfig()
	cfg.BatchSize = 2

	svc := New(Params{
		DB:        db,
		Log:       zap.New(core),
		Clock:     fake,
		Repo:      repository.Provide(),
		Reconcile: config.NewStaticReconcileConfigHolder(cfg),
		Publisher: hub,
	})
	return &fixture{db: db, svc: svc, clock: fake, hub: hub, logs: logs, node: testutil.NewNode(t)}
}

func (f *fixture) insert(t *testing.T, d domain.Discount) domain.Discount {
	t.Helper()
	d.ID = f.node.Generate()
	if d.Type == "" {
		d.Type = domain.DiscountTypeFixed
	}
	if d.Value.IsZero() {
		d.Value = decimal.NewFromInt(10000)
	}
	d.CreatedAt = f.clock.Now().Add(-30 * 24 * time.Hour)
	d.UpdatedAt = d.CreatedAt
	require.NoError(t, f.db.Create(&d).Error)
	return d
}

func (f *fixture) active(t *testing.T, id snowflake.ID) bool {
	t.Helper()
	var d domain.Discount
	require.NoError(t, f.db.First(&d, "id = ?", id).Error)
	return d.IsActive
}

func TestDeactivateExpiredByDate(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	yesterday := now.Add(-24 * time.Hour)

	d1 := f.insert(t, domain.Discount{Code: "D1", IsActive: true, StartDate: testutil.Ptr(now.Add(-10 * 24 * time.Hour)), EndDate: &yesterday})

	result, err := f.svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deactivated)
	assert.False(t, f.active(t, d1.ID))

	entries := f.logs.FilterMessage("discount.deactivated").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "date_expired", entries[0].ContextMap()["reason"])
	assert.Equal(t, "D1", entries[0].ContextMap()["code"])
}

func TestDeactivateExpiredIndependentConditions(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	tomorrow := now.Add(24 * time.Hour)

	exhausted := f.insert(t, domain.Discount{Code: "FULL", IsActive: true, UsageLimit: testutil.Ptr(5), UsedCount: 5})
	undated := f.insert(t, domain.Discount{Code: "FOREVER", IsActive: true, UsedCount: 1000})
	running := f.insert(t, domain.Discount{Code: "RUNNING", IsActive: true, EndDate: &tomorrow, UsageLimit: testutil.Ptr(5), UsedCount: 4})
	endOnly := f.insert(t, domain.Discount{Code: "ENDONLY", IsActive: true, EndDate: testutil.Ptr(now.Add(-time.Minute))})
	both := f.insert(t, domain.Discount{Code: "BOTH", IsActive: true, EndDate: testutil.Ptr(now.Add(-time.Hour)), UsageLimit: testutil.Ptr(1), UsedCount: 1})

	result, err := f.svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Deactivated)

	assert.False(t, f.active(t, exhausted.ID))
	assert.True(t, f.active(t, undated.ID))
	assert.True(t, f.active(t, running.ID))
	assert.False(t, f.active(t, endOnly.ID))
	assert.False(t, f.active(t, both.ID))

	var reason any
	for _, entry := range f.logs.FilterMessage("discount.deactivated").All() {
		if entry.ContextMap()["code"] == "BOTH" {
			reason = entry.ContextMap()["reason"]
		}
	}
	assert.Equal(t, "date_expired,usage_exhausted", reason)

	_, backlog, err := f.hub.Subscribe()
	require.NoError(t, err)
	assert.Len(t, backlog, 3)
}

func TestDeactivateExpiredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	yesterday := f.clock.Now().Add(-24 * time.Hour)
	for _, code := range []string{"A", "B", "C", "D", "E"} {
		f.insert(t, domain.Discount{Code: code, IsActive: true, EndDate: &yesterday})
	}

	first, err := f.svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.Deactivated)

	second, err := f.svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Result{}, second)
	assert.Len(t, f.logs.FilterMessage("discount.deactivated").All(), 5)
}

func TestRedeemEnforcesLimitAndWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	f.insert(t, domain.Discount{Code: "ONCE", IsActive: true, UsageLimit: testutil.Ptr(1)})
	f.insert(t, domain.Discount{Code: "LATER", IsActive: true, StartDate: testutil.Ptr(now.Add(time.Hour))})
	f.insert(t, domain.Discount{Code: "OFF", IsActive: false})

	got, err := f.svc.Redeem(ctx, f.db, "ONCE", now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)

	_, err = f.svc.Redeem(ctx, f.db, "ONCE", now)
	assert.ErrorIs(t, err, domain.ErrDiscountUnavailable)

	_, err = f.svc.Redeem(ctx, f.db, "LATER", now)
	assert.ErrorIs(t, err, domain.ErrDiscountUnavailable)

	_, err = f.svc.Redeem(ctx, f.db, "OFF", now)
	assert.ErrorIs(t, err, domain.ErrDiscountUnavailable)

	_, err = f.svc.Redeem(ctx, f.db, "MISSING", now)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Redeem(ctx, f.db, "  ", now)
	assert.ErrorIs(t, err, domain.ErrInvalidCode)
}

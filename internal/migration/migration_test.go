package migration

import (
	"io"
	"testing"

	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAutoMigratesOutsidePostgres(t *testing.T) {
	conn := testutil.NewDB(t)

	require.NoError(t, Apply(conn, "sqlite"))

	for _, table := range []string{
		"users", "products", "product_variants", "discounts",
		"orders", "order_items", "payments", "refunds", "payment_events",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("payment_events", "ux_payment_events_provider_event"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	up, _, err := src.ReadUp(version)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS payment_events")

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	require.NoError(t, down.Close())
	require.NoError(t, up.Close())
}

func TestApplyRequiresConnection(t *testing.T) {
	assert.Error(t, Apply(nil, "sqlite"))
}

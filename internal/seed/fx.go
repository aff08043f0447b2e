package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	customerdomain "github.com/smallbiznis/storefront/internal/customer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Config    config.Config
	Clock     clock.Clock
	GenID     *snowflake.Node
	Customers customerdomain.Service
	Log       *zap.Logger
}

// Module seeds demo data when SEED_DEMO_DATA is set outside production.
// It must come after the migration module.
var Module = fx.Module("seed",
	fx.Invoke(func(p Params) error {
		if !p.Config.SeedDemoData || p.Config.IsProduction() {
			return nil
		}
		if err := EnsureDemoData(context.Background(), p.DB, p.GenID, p.Customers, p.Clock.Now()); err != nil {
			return err
		}
		p.Log.Named("seed").Info("demo data ready", zap.String("discount_code", DemoDiscountCode))
		return nil
	}),
)

package gateway

import (
	"net/http"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/gateway/xendit"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config  config.GatewayConfig
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func New(p Params) domain.Gateway {
	if !p.Config.Enabled() {
		p.Log.Named("gateway").Warn("gateway secret key not set, using no-op gateway")
		return NoopGateway{}
	}
	return xendit.New(xendit.Params{
		Config:     p.Config,
		Log:        p.Log,
		Metrics:    p.Metrics,
		HTTPClient: &http.Client{},
	})
}

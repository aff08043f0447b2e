package payment

import (
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/xendit"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(gw config.GatewayConfig) *adapters.Registry {
		return adapters.NewRegistry(gw, xendit.NewFactory())
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(paymentservice.NewRefundService),
	fx.Provide(webhook.NewService),
)

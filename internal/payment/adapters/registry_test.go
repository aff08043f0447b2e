package adapters_test

import (
	"testing"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/xendit"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuildsAdaptersFromGatewayConfig(t *testing.T) {
	registry := adapters.NewRegistry(config.GatewayConfig{CallbackToken: " cb_secret "}, xendit.NewFactory(), nil)

	adapter, err := registry.Adapter(" XENDIT ")
	require.NoError(t, err)
	assert.NotNil(t, adapter)
	assert.Equal(t, []string{xendit.Provider}, registry.Providers())

	_, err = registry.Adapter("stripe")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestRegistryReportsMissingCallbackToken(t *testing.T) {
	registry := adapters.NewRegistry(config.GatewayConfig{}, xendit.NewFactory())

	_, err := registry.Adapter(xendit.Provider)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
	assert.Empty(t, registry.Providers())
}

package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/domain"
)

// Registry holds the callback adapters built from the gateway settings at
// startup. A provider whose adapter could not be built stays listed with
// its construction error, so its callbacks fail loudly instead of 404ing.
type Registry struct {
	adapters map[string]domain.PaymentAdapter
	broken   map[string]error
}

// NewRegistry builds one adapter per factory using the storefront's gateway
// credentials.
func NewRegistry(gw config.GatewayConfig, factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		adapters: map[string]domain.PaymentAdapter{},
		broken:   map[string]error{},
	}
	cfg := domain.AdapterConfig{CallbackToken: strings.TrimSpace(gw.CallbackToken)}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := providerKey(factory.Provider())
		if provider == "" {
			continue
		}
		adapter, err := factory.NewAdapter(cfg)
		if err != nil {
			r.broken[provider] = err
			continue
		}
		r.adapters[provider] = adapter
	}
	return r
}

// Adapter returns the callback adapter for provider. Unknown providers
// yield ErrProviderNotFound.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	key := providerKey(provider)
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}
	if err, ok := r.broken[key]; ok {
		return nil, err
	}
	return nil, domain.ErrProviderNotFound
}

// Providers lists the providers that can accept callbacks.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.adapters))
	for provider := range r.adapters {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out
}

func providerKey(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

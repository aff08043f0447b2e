package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/zap"
)

const keyCheckoutCustomer = "storefront:ratelimit:checkout:%s"

// CheckoutLimiter throttles order placement per customer. A nil limiter or
// one built without Redis allows everything.
type CheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewCheckoutLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *CheckoutLimiter {
	if client == nil || cfg.CheckoutRate <= 0 || cfg.CheckoutBurst <= 0 {
		log.Named("ratelimit").Info("checkout rate limit disabled")
		return nil
	}
	return &CheckoutLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.CheckoutRate,
		burst:  cfg.CheckoutBurst,
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CheckoutLimiter) Allow(ctx context.Context, customerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCheckoutCustomer, strings.TrimSpace(customerID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

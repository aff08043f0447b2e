package authorization

import (
	"context"
	"fmt"
	"testing"

	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func hashFor(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newService(t *testing.T, rawKeys string) Service {
	t.Helper()
	db := testutil.NewDB(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	ring, err := ParseKeys(rawKeys)
	require.NoError(t, err)
	svc, err := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Keys: ring})
	require.NoError(t, err)
	return svc
}

func TestCheckFollowsRoles(t *testing.T) {
	raw := fmt.Sprintf("ops|operator|%s,boss|admin|%s", hashFor(t, "ops-secret"), hashFor(t, "boss-secret"))
	svc := newService(t, raw)
	ctx := context.Background()

	ops, ok := svc.Authenticate("ops:ops-secret")
	require.True(t, ok)
	assert.Equal(t, RoleOperator, ops.Role)

	d := svc.Check(ctx, ops.Subject(), ObjectJob, ActionJobRun)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)

	d = svc.Check(ctx, ops.Subject(), ObjectRefund, ActionRefundApprove)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoPolicy, d.Reason)

	boss, ok := svc.Authenticate("boss:boss-secret")
	require.True(t, ok)
	assert.True(t, svc.Check(ctx, boss.Subject(), ObjectRefund, ActionRefundApprove).Allowed)

	d = svc.Check(ctx, "", ObjectRefund, ActionRefundApprove)
	assert.Equal(t, Decision{Reason: ReasonInvalidRequest}, d)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newService(t, "ops|operator|"+hashFor(t, "ops-secret"))

	for _, token := range []string{"", "ops", "ops:", "ops:wrong", "ghost:ops-secret"} {
		_, ok := svc.Authenticate(token)
		assert.False(t, ok, token)
	}
}

func TestParseKeysValidates(t *testing.T) {
	hash := hashFor(t, "s")

	ring, err := ParseKeys("")
	require.NoError(t, err)
	assert.Empty(t, ring.Keys())

	_, err = ParseKeys("ops|operator")
	assert.ErrorIs(t, err, ErrInvalidKeyConfig)

	_, err = ParseKeys("ops|root|" + hash)
	assert.ErrorIs(t, err, ErrInvalidKeyConfig)

	_, err = ParseKeys("ops|admin|plaintext")
	assert.ErrorIs(t, err, ErrInvalidKeyConfig)

	_, err = ParseKeys("ops|admin|" + hash + ",ops|viewer|" + hash)
	assert.ErrorIs(t, err, ErrInvalidKeyConfig)
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	db := testutil.NewDB(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	hash := hashFor(t, "s")

	first, err := ParseKeys("ops|admin|" + hash)
	require.NoError(t, err)
	_, err = NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Keys: first})
	require.NoError(t, err)

	second, err := ParseKeys("ops|viewer|" + hash)
	require.NoError(t, err)
	svc, err := NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, Keys: second})
	require.NoError(t, err)

	assert.False(t, svc.Check(context.Background(), "key:ops", ObjectRefund, ActionRefundApprove).Allowed)
	assert.True(t, svc.Check(context.Background(), "key:ops", ObjectEventStream, ActionEventStreamView).Allowed)
}

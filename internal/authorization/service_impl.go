package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder       = "order"
	ObjectRefund      = "refund"
	ObjectJob         = "job"
	ObjectEventStream = "event_stream"
)

const (
	ActionOrderTransition = "order.transition"
	ActionOrderView       = "order.view"

	ActionRefundApprove = "refund.approve"
	ActionRefundReject  = "refund.reject"

	ActionJobRun = "job.run"

	ActionEventStreamView = "event_stream.view"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Decision reasons.
const (
	ReasonAllowed        = "allowed"
	ReasonInvalidRequest = "invalid_request"
	ReasonNoPolicy       = "no_matching_policy"
	ReasonEnforcerError  = "enforcer_error"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

type Service interface {
	Check(ctx context.Context, subject, object, action string) Decision
	// Authenticate resolves an admin API key to the subject used in Check.
	Authenticate(token string) (Key, bool)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Keys     *KeyRing
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	keys     *KeyRing
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) (Service, error) {
	s := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		keys:     p.Keys,
	}
	for _, key := range p.Keys.Keys() {
		if err := s.ensureGrouping(key.Subject(), roleSubject(key.Role)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ServiceImpl) Authenticate(token string) (Key, bool) {
	return s.keys.Authenticate(token)
}

func (s *ServiceImpl) Check(ctx context.Context, subject, object, action string) Decision {
	subject = strings.TrimSpace(subject)
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	if subject == "" || object == "" || action == "" {
		return Decision{Reason: ReasonInvalidRequest}
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("subject", subject),
		zap.String("object", object),
		zap.String("action", action),
	)
	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		log.Error("authorization check failed", zap.Error(err))
		return Decision{Reason: ReasonEnforcerError}
	}
	if !allowed {
		log.Warn("authorization.denied")
		return Decision{Reason: ReasonNoPolicy}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// ensureGrouping binds subject to exactly one role.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func roleSubject(role string) string {
	return "role:" + strings.ToLower(strings.TrimSpace(role))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:viewer", ObjectOrder, ActionOrderView},
		{"role:viewer", ObjectEventStream, ActionEventStreamView},

		{"role:operator", ObjectOrder, ActionOrderView},
		{"role:operator", ObjectOrder, ActionOrderTransition},
		{"role:operator", ObjectJob, ActionJobRun},
		{"role:operator", ObjectEventStream, ActionEventStreamView},

		{"role:admin", ObjectOrder, ActionOrderView},
		{"role:admin", ObjectOrder, ActionOrderTransition},
		{"role:admin", ObjectRefund, ActionRefundApprove},
		{"role:admin", ObjectRefund, ActionRefundReject},
		{"role:admin", ObjectJob, ActionJobRun},
		{"role:admin", ObjectEventStream, ActionEventStreamView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

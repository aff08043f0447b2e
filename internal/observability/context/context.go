package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type jobKey struct{}

type actor struct {
	kind string
	id   string
}

// Actor types recorded on transitions and logs.
const (
	ActorSystem  = "system"
	ActorAdmin   = "admin"
	ActorGateway = "gateway"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

// ActorFromContext returns the actor type and id, defaulting to the system actor.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return ActorSystem, ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok || value.kind == "" {
		return ActorSystem, ""
	}
	return value.kind, value.id
}

func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey{}, strings.TrimSpace(job))
}

func JobFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(jobKey{}).(string)
	return value
}

package events

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(NewHub),
	fx.Provide(NewPublisher),
)

type Params struct {
	fx.In

	Hub   *Hub
	Redis *redis.Client `optional:"true"`
}

// NewPublisher fans out to the in-process hub and, when Redis is configured,
// to the shared event stream.
func NewPublisher(p Params) Publisher {
	publishers := Multi{p.Hub}
	if p.Redis != nil {
		publishers = append(publishers, NewRedisStream(p.Redis, DefaultStream))
	}
	return publishers
}

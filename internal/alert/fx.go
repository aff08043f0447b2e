package alert

import (
	"strings"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("alert",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) Notifier {
	url := strings.TrimSpace(cfg.SlackWebhookURL)
	if url == "" {
		return NoOpNotifier{}
	}
	return NewSlackNotifier(url, nil, log)
}

package notifications

import (
	"context"

	"autopromo/internal/core/domain"

	"go.uber.org/zap"
)

// LogGateway writes notifications to the structured log. It is the default
// gateway; real channel integrations (email, chat, pager) plug in behind
// the same port.
type LogGateway struct {
	logger *zap.SugaredLogger
}

func NewLogGateway(logger *zap.SugaredLogger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, n domain.Notification) error {
	g.logger.Infow("notification",
		"recipient", n.Recipient,
		"severity", n.Severity,
		"title", n.Title,
		"message", n.Message,
		"metadata", n.Metadata,
	)
	return nil
}

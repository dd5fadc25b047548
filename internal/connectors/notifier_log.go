package connectors

import (
	"context"

	"github.com/xela07ax/perfwatch/internal/domain"

	"go.uber.org/zap"
)

// LogNotifier — заглушка шлюза: только пишет уведомление в лог.
// Используется, когда адрес шлюза не задан (локальный запуск, dry-run).
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, msg domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("notification (log only)",
		zap.Strings("roles", msg.RecipientRoles),
		zap.Strings("recipients", msg.RecipientIDs),
		zap.String("subject", msg.Subject),
	)
	return nil
}

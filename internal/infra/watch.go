package infra

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WatchEngine следит за файлом конфига и отдает новую секцию engine в onChange.
// Невалидная правка логируется и игнорируется: продолжают действовать прежние значения.
func WatchEngine(v *viper.Viper, logger *zap.Logger, onChange func(EngineConfig)) {
	if v.ConfigFileUsed() == "" {
		logger.Info("config file not used, hot reload disabled")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("config reloaded",
			zap.String("file", e.Name),
			zap.Float64("warning_buffer_percent", cfg.Engine.WarningBufferPercent),
			zap.Int("red_zone_days", cfg.Engine.RedZoneDays),
		)
		onChange(cfg.Engine)
	})
	v.WatchConfig()
}

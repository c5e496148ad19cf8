package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变更：重新 Load 成功后回调 onChange，失败时保留旧配置并记录日志。
func Watch(path string, logger *logrus.Logger, onChange func(*Config)) error {
	if path == "" {
		path = "config.toml"
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.WithError(err).WithField("configPath", path).Warn("config_reload_failed")
			return
		}
		logger.WithFields(logrus.Fields{
			"configPath": path,
			"event":      e.Op.String(),
			"pages":      len(cfg.Pages),
		}).Info("config_reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

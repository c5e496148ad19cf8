package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供页面/缓存状态字段，供调度请求日志复用。
func RequestFields(action, page, mode, cacheState, decision string) logrus.Fields {
	return logrus.Fields{
		"page_action": action,
		"page":        page,
		"cache_mode":  mode,
		"cache_state": cacheState,
		"decision":    decision,
	}
}

// CacheFields 提供缓存目录与时长字段，启动与重载日志共用。
func CacheFields(dir string, durationSeconds, cleanupSeconds int64, probability int) logrus.Fields {
	return logrus.Fields{
		"cache_dir":           dir,
		"cache_duration_s":    durationSeconds,
		"cleanup_duration_s":  cleanupSeconds,
		"cleanup_probability": probability,
	}
}

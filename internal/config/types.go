package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存模式。
const (
	ModeFull = "full"
	ModeNone = "none"
)

// GlobalConfig 描述全局运行时行为，所有页面共享同一份参数。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	CacheDirectory     string   `mapstructure:"CacheDirectory"`
	CacheDuration      Duration `mapstructure:"CacheDuration"`
	CleanupDuration    Duration `mapstructure:"CleanupDuration"`
	CleanupProbability int      `mapstructure:"CleanupProbability"`
	SingleFlight       bool     `mapstructure:"SingleFlight"`
	WatchConfig        bool     `mapstructure:"WatchConfig"`
	OriginTimeout      Duration `mapstructure:"OriginTimeout"`
	SessionLifetime    Duration `mapstructure:"SessionLifetime"`
}

// PageConfig 把一个 URL action 绑定到已注册页面及其缓存参数。
type PageConfig struct {
	Action string `mapstructure:"Action"`
	Page   string `mapstructure:"Page"`
	// Mode 为 full（整页缓存）或 none（不缓存）。
	Mode string `mapstructure:"Mode"`
	// Key 为空时由请求 URI 推导缓存文件名。
	Key      string   `mapstructure:"Key"`
	Duration Duration `mapstructure:"Duration"`
	// Directory 是相对 CacheDirectory 的子目录。
	Directory string `mapstructure:"Directory"`
	Origin    string `mapstructure:"Origin"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Pages  []PageConfig `mapstructure:"Page"`
}

// CacheEnabled 表示该页面是否启用整页缓存。
func (p PageConfig) CacheEnabled() bool {
	return p.Mode != ModeNone
}

// EffectiveDuration 返回页面生效的缓存时长，未覆盖时回退至全局值。
func (c *Config) EffectiveDuration(p PageConfig) time.Duration {
	if p.Duration.DurationValue() > 0 {
		return p.Duration.DurationValue()
	}
	return c.Global.CacheDuration.DurationValue()
}

// PageDirectory 返回页面缓存目录的绝对路径（Load 之后 CacheDirectory 已是绝对路径）。
func (c *Config) PageDirectory(p PageConfig) string {
	if p.Directory == "" {
		return c.Global.CacheDirectory
	}
	return filepath.Join(c.Global.CacheDirectory, filepath.FromSlash(p.Directory))
}

// Actions 返回所有页面的 action:page 摘要，供日志字段使用。
func Actions(pages []PageConfig) []string {
	if len(pages) == 0 {
		return nil
	}
	result := make([]string, len(pages))
	for i, page := range pages {
		result[i] = fmt.Sprintf("%s:%s", page.Action, page.Page)
	}
	return result
}

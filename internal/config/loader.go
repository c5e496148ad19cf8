package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// globalOnlyKeys 只能出现在全局段，写进 [[Page]] 时直接报错而不是被静默忽略。
var globalOnlyKeys = []string{"CacheDirectory", "CleanupDuration", "CleanupProbability", "SingleFlight", "ListenPort"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectPageLevelGlobals(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Pages {
		applyPageDefaults(&cfg.Pages[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Global.CacheDirectory)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.CacheDirectory = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDirectory", "./storage")
	v.SetDefault("CacheDuration", 86400)
	v.SetDefault("CleanupDuration", 259200)
	v.SetDefault("CleanupProbability", 1)
	v.SetDefault("SingleFlight", false)
	v.SetDefault("WatchConfig", false)
	v.SetDefault("OriginTimeout", "30s")
	v.SetDefault("SessionLifetime", "72h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.CacheDuration.DurationValue() == 0 {
		g.CacheDuration = Duration(24 * time.Hour)
	}
	if g.CleanupDuration.DurationValue() == 0 {
		g.CleanupDuration = Duration(72 * time.Hour)
	}
	if g.OriginTimeout.DurationValue() == 0 {
		g.OriginTimeout = Duration(30 * time.Second)
	}
	if g.SessionLifetime.DurationValue() == 0 {
		g.SessionLifetime = Duration(72 * time.Hour)
	}
}

func applyPageDefaults(p *PageConfig) {
	p.Action = strings.ToLower(strings.Trim(strings.TrimSpace(p.Action), "/"))
	p.Page = strings.ToLower(strings.TrimSpace(p.Page))
	if p.Page == "" {
		p.Page = p.Action
	}
	p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
	if p.Mode == "" {
		p.Mode = ModeFull
	}
	if p.Duration.DurationValue() < 0 {
		p.Duration = Duration(0)
	}
	p.Key = strings.TrimSpace(p.Key)
	p.Directory = strings.Trim(strings.TrimSpace(p.Directory), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func rejectPageLevelGlobals(v *viper.Viper) error {
	raw := v.Get("Page")
	entries, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range globalOnlyKeys {
			if _, exists := lookupFold(m, key); !exists {
				continue
			}
			action := fmt.Sprintf("#%d", idx)
			if rawAction, ok := lookupFold(m, "Action"); ok {
				if s, ok := rawAction.(string); ok && s != "" {
					action = s
				}
			}
			return newFieldError(pageField(action, key), "仅支持全局配置，请移到文件顶部")
		}
	}

	return nil
}

// lookupFold 忽略大小写查找键，viper 读取 TOML 后会把键统一转为小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/any-hub/pagecache/internal/pages"
)

// reservedActionPrefix 保留给诊断端点（/-/pages、/-/metrics）。
const reservedActionPrefix = "-"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.CacheDirectory) == "" {
		return newFieldError("Global.CacheDirectory", "不能为空")
	}
	if g.CacheDuration.DurationValue() <= 0 {
		return newFieldError("Global.CacheDuration", "必须大于 0")
	}
	if g.CleanupDuration.DurationValue() <= 0 {
		return newFieldError("Global.CleanupDuration", "必须大于 0")
	}
	if g.CleanupProbability < 0 || g.CleanupProbability > 100 {
		return newFieldError("Global.CleanupProbability", "必须在 0-100")
	}
	if g.OriginTimeout.DurationValue() <= 0 {
		return newFieldError("Global.OriginTimeout", "必须大于 0")
	}

	if len(c.Pages) == 0 {
		return errors.New("至少需要配置一个 Page")
	}

	seenActions := map[string]struct{}{}
	for i := range c.Pages {
		page := &c.Pages[i]
		if err := validateAction(page.Action); err != nil {
			return fmt.Errorf("%s: %w", pageField(page.Action, "Action"), err)
		}
		if _, exists := seenActions[page.Action]; exists {
			return newFieldError(pageField(page.Action, "Action"), "重复")
		}
		seenActions[page.Action] = struct{}{}

		meta, ok := pages.Resolve(page.Page)
		if !ok {
			return newFieldError(pageField(page.Action, "Page"), fmt.Sprintf("未注册页面: %s", page.Page))
		}

		switch page.Mode {
		case ModeFull, ModeNone:
		default:
			return newFieldError(pageField(page.Action, "Mode"), "仅支持 full/none")
		}

		if page.Key != "" && !filepath.IsLocal(filepath.FromSlash(page.Key)) {
			return newFieldError(pageField(page.Action, "Key"), "必须是缓存目录内的相对路径")
		}
		if page.Directory != "" && !filepath.IsLocal(filepath.FromSlash(page.Directory)) {
			return newFieldError(pageField(page.Action, "Directory"), "必须是 CacheDirectory 下的相对路径")
		}

		if page.Origin != "" {
			if err := validateOrigin(page.Origin); err != nil {
				return fmt.Errorf("%s: %w", pageField(page.Action, "Origin"), err)
			}
		} else if meta.RequiresOrigin {
			return newFieldError(pageField(page.Action, "Origin"), "该页面需要配置源站")
		}
	}

	return nil
}

func validateAction(action string) error {
	if action == "" {
		return errors.New("Action 不能为空")
	}
	if strings.Contains(action, "/") {
		return errors.New("Action 不允许包含路径分隔符")
	}
	if strings.Contains(action, " ") {
		return errors.New("Action 不允许包含空格")
	}
	if strings.HasPrefix(action, reservedActionPrefix) {
		return fmt.Errorf("Action 不能以 %q 开头", reservedActionPrefix)
	}
	return nil
}

func validateOrigin(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

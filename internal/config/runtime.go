package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/any-hub/pagecache/internal/pages"
)

// PageRuntime 将页面配置与页面元数据合并，方便运行时快速取用缓存参数。
type PageRuntime struct {
	Config    PageConfig
	Page      pages.Metadata
	Directory string
	Duration  time.Duration
	OriginURL *url.URL
}

// BuildPageRuntime 根据页面配置和全局配置创建运行时描述（假定 Validate 已经通过）。
func (c *Config) BuildPageRuntime(p PageConfig) (PageRuntime, error) {
	meta, ok := pages.Resolve(p.Page)
	if !ok {
		return PageRuntime{}, fmt.Errorf("page %s not registered", p.Page)
	}
	rt := PageRuntime{
		Config:    p,
		Page:      meta,
		Directory: c.PageDirectory(p),
		Duration:  c.EffectiveDuration(p),
	}
	if p.Origin != "" {
		parsed, err := url.Parse(p.Origin)
		if err != nil {
			return PageRuntime{}, fmt.Errorf("invalid origin for %s: %w", p.Action, err)
		}
		rt.OriginURL = parsed
	}
	return rt, nil
}

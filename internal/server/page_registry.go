package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/pages"
)

// DefaultAction 是根路径 "/" 对应的 action。
const DefaultAction = "index"

// PageRoute 将页面配置与派生属性（缓存目录、生效时长、解析后的 Origin URL）
// 聚合在一起，供调度层直接复用，避免重复解析配置。
type PageRoute struct {
	// Config 是用户在 config.toml 中声明的页面字段副本。
	Config config.PageConfig
	Page   pages.Metadata
	// CacheEnabled 为 false 时调度器直接生成正文。
	CacheEnabled bool
	// CacheDir 是页面缓存目录的绝对路径。
	CacheDir           string
	Duration           time.Duration
	CleanupDuration    time.Duration
	CleanupProbability int
	OriginURL          *url.URL
	ListenPort         int
}

// PageRegistry 提供 action 到 PageRoute 的查询能力，支持配置重载时整体替换。
type PageRegistry struct {
	mu      sync.RWMutex
	routes  map[string]*PageRoute
	ordered []*PageRoute
}

// NewPageRegistry 根据配置构建 action 映射。
func NewPageRegistry(cfg *config.Config) (*PageRegistry, error) {
	routes, ordered, err := buildRoutes(cfg)
	if err != nil {
		return nil, err
	}
	return &PageRegistry{routes: routes, ordered: ordered}, nil
}

// Replace 用新配置整体替换路由；构建失败时保留旧路由。
func (r *PageRegistry) Replace(cfg *config.Config) error {
	routes, ordered, err := buildRoutes(cfg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.routes = routes
	r.ordered = ordered
	r.mu.Unlock()
	return nil
}

// Lookup 根据请求路径查找 PageRoute，使用第一个路径段作为 action。
func (r *PageRegistry) Lookup(path string) (*PageRoute, bool) {
	if r == nil {
		return nil, false
	}
	action, _ := SplitAction(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[action]
	return route, ok
}

// List 返回当前注册的 PageRoute 列表（按配置定义的顺序），用于诊断输出。
func (r *PageRegistry) List() []PageRoute {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ordered) == 0 {
		return nil
	}
	result := make([]PageRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// SplitAction 把路径拆成 action 与剩余路径段；根路径对应 DefaultAction。
func SplitAction(path string) (string, []string) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return DefaultAction, nil
	}
	parts := strings.Split(trimmed, "/")
	rest := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part != "" {
			rest = append(rest, part)
		}
	}
	return strings.ToLower(parts[0]), rest
}

func buildRoutes(cfg *config.Config) (map[string]*PageRoute, []*PageRoute, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}

	routes := make(map[string]*PageRoute, len(cfg.Pages))
	ordered := make([]*PageRoute, 0, len(cfg.Pages))
	for _, page := range cfg.Pages {
		action := strings.ToLower(strings.TrimSpace(page.Action))
		if action == "" {
			return nil, nil, fmt.Errorf("page %s has no action", page.Page)
		}
		if _, exists := routes[action]; exists {
			return nil, nil, fmt.Errorf("duplicate action mapping detected for %s", action)
		}

		runtime, err := cfg.BuildPageRuntime(page)
		if err != nil {
			return nil, nil, fmt.Errorf("action %s: %w", action, err)
		}

		route := &PageRoute{
			Config:             page,
			Page:               runtime.Page,
			CacheEnabled:       page.CacheEnabled(),
			CacheDir:           runtime.Directory,
			Duration:           runtime.Duration,
			CleanupDuration:    cfg.Global.CleanupDuration.DurationValue(),
			CleanupProbability: cfg.Global.CleanupProbability,
			OriginURL:          runtime.OriginURL,
			ListenPort:         cfg.Global.ListenPort,
		}
		routes[action] = route
		ordered = append(ordered, route)
	}
	return routes, ordered, nil
}

package pages

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu    sync.RWMutex
	pages map[string]Metadata
}

func newRegistry() *registry {
	return &registry{pages: make(map[string]Metadata)}
}

// Register 将页面元数据加入全局注册表，重复键或缺少 Render 会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合页面 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的页面元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的页面元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册页面的键值，供诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("page key is required")
	}
	if meta.Render == nil {
		return fmt.Errorf("page %s has no renderer", key)
	}
	meta.Key = key
	if meta.ContentType == "" {
		meta.ContentType = DefaultContentType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pages[key]; exists {
		return fmt.Errorf("page %s already registered", key)
	}
	r.pages[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.pages[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.pages) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.pages))
	for key := range r.pages {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.pages[key])
	}
	return result
}

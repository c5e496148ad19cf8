// Package session 提供基于 cookie 的轻量会话层。它只负责缓存层需要协调的部分：
// 会话是否已启动，以及会话层按缓存限制器（nocache/public/private/
// private_no_expire）在响应结束时写出的 Expires/Cache-Control/Pragma 头。
package session

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Limiter 描述会话层的客户端缓存限制模式。
type Limiter string

const (
	LimiterNoCache         Limiter = "nocache"
	LimiterPublic          Limiter = "public"
	LimiterPrivate         Limiter = "private"
	LimiterPrivateNoExpire Limiter = "private_no_expire"
)

// DefaultCacheExpire 是限制器默认的缓存分钟数。
const DefaultCacheExpire = 180

// pastExpires 用于 nocache/private，保证客户端不会复用响应。
const pastExpires = "Thu, 19 Nov 1981 08:52:00 GMT"

// State 是单个请求看到的会话状态，由 Middleware 注入 fiber.Ctx。
type State struct {
	mu          sync.Mutex
	id          string
	active      bool
	values      map[string]any
	limiter     Limiter
	cacheExpire int
	suppressed  map[string]struct{}
}

// New 创建未启动的会话状态，限制器默认为 nocache。
func New() *State {
	return newState()
}

func newState() *State {
	return &State{
		values:      make(map[string]any),
		limiter:     LimiterNoCache,
		cacheExpire: DefaultCacheExpire,
		suppressed:  make(map[string]struct{}),
	}
}

// Active 表示本次请求已启动会话。nil 安全。
func (s *State) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ID 返回会话 ID，未启动时为空。
func (s *State) ID() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Start 启动会话；已启动时不做任何事。
func (s *State) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.active = true
}

// Get 读取会话值。
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Set 写入会话值，并隐式启动会话。
func (s *State) Set(key string, value any) {
	s.Start()
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// SetCacheLimiter 设置限制器与缓存分钟数，expireMinutes<=0 时保留原值。
func (s *State) SetCacheLimiter(limiter Limiter, expireMinutes int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = limiter
	if expireMinutes > 0 {
		s.cacheExpire = expireMinutes
	}
}

// LimitPublic 供缓存层切换为 public 限制器。
func (s *State) LimitPublic(expireMinutes int) {
	s.SetCacheLimiter(LimiterPublic, expireMinutes)
}

// Suppress 阻止会话层写出指定响应头，通常是缓存层已经接管了这些头。
func (s *State) Suppress(headers ...string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range headers {
		s.suppressed[http.CanonicalHeaderKey(h)] = struct{}{}
	}
}

// CacheLimiter 返回当前限制器及缓存分钟数。
func (s *State) CacheLimiter() (Limiter, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter, s.cacheExpire
}

// Headers 返回会话层在 now 时刻应写出的缓存相关头，已被 Suppress 的头不会出现。
func (s *State) Headers(now time.Time) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxAge := strconv.Itoa(s.cacheExpire * 60)
	out := map[string]string{}
	switch s.limiter {
	case LimiterPublic:
		out["Expires"] = now.UTC().Add(time.Duration(s.cacheExpire) * time.Minute).Format(http.TimeFormat)
		out["Cache-Control"] = "public, max-age=" + maxAge
	case LimiterPrivate:
		out["Expires"] = pastExpires
		out["Cache-Control"] = "private, max-age=" + maxAge
	case LimiterPrivateNoExpire:
		out["Cache-Control"] = "private, max-age=" + maxAge
	case LimiterNoCache:
		out["Expires"] = pastExpires
		out["Cache-Control"] = "no-store, no-cache, must-revalidate"
		out["Pragma"] = "no-cache"
	}
	for key := range out {
		if _, hidden := s.suppressed[key]; hidden {
			delete(out, key)
		}
	}
	return out
}

func (s *State) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]any, len(s.values))
	for k, v := range s.values {
		copied[k] = v
	}
	return copied
}

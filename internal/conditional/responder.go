package conditional

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// Decision 是缓存层交给调度器的响应决定。Serve 与 NotModified 是终态，调度器
// 收到后不得再生成正文。
type Decision int

const (
	// Regenerate 表示需要调度器生成新正文。
	Regenerate Decision = iota
	// Serve 表示已写出 200 与完整正文。
	Serve
	// NotModified 表示已写出 304，无正文。
	NotModified
)

func (d Decision) String() string {
	switch d {
	case Serve:
		return "serve"
	case NotModified:
		return "not-modified"
	default:
		return "regenerate"
	}
}

// Terminal 表示该决定是否结束本次请求的处理。
func (d Decision) Terminal() bool {
	return d != Regenerate
}

// HeaderWriter 是缓存层对出站响应的最小依赖。
type HeaderWriter interface {
	Set(key, value string)
	Del(key string)
	Status(code int)
}

// Session 是会话层暴露给缓存层的控制点。
type Session interface {
	// Active 表示本次请求已启动会话。
	Active() bool
	// Suppress 阻止会话层在响应结束时写出指定头。
	Suppress(headers ...string)
	// LimitPublic 把会话层缓存限制器切换为 public，过期时间单位为分钟。
	LimitPublic(expireMinutes int)
}

const (
	HeaderLastModified = "Last-Modified"
	HeaderExpires      = "Expires"
	HeaderCacheControl = "Cache-Control"
	HeaderPragma       = "Pragma"
	HeaderETag         = "Etag"
)

// Decide 是协商规则的纯函数形式：If-None-Match 命中 etag 时无论其它验证器如何都
// 返回 NotModified；否则条目新鲜且 If-Modified-Since 与 modTime 精确相等时返回
// NotModified；其余情况返回 Serve。来自磁盘与刚生成的正文走同一条规则。
func Decide(fresh bool, modTime time.Time, v Validators, etag string) Decision {
	if v.MatchesETag(etag) {
		return NotModified
	}
	if fresh && v.ModifiedSinceEquals(modTime) {
		return NotModified
	}
	return Serve
}

// Responder 绑定一次请求的协商参数，负责把决定翻译成响应头。
type Responder struct {
	Validators Validators
	Session    Session
	Duration   time.Duration
	Now        time.Time
}

// Announce 写出以 createdAt 为创建时间的缓存指令，并协调会话层：会话已启动时
// 接管 Pragma/Expires/Cache-Control；未启动时把限制器设为 public，过期分钟数
// 为 ceil((createdAt + duration - now) / 60)。
func (r Responder) Announce(w HeaderWriter, createdAt time.Time) {
	created := createdAt.UTC().Truncate(time.Second)
	w.Set(HeaderLastModified, formatHTTPDate(created))
	w.Set(HeaderExpires, formatHTTPDate(created.Add(r.Duration)))
	w.Set(HeaderCacheControl, "max-age="+strconv.FormatInt(int64(r.Duration/time.Second), 10))

	if r.sessionActive() {
		w.Del(HeaderPragma)
		r.Session.Suppress(HeaderPragma, HeaderExpires, HeaderCacheControl)
		return
	}
	if r.Session != nil {
		r.Session.LimitPublic(ExpireMinutes(createdAt, r.Duration, r.Now))
	}
}

// Negotiate 对内容摘要执行 If-None-Match 检查：命中则写出 304，否则写出 Etag 并
// 返回 Serve，由调用方写正文。
func (r Responder) Negotiate(w HeaderWriter, etag string) Decision {
	w.Set(HeaderETag, etag)
	if r.Validators.MatchesETag(etag) {
		r.NotModified(w)
		return NotModified
	}
	return Serve
}

// NotModified 写出 304；会话已启动时去掉会话层会追加到 304 上的 Expires/Cache-Control。
func (r Responder) NotModified(w HeaderWriter) {
	w.Status(http.StatusNotModified)
	if r.sessionActive() {
		w.Del(HeaderExpires)
		w.Del(HeaderCacheControl)
		r.Session.Suppress(HeaderPragma, HeaderExpires, HeaderCacheControl)
	}
}

func (r Responder) sessionActive() bool {
	return r.Session != nil && r.Session.Active()
}

// ExpireMinutes 返回会话层缓存过期分钟数，向上取整且不小于 0。
func ExpireMinutes(createdAt time.Time, duration time.Duration, now time.Time) int {
	remaining := createdAt.Add(duration).Sub(now).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining / 60))
}

func formatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Package conditional 实现条件 GET 协商：解析客户端验证器（If-Modified-Since、
// If-None-Match），决定返回 200 还是 304，并写出 Last-Modified/Expires/
// Cache-Control/Etag 以及与会话层缓存头的协调。
package conditional

import (
	"net/http"
	"strings"
	"time"
)

// Validators 是一次请求中客户端携带的缓存验证器，每个请求只解析一次，之后只读。
type Validators struct {
	ifModifiedSince string
	since           time.Time
	hasSince        bool
	ifNoneMatch     string
}

// NewValidators 从原始请求头构造验证器。
func NewValidators(ifModifiedSince, ifNoneMatch string) Validators {
	v := Validators{
		ifModifiedSince: strings.TrimSpace(ifModifiedSince),
		ifNoneMatch:     strings.TrimSpace(ifNoneMatch),
	}
	v.since, v.hasSince = parseHTTPDate(v.ifModifiedSince)
	return v
}

// IfModifiedSince 返回规范化为 GMT 绝对时刻的 If-Modified-Since。
func (v Validators) IfModifiedSince() (time.Time, bool) {
	return v.since, v.hasSince
}

// IfNoneMatch 返回原始 If-None-Match 值。
func (v Validators) IfNoneMatch() string {
	return v.ifNoneMatch
}

// Empty 表示请求未携带任何验证器。
func (v Validators) Empty() bool {
	return v.ifModifiedSince == "" && v.ifNoneMatch == ""
}

// MatchesETag 判断 If-None-Match 是否命中 etag。接受裸值、带引号及 W/ 弱校验形式，
// 以及逗号分隔的列表。
func (v Validators) MatchesETag(etag string) bool {
	if etag == "" || v.ifNoneMatch == "" {
		return false
	}
	if v.ifNoneMatch == etag {
		return true
	}
	for _, candidate := range strings.Split(v.ifNoneMatch, ",") {
		if normalizeETag(candidate) == etag {
			return true
		}
	}
	return false
}

// ModifiedSinceEquals 判断 If-Modified-Since 是否与 modTime 精确相等（秒级）。
func (v Validators) ModifiedSinceEquals(modTime time.Time) bool {
	if !v.hasSince {
		return false
	}
	return v.since.Equal(modTime.UTC().Truncate(time.Second))
}

func normalizeETag(raw string) string {
	tag := strings.TrimSpace(raw)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// parseHTTPDate 解析 HTTP 日期；缺少时区时按 GMT 处理。
func parseHTTPDate(raw string) (time.Time, bool) {
	// 旧版浏览器会附带 "; length=N"。
	if idx := strings.Index(raw, ";"); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := http.ParseTime(raw); err == nil {
		return t.UTC(), true
	}
	if !strings.Contains(raw, "GMT") {
		if t, err := http.ParseTime(raw + " GMT"); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

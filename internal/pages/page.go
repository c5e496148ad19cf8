package pages

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/any-hub/pagecache/internal/session"
)

// DefaultContentType 用于未声明 ContentType 的页面。
const DefaultContentType = "text/html; charset=utf-8"

// ErrUpstream 表示页面依赖的上游不可用，调度器据此返回 502。
var ErrUpstream = errors.New("pages: upstream unavailable")

// RenderFunc 把页面正文写入 w。w 可能是缓存截获器，页面不应假设写入会立即到达客户端。
type RenderFunc func(rc *RenderContext, w io.Writer) error

// Metadata 记录一个页面的静态信息，供配置校验、调度与诊断端使用。
type Metadata struct {
	Key         string
	Description string
	ContentType string
	// RequiresOrigin 为 true 时配置必须提供 Origin。
	RequiresOrigin bool
	Render         RenderFunc
}

// FragmentRunner 允许页面缓存局部区域。
type FragmentRunner interface {
	Run(ctx context.Context, w io.Writer, key string, duration time.Duration, fill func(io.Writer) error) error
}

// Upstream 是页面访问源站的入口。
type Upstream interface {
	Fetch(ctx context.Context, path, rawQuery string) (*http.Response, error)
}

// RenderContext 是页面生成时可见的全部请求信息。
type RenderContext struct {
	Context context.Context
	// Action 是 URL 的第一段，对应配置中的 [[Page]].Action。
	Action   string
	Segments []string
	Query    url.Values
	Now      time.Time
	Session  *session.State
	// Fragments 在页面未启用片段缓存时为 nil，页面应直接生成内容。
	Fragments FragmentRunner
	// Upstream 仅在配置了 Origin 时非 nil。
	Upstream Upstream
}

// Fragment 通过 Fragments 缓存 key 对应的区域；未启用片段缓存时直接调用 fill。
func (rc *RenderContext) Fragment(w io.Writer, key string, duration time.Duration, fill func(io.Writer) error) error {
	if rc.Fragments == nil {
		return fill(w)
	}
	return rc.Fragments.Run(rc.Context, w, key, duration, fill)
}

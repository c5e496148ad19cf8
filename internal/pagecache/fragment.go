package pagecache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
)

// Fragment 缓存响应中的一段区域，只在服务端生效，不做条件请求协商。
//
// 典型用法：
//
//	if frag.Start(ctx, req, opts) {
//		render(frag)
//		frag.End(ctx)
//	}
type Fragment struct {
	store  cache.Store
	out    io.Writer
	logger *logrus.Logger

	started bool
	path    string
	now     time.Time
	buf     bytes.Buffer
}

// NewFragment 创建写往 out 的片段缓存。
func NewFragment(store cache.Store, out io.Writer, logger *logrus.Logger) *Fragment {
	return &Fragment{store: store, out: out, logger: logger}
}

// Start 在条目新鲜时直接把缓存内容写到输出并返回 false；否则开始缓冲并返回 true，
// 调用方随后生成内容并调用 End。
func (f *Fragment) Start(ctx context.Context, req Request, opts Options) bool {
	if f.started {
		panic(ErrFragmentActive)
	}
	now := req.now()

	path, err := cache.ResolvePath(opts.Dir, opts.Key, req.URI)
	if err != nil {
		// 无法定位缓存文件时仍然缓冲输出，只是不落盘。
		f.logger.WithError(err).WithField("key", opts.Key).Warn("fragment_path_invalid")
		f.begin("", now)
		return true
	}

	entry, err := f.store.Read(ctx, path)
	switch {
	case err == nil && cache.IsFresh(entry.ModTime, opts.Duration, now):
		cache.Lookups.WithLabelValues("fragment", "hit").Inc()
		if _, err := f.out.Write(entry.Content); err != nil {
			f.logger.WithError(err).WithField("path", path).Debug("fragment_serve_write_failed")
		}
		return false
	case err == nil:
		cache.Lookups.WithLabelValues("fragment", "stale").Inc()
	case errors.Is(err, cache.ErrNotFound):
		cache.Lookups.WithLabelValues("fragment", "miss").Inc()
	default:
		cache.Lookups.WithLabelValues("fragment", "miss").Inc()
		cache.StoreErrors.WithLabelValues("read").Inc()
		f.logger.WithError(err).WithField("path", path).Warn("cache_read_failed")
	}

	f.begin(path, now)
	return true
}

func (f *Fragment) begin(path string, now time.Time) {
	f.started = true
	f.path = path
	f.now = now
	f.buf.Reset()
}

// Write 在 Start 与 End 之间缓冲，其余时候直接透传到输出。
func (f *Fragment) Write(p []byte) (int, error) {
	if f.started {
		return f.buf.Write(p)
	}
	return f.out.Write(p)
}

// End 把缓冲内容写入缓存并输出。未调用 Start 就调用 End 会 panic。
func (f *Fragment) End(ctx context.Context) error {
	if !f.started {
		panic(ErrFragmentNotStarted)
	}
	content := bytes.Clone(f.buf.Bytes())
	path := f.path
	f.started = false
	f.buf.Reset()

	if path != "" {
		if _, err := f.store.Write(ctx, path, content, cache.WriteOptions{ModTime: f.now}); err != nil {
			cache.StoreErrors.WithLabelValues("write").Inc()
			f.logger.WithError(err).WithField("path", path).Warn("cache_write_failed")
		}
	}
	_, err := f.out.Write(content)
	return err
}

// Discard 放弃当前片段，不写缓存也不输出。
func (f *Fragment) Discard() {
	f.started = false
	f.buf.Reset()
}

// FragmentCache 绑定一次请求与缓存目录，供页面按 key 缓存局部内容。
type FragmentCache struct {
	store  cache.Store
	logger *logrus.Logger
	dir    string
	req    Request
}

// NewFragmentCache 创建请求级的片段缓存入口。
func NewFragmentCache(store cache.Store, logger *logrus.Logger, dir string, req Request) *FragmentCache {
	return &FragmentCache{store: store, logger: logger, dir: dir, req: req}
}

// Run 在 key 对应的片段过期时调用 fill 生成内容，否则直接输出缓存内容。
func (fc *FragmentCache) Run(ctx context.Context, w io.Writer, key string, duration time.Duration, fill func(io.Writer) error) error {
	frag := NewFragment(fc.store, w, fc.logger)
	if !frag.Start(ctx, fc.req, Options{Dir: fc.dir, Key: key, Duration: duration}) {
		return nil
	}
	if err := fill(frag); err != nil {
		frag.Discard()
		return err
	}
	return frag.End(ctx)
}

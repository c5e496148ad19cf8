package pagecache

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/conditional"
)

// Capture 是一次性的正文截获器：下游写入的字节先全部进入缓冲区，Finalize 时
// 写入缓存，再用当前请求的验证器决定输出正文还是 304。
type Capture struct {
	store     cache.Store
	logger    *logrus.Logger
	path      string
	req       Request
	resp      Response
	responder conditional.Responder

	mu        sync.Mutex
	buf       bytes.Buffer
	finalized bool
}

// Write 累积正文；Finalize 之后再写会返回 ErrCaptureFinalized。
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return 0, ErrCaptureFinalized
	}
	return c.buf.Write(p)
}

// Finalize 落盘并协商输出。写缓存失败只记录日志，正文仍会发送给当前请求方。
func (c *Capture) Finalize(ctx context.Context) (conditional.Decision, error) {
	content, err := c.seal()
	if err != nil {
		return conditional.Regenerate, err
	}
	c.persist(ctx, content)
	return c.emit(content)
}

// Discard 丢弃已缓冲的正文，之后的 Finalize 会失败。
func (c *Capture) Discard() {
	c.mu.Lock()
	c.finalized = true
	c.buf.Reset()
	c.mu.Unlock()
}

func (c *Capture) seal() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return nil, ErrCaptureFinalized
	}
	c.finalized = true
	content := bytes.Clone(c.buf.Bytes())
	c.buf.Reset()
	return content, nil
}

func (c *Capture) persist(ctx context.Context, content []byte) *cache.Entry {
	entry, err := c.store.Write(ctx, c.path, content, cache.WriteOptions{ModTime: c.req.now()})
	if err != nil {
		cache.StoreErrors.WithLabelValues("write").Inc()
		c.logger.WithError(err).WithFields(logrus.Fields{
			"path":  c.path,
			"bytes": len(content),
		}).Warn("cache_write_failed")
		return nil
	}
	return entry
}

// emit 对刚生成的正文执行与磁盘命中相同的 If-None-Match 协商。
func (c *Capture) emit(content []byte) (conditional.Decision, error) {
	etag := cache.ContentHash(content)
	if decision := c.responder.Negotiate(c.resp, etag); decision == conditional.NotModified {
		cache.NotModified.WithLabelValues("etag", "generated").Inc()
		return decision, nil
	}
	c.resp.Status(http.StatusOK)
	if _, err := c.resp.Write(content); err != nil {
		return conditional.Serve, err
	}
	return conditional.Serve, nil
}

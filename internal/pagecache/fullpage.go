package pagecache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/conditional"
)

// State 是整页缓存周期所处的阶段。
type State int

const (
	StateIdle State = iota
	StateChecking
	StateServing
	StateNegotiating304
	StateCapturing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateServing:
		return "serving"
	case StateNegotiating304:
		return "negotiating-304"
	case StateCapturing:
		return "capturing"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// FullPage 负责整页缓存。可在多个请求间共享。
type FullPage struct {
	store  cache.Store
	logger *logrus.Logger
	flight *singleflight.Group
}

// NewFullPage 创建整页缓存控制器；singleFlight 为 true 时同一路径的并发重新生成
// 只执行一次，其余请求共享结果。
func NewFullPage(store cache.Store, logger *logrus.Logger, singleFlight bool) *FullPage {
	p := &FullPage{store: store, logger: logger}
	if singleFlight {
		p.flight = &singleflight.Group{}
	}
	return p
}

// Cycle 是单个请求的缓存周期。
type Cycle struct {
	page      *FullPage
	req       Request
	resp      Response
	opts      Options
	path      string
	state     State
	decision  conditional.Decision
	responder conditional.Responder
	capture   *Capture
}

// Begin 检查缓存并尽可能直接给出终态：新鲜条目会写出 200 正文或 304。条目缺失或
// 过期时以 now 作为新的创建时间写出缓存头，返回处于 Capturing 状态的周期，由调用方
// 生成正文。路径无法解析时返回错误，调用方应按未缓存方式处理。
func (p *FullPage) Begin(ctx context.Context, req Request, resp Response, opts Options) (*Cycle, error) {
	req.Now = req.now()
	cycle := &Cycle{page: p, req: req, resp: resp, opts: opts, state: StateIdle}

	path, err := cache.ResolvePath(opts.Dir, opts.Key, req.URI)
	if err != nil {
		return nil, err
	}
	cycle.path = path
	cycle.state = StateChecking
	cycle.responder = conditional.Responder{
		Validators: req.Validators,
		Session:    req.Session,
		Duration:   opts.Duration,
		Now:        req.Now,
	}

	entry, err := p.store.Read(ctx, path)
	switch {
	case err == nil && cache.IsFresh(entry.ModTime, opts.Duration, req.Now):
		cache.Lookups.WithLabelValues("page", "hit").Inc()
		cycle.serveStored(entry)
		return cycle, nil
	case err == nil:
		cache.Lookups.WithLabelValues("page", "stale").Inc()
	case errors.Is(err, cache.ErrNotFound):
		cache.Lookups.WithLabelValues("page", "miss").Inc()
	default:
		cache.Lookups.WithLabelValues("page", "miss").Inc()
		cache.StoreErrors.WithLabelValues("read").Inc()
		p.logger.WithError(err).WithField("path", path).Warn("cache_read_failed")
	}

	cycle.responder.Announce(resp, req.Now)
	cycle.capture = &Capture{
		store:     p.store,
		logger:    p.logger,
		path:      path,
		req:       req,
		resp:      resp,
		responder: cycle.responder,
	}
	cycle.state = StateCapturing
	return cycle, nil
}

func (c *Cycle) serveStored(entry *cache.Entry) {
	c.responder.Announce(c.resp, entry.ModTime)
	c.resp.Set(conditional.HeaderETag, entry.Hash)

	c.decision = conditional.Decide(true, entry.ModTime, c.req.Validators, entry.Hash)
	if c.decision == conditional.NotModified {
		validator := "since"
		if c.req.Validators.MatchesETag(entry.Hash) {
			validator = "etag"
		}
		cache.NotModified.WithLabelValues(validator, "stored").Inc()
		c.responder.NotModified(c.resp)
		c.state = StateNegotiating304
		return
	}

	c.resp.Status(http.StatusOK)
	if _, err := c.resp.Write(entry.Content); err != nil {
		c.page.logger.WithError(err).WithField("path", c.path).Debug("cache_serve_write_failed")
	}
	c.state = StateServing
}

// State 返回当前阶段。
func (c *Cycle) State() State { return c.state }

// Decision 返回最终决定；Capturing 阶段为 Regenerate。
func (c *Cycle) Decision() conditional.Decision { return c.decision }

// Terminal 为 true 时调用方必须停止处理，不得再生成正文。
func (c *Cycle) Terminal() bool { return c.decision.Terminal() }

// Path 返回解析后的缓存文件绝对路径。
func (c *Cycle) Path() string { return c.path }

// Writer 返回 Capturing 阶段的正文截获器，其它阶段返回 nil。
func (c *Cycle) Writer() io.Writer {
	if c.state != StateCapturing {
		return nil
	}
	return c.capture
}

// Finalize 提交 Writer 中截获的正文，进入 Done。
func (c *Cycle) Finalize(ctx context.Context) error {
	if c.state != StateCapturing {
		return ErrNotCapturing
	}
	decision, err := c.capture.Finalize(ctx)
	c.finish(decision)
	return err
}

// Render 在 Capturing 阶段调用 fn 生成正文并提交。fn 返回错误时不写缓存，也不
// 输出任何正文。开启 single-flight 时同一路径只有一个请求真正执行 fn。
func (c *Cycle) Render(ctx context.Context, fn func(io.Writer) error) error {
	if c.state != StateCapturing {
		return ErrNotCapturing
	}
	if c.page.flight == nil {
		if err := fn(c.capture); err != nil {
			c.capture.Discard()
			c.state = StateDone
			return err
		}
		return c.Finalize(ctx)
	}

	value, err, _ := c.page.flight.Do(c.path, func() (any, error) {
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			return nil, err
		}
		content := buf.Bytes()
		return renderResult{content: content, entry: c.capture.persist(ctx, content)}, nil
	})
	if err != nil {
		c.capture.Discard()
		c.state = StateDone
		return err
	}

	result := value.(renderResult)
	if _, sealErr := c.capture.seal(); sealErr != nil {
		return sealErr
	}
	if result.entry != nil {
		// 共享结果的请求以真正落盘的创建时间为准。
		c.responder.Announce(c.resp, result.entry.ModTime)
	}
	decision, err := c.capture.emit(result.content)
	c.finish(decision)
	return err
}

func (c *Cycle) finish(decision conditional.Decision) {
	c.decision = decision
	c.state = StateDone
}

type renderResult struct {
	content []byte
	entry   *cache.Entry
}

// Package dispatch 把路由解析出的 PageRoute 接到缓存层：检查整页缓存、在需要时
// 调用页面生成正文，并把结果写回 Fiber 响应。
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/conditional"
	"github.com/any-hub/pagecache/internal/logging"
	"github.com/any-hub/pagecache/internal/pagecache"
	"github.com/any-hub/pagecache/internal/pages"
	"github.com/any-hub/pagecache/internal/server"
	"github.com/any-hub/pagecache/internal/session"
)

// HeaderPagecache 标记本次响应与缓存的关系：hit/miss/not-modified/bypass。
const HeaderPagecache = "X-Pagecache"

// Handler 负责 orchestrate “清理 → 检查缓存 → 生成并截获正文” 的全流程，
// 对外暴露 server.PageHandler，内部复用共享 http.Client 与磁盘缓存。
type Handler struct {
	client  *http.Client
	logger  *logrus.Logger
	store   cache.Store
	full    *pagecache.FullPage
	evictor *cache.Evictor
	now     func() time.Time
}

// Options 控制 Handler 的可选行为。
type Options struct {
	// SingleFlight 为 true 时同一缓存路径的并发重新生成只执行一次。
	SingleFlight bool
	// Now 为空时使用 time.Now。
	Now func() time.Time
}

// NewHandler constructs a page handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, opts Options) *Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		client:  client,
		logger:  logger,
		store:   store,
		full:    pagecache.NewFullPage(store, logger, opts.SingleFlight),
		evictor: cache.NewEvictor(logger, cache.WithEvictorClock(now)),
		now:     now,
	}
}

// Handle 实现 server.PageHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.PageRoute) error {
	started := h.now()
	requestID := server.RequestID(c)
	ctx := requestContext(c)

	c.Set(fiber.HeaderContentType, route.Page.ContentType)
	rc := h.renderContext(c, ctx, route, started)

	req := pagecache.Request{
		URI:        string(c.Request().RequestURI()),
		Validators: conditional.NewValidators(c.Get(fiber.HeaderIfModifiedSince), c.Get(fiber.HeaderIfNoneMatch)),
		Session:    sessionOf(rc.Session),
		Now:        started,
	}
	cacheable := isCacheableMethod(c.Method())
	if cacheable {
		// 片段缓存只在服务端生效，整页不缓存时同样可用。
		rc.Fragments = pagecache.NewFragmentCache(h.store, h.logger, route.CacheDir, req)
	}

	if !route.CacheEnabled || !cacheable {
		c.Set(HeaderPagecache, "bypass")
		err := h.renderUncached(c, route, rc)
		h.logResult(route, requestID, "bypass", "regenerate", started, err)
		return h.finishWithError(c, route, err)
	}

	h.evictor.CleanUp(filepath.Join(route.CacheDir, "*"), route.CleanupDuration, route.CleanupProbability)

	resp := fiberResponse{c: c}

	cycle, err := h.full.Begin(ctx, req, resp, pagecache.Options{
		Dir:      route.CacheDir,
		Key:      route.Config.Key,
		Duration: route.Duration,
	})
	if err != nil {
		// 路径无法解析属于配置问题，按未缓存方式继续服务。
		h.logger.WithError(err).WithFields(logrus.Fields{
			"page_action": route.Config.Action,
			"request_id":  requestID,
		}).Warn("cache_path_invalid")
		c.Set(HeaderPagecache, "bypass")
		err = h.renderUncached(c, route, rc)
		h.logResult(route, requestID, "bypass", "regenerate", started, err)
		return h.finishWithError(c, route, err)
	}

	if cycle.Terminal() {
		c.Set(HeaderPagecache, cacheMarker(cycle.Decision(), true))
		h.logResult(route, requestID, cycle.State().String(), cycle.Decision().String(), started, nil)
		return nil
	}

	c.Set(HeaderPagecache, "miss")
	err = cycle.Render(ctx, func(w io.Writer) error {
		return route.Page.Render(rc, w)
	})
	if err == nil {
		c.Set(HeaderPagecache, cacheMarker(cycle.Decision(), false))
	}
	h.logResult(route, requestID, cycle.State().String(), cycle.Decision().String(), started, err)
	return h.finishWithError(c, route, err)
}

func (h *Handler) renderContext(c fiber.Ctx, ctx context.Context, route *server.PageRoute, now time.Time) *pages.RenderContext {
	_, segments := server.SplitAction(string(c.Request().URI().Path()))
	query, _ := url.ParseQuery(string(c.Request().URI().QueryString()))

	rc := &pages.RenderContext{
		Context:  ctx,
		Action:   route.Config.Action,
		Segments: segments,
		Query:    query,
		Now:      now,
		Session:  session.FromContext(c),
	}
	if route.OriginURL != nil {
		rc.Upstream = newOriginFetcher(h.client, route, c)
	}
	return rc
}

// renderUncached 生成完整正文后一次性写出，失败时不会留下半截响应。
func (h *Handler) renderUncached(c fiber.Ctx, route *server.PageRoute, rc *pages.RenderContext) error {
	var buf bytes.Buffer
	if err := route.Page.Render(rc, &buf); err != nil {
		return err
	}
	c.Status(fiber.StatusOK)
	_, err := c.Write(buf.Bytes())
	return err
}

// finishWithError 把页面生成失败翻译为 JSON 错误响应，并撤销已写出的缓存头。
func (h *Handler) finishWithError(c fiber.Ctx, route *server.PageRoute, err error) error {
	if err == nil {
		return nil
	}
	for _, header := range []string{
		conditional.HeaderLastModified,
		conditional.HeaderExpires,
		conditional.HeaderCacheControl,
		conditional.HeaderETag,
	} {
		c.Response().Header.Del(header)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	// 渲染中途启动的会话不得再补写 public 缓存头。
	session.FromContext(c).Suppress(conditional.HeaderExpires, conditional.HeaderCacheControl)
	if errors.Is(err, pages.ErrUpstream) {
		return h.writeError(c, fiber.StatusBadGateway, "origin_unavailable")
	}
	return h.writeError(c, fiber.StatusInternalServerError, "page_render_failed")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.PageRoute,
	requestID string,
	cacheState string,
	decision string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Action,
		route.Page.Key,
		route.Config.Mode,
		cacheState,
		decision,
	)
	fields["action"] = "dispatch"
	fields["elapsed_ms"] = h.now().Sub(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("page_failed")
		return
	}
	h.logger.WithFields(fields).Info("page_complete")
}

func cacheMarker(decision conditional.Decision, fromStore bool) string {
	switch {
	case decision == conditional.NotModified:
		return "not-modified"
	case fromStore:
		return "hit"
	default:
		return "miss"
	}
}

func isCacheableMethod(method string) bool {
	return method == fiber.MethodGet || method == fiber.MethodHead
}

// sessionOf 避免把 nil *session.State 装进非 nil 接口。
func sessionOf(state *session.State) conditional.Session {
	if state == nil {
		return nil
	}
	return state
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// fiberResponse 让缓存层通过最小接口写 Fiber 响应。
type fiberResponse struct {
	c fiber.Ctx
}

func (r fiberResponse) Set(key, value string) { r.c.Set(key, value) }

func (r fiberResponse) Del(key string) { r.c.Response().Header.Del(key) }

func (r fiberResponse) Status(code int) { r.c.Status(code) }

func (r fiberResponse) Write(p []byte) (int, error) { return r.c.Write(p) }

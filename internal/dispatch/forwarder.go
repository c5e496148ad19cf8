package dispatch

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/logging"
	"github.com/any-hub/pagecache/internal/server"
)

// Forwarder 包装页面 handler：缺失时返回结构化错误，页面 panic 时记录日志并返回 500。
type Forwarder struct {
	handler server.PageHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(handler server.PageHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.PageHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.PageRoute) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.PageRoute, requestID string) error {
	f.logPageError(route, "page_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "page_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.PageRoute, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.PageRoute, recovered interface{}, requestID string) error {
	f.logPageError(route, "page_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	// panic 前可能已写出缓存头或部分正文，全部清掉。
	c.Response().Reset()
	setRequestIDHeader(c, requestID)
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "page_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logPageError(route *server.PageRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "dispatch"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("page handler unavailable")
}

func routeFields(route *server.PageRoute, requestID string) logrus.Fields {
	if route == nil {
		return logging.RequestFields("", "", "", "", "")
	}
	fields := logging.RequestFields(route.Config.Action, route.Page.Key, route.Config.Mode, "", "")
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

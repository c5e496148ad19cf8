package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/session"
)

// PageHandler describes the component responsible for producing a page
// response through the cache layer. It allows injecting fake handlers during tests.
type PageHandler interface {
	Handle(fiber.Ctx, *PageRoute) error
}

// PageHandlerFunc adapts a function to the PageHandler interface.
type PageHandlerFunc func(fiber.Ctx, *PageRoute) error

// Handle makes PageHandlerFunc satisfy PageHandler.
func (f PageHandlerFunc) Handle(c fiber.Ctx, route *PageRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *PageRegistry
	Handler    PageHandler
	Sessions   *session.Store
	ListenPort int
}

const (
	contextKeyRoute     = "_pagecache_route"
	contextKeyRequestID = "_pagecache_request_id"
)

// NewApp builds a Fiber application with action routing, session middleware
// and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("page registry is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("page handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore(0)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))
	app.Use(session.Middleware(opts.Sessions))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		route, _ := RouteFromContext(c)
		if route == nil {
			return renderPageNotFound(c, opts.Logger, "")
		}
		return opts.Handler.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并基于第一个路径段查找 PageRoute。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) {
			return c.Next()
		}

		route, ok := opts.Registry.Lookup(path)
		if !ok {
			action, _ := SplitAction(path)
			return renderPageNotFound(c, opts.Logger, action)
		}

		c.Locals(contextKeyRoute, route)
		return c.Next()
	}
}

func renderPageNotFound(c fiber.Ctx, logger *logrus.Logger, action string) error {
	logger.WithFields(logrus.Fields{
		"action":      "page_lookup",
		"page_action": action,
		"path":        string(c.Request().URI().Path()),
	}).Warn("page unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "page_not_found",
	})
}

// RouteFromContext returns the PageRoute resolved by the router middleware.
func RouteFromContext(c fiber.Ctx) (*PageRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*PageRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

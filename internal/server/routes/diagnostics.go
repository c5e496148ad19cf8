package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/pagecache/internal/pages"
	"github.com/any-hub/pagecache/internal/server"
)

// RegisterDiagnosticsRoutes 暴露 /-/pages 与 /-/metrics 诊断接口，供运维查询页面绑定与缓存指标。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.PageRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/pages", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"pages":    encodePages(pages.List()),
			"bindings": encodeBindings(registry.List()),
		})
	})

	app.Get("/-/pages/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		meta, ok := pages.Resolve(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "page_not_found"})
		}
		return c.JSON(encodePage(meta))
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

type pagePayload struct {
	Key            string `json:"key"`
	Description    string `json:"description"`
	ContentType    string `json:"content_type"`
	RequiresOrigin bool   `json:"requires_origin"`
}

type bindingPayload struct {
	Action             string `json:"action"`
	Page               string `json:"page"`
	Mode               string `json:"mode"`
	Key                string `json:"key,omitempty"`
	CacheDir           string `json:"cache_dir"`
	DurationSeconds    int64  `json:"duration_seconds"`
	CleanupSeconds     int64  `json:"cleanup_seconds"`
	CleanupProbability int    `json:"cleanup_probability"`
	Origin             string `json:"origin,omitempty"`
}

func encodePages(items []pages.Metadata) []pagePayload {
	if len(items) == 0 {
		return nil
	}
	result := make([]pagePayload, 0, len(items))
	for _, meta := range items {
		result = append(result, encodePage(meta))
	}
	return result
}

func encodePage(meta pages.Metadata) pagePayload {
	return pagePayload{
		Key:            meta.Key,
		Description:    meta.Description,
		ContentType:    meta.ContentType,
		RequiresOrigin: meta.RequiresOrigin,
	}
}

func encodeBindings(routes []server.PageRoute) []bindingPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Action < routes[j].Config.Action
	})
	result := make([]bindingPayload, 0, len(routes))
	for _, route := range routes {
		item := bindingPayload{
			Action:             route.Config.Action,
			Page:               route.Page.Key,
			Mode:               route.Config.Mode,
			Key:                route.Config.Key,
			CacheDir:           route.CacheDir,
			DurationSeconds:    int64(route.Duration / time.Second),
			CleanupSeconds:     int64(route.CleanupDuration / time.Second),
			CleanupProbability: route.CleanupProbability,
		}
		if route.OriginURL != nil {
			item.Origin = route.OriginURL.String()
		}
		result = append(result, item)
	}
	return result
}

package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pagecache/internal/server"
)

// skippedOriginHeaders 不转发到源站：条件请求头由缓存层自己协商，源站必须返回完整
// 正文；Cookie/Authorization 会让共享缓存混入个人内容。
var skippedOriginHeaders = map[string]struct{}{
	"If-Modified-Since":   {},
	"If-None-Match":       {},
	"If-Match":            {},
	"If-Unmodified-Since": {},
	"If-Range":            {},
	"Range":               {},
	"Cookie":              {},
	"Authorization":       {},
	"Accept-Encoding":     {},
	"Host":                {},
}

// originFetcher 实现 pages.Upstream，请求头在构造时从 Fiber 请求中拷贝一份快照。
type originFetcher struct {
	client        *http.Client
	base          *url.URL
	headers       http.Header
	forwardedHost string
	forwardedFor  string
	proto         string
	port          string
}

func newOriginFetcher(client *http.Client, route *server.PageRoute, c fiber.Ctx) *originFetcher {
	return &originFetcher{
		client:        client,
		base:          route.OriginURL,
		headers:       forwardableHeaders(c),
		forwardedHost: c.Hostname(),
		forwardedFor:  c.IP(),
		proto:         c.Scheme(),
		port:          routePort(route),
	}
}

// Fetch 以 GET 请求源站上 base 路径下的 p。
func (f *originFetcher) Fetch(ctx context.Context, p, rawQuery string) (*http.Response, error) {
	if f.client == nil {
		return nil, fmt.Errorf("origin client not configured")
	}
	target := resolveOriginURL(f.base, p, rawQuery)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Host = target.Host
	if f.forwardedHost != "" {
		req.Header.Set("X-Forwarded-Host", f.forwardedHost)
	}
	if f.forwardedFor != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+f.forwardedFor)
		} else {
			req.Header.Set("X-Forwarded-For", f.forwardedFor)
		}
	}
	req.Header.Set("X-Forwarded-Proto", f.proto)
	req.Header.Set("X-Forwarded-Port", f.port)

	return f.client.Do(req)
}

func forwardableHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	hop := server.HopByHopHeaders(c.Get(fiber.HeaderConnection))
	c.Request().Header.VisitAll(func(key, value []byte) {
		name := http.CanonicalHeaderKey(string(key))
		if _, skip := hop[name]; skip {
			return
		}
		if _, skip := skippedOriginHeaders[name]; skip {
			return
		}
		header.Add(name, string(value))
	})
	return header
}

// resolveOriginURL 把请求路径拼到 base 的路径之后，保留 base 的 scheme/host。
func resolveOriginURL(base *url.URL, p, rawQuery string) *url.URL {
	clean := path.Clean("/" + strings.TrimPrefix(p, "/"))
	target := *base
	target.Path = path.Join("/", base.Path, clean)
	if len(p) > 1 && strings.HasSuffix(p, "/") && !strings.HasSuffix(target.Path, "/") {
		target.Path += "/"
	}
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

func routePort(route *server.PageRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}

package dispatch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	_ "github.com/any-hub/pagecache/internal/pages/sample"
	"github.com/any-hub/pagecache/internal/server"
	"github.com/any-hub/pagecache/internal/session"
)

var baseTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestHandlerMissThenHit(t *testing.T) {
	env := newTestEnv(t, nil)

	first, body1 := env.do(t, http.MethodGet, "/clock", nil)
	if first.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", first.StatusCode, body1)
	}
	if marker := first.Header.Get(HeaderPagecache); marker != "miss" {
		t.Fatalf("expected miss marker, got %q", marker)
	}
	if lm := first.Header.Get("Last-Modified"); lm != baseTime.Format(http.TimeFormat) {
		t.Fatalf("unexpected Last-Modified %q", lm)
	}
	if cc := first.Header.Get("Cache-Control"); cc != "max-age=3600" {
		t.Fatalf("unexpected Cache-Control %q", cc)
	}
	if first.Header.Get("Etag") == "" {
		t.Fatalf("expected Etag on generated page")
	}
	if _, err := os.Stat(filepath.Join(env.dir, "clock.html")); err != nil {
		t.Fatalf("page not stored: %v", err)
	}

	env.advance(10 * time.Minute)
	second, body2 := env.do(t, http.MethodGet, "/clock", nil)
	if second.StatusCode != fiber.StatusOK || second.Header.Get(HeaderPagecache) != "hit" {
		t.Fatalf("expected cached 200, got %d/%s", second.StatusCode, second.Header.Get(HeaderPagecache))
	}
	if body2 != body1 {
		t.Fatalf("cached body differs:\n%s\n%s", body1, body2)
	}
	if second.Header.Get("Last-Modified") != first.Header.Get("Last-Modified") {
		t.Fatalf("hit must keep the stored creation time")
	}
	if second.Header.Get("Etag") != first.Header.Get("Etag") {
		t.Fatalf("hit must keep the content etag")
	}
}

func TestHandlerExpiredEntryRegenerates(t *testing.T) {
	env := newTestEnv(t, nil)

	_, body1 := env.do(t, http.MethodGet, "/clock", nil)
	env.advance(time.Hour)
	resp, body2 := env.do(t, http.MethodGet, "/clock", nil)
	if resp.Header.Get(HeaderPagecache) != "miss" {
		t.Fatalf("expired entry should regenerate, got %q", resp.Header.Get(HeaderPagecache))
	}
	if body1 == body2 {
		t.Fatalf("expected a new clock value after expiry")
	}
	if lm := resp.Header.Get("Last-Modified"); lm != baseTime.Add(time.Hour).Format(http.TimeFormat) {
		t.Fatalf("unexpected Last-Modified %q", lm)
	}
}

func TestHandlerConditionalRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	first, _ := env.do(t, http.MethodGet, "/clock", nil)
	etag := first.Header.Get("Etag")
	lastModified := first.Header.Get("Last-Modified")
	env.advance(time.Minute)

	resp, body := env.do(t, http.MethodGet, "/clock", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != fiber.StatusNotModified || body != "" {
		t.Fatalf("If-None-Match should yield empty 304, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderPagecache) != "not-modified" {
		t.Fatalf("unexpected marker %q", resp.Header.Get(HeaderPagecache))
	}

	resp, _ = env.do(t, http.MethodGet, "/clock", map[string]string{"If-Modified-Since": lastModified})
	if resp.StatusCode != fiber.StatusNotModified {
		t.Fatalf("exact If-Modified-Since should yield 304, got %d", resp.StatusCode)
	}

	older := baseTime.Add(-time.Minute).Format(http.TimeFormat)
	resp, body = env.do(t, http.MethodGet, "/clock", map[string]string{"If-Modified-Since": older})
	if resp.StatusCode != fiber.StatusOK || body == "" {
		t.Fatalf("non-matching If-Modified-Since should serve the page, got %d", resp.StatusCode)
	}
}

func TestHandlerGeneratedPageMatchesIfNoneMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	first, _ := env.do(t, http.MethodGet, "/clock", nil)
	etag := first.Header.Get("Etag")

	// 过期后重新生成的内容与旧内容相同（时钟未前进），仍然命中 etag。
	if err := os.Remove(filepath.Join(env.dir, "clock.html")); err != nil {
		t.Fatalf("remove stored page: %v", err)
	}
	resp, body := env.do(t, http.MethodGet, "/clock", map[string]string{"If-None-Match": `"` + etag + `"`})
	if resp.StatusCode != fiber.StatusNotModified || body != "" {
		t.Fatalf("expected 304 for regenerated identical content, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "clock.html")); err != nil {
		t.Fatalf("regenerated page should still be stored: %v", err)
	}
}

func TestHandlerBypassesNonGetMethods(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/clock", nil)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, `id="clock"`) {
		t.Fatalf("expected rendered page, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderPagecache) != "bypass" {
		t.Fatalf("POST must bypass the cache, got %q", resp.Header.Get(HeaderPagecache))
	}
	if resp.Header.Get("Last-Modified") != "" {
		t.Fatalf("bypass must not announce cache headers")
	}
	if _, err := os.Stat(filepath.Join(env.dir, "clock.html")); !os.IsNotExist(err) {
		t.Fatalf("bypass must not store the page, stat err=%v", err)
	}
}

func TestHandlerModeNoneBypasses(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/live", nil)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "Dashboard") {
		t.Fatalf("expected dashboard, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(HeaderPagecache) != "bypass" || resp.Header.Get("Etag") != "" {
		t.Fatalf("Mode=none must not negotiate, headers=%v", resp.Header)
	}
}

func TestHandlerRenderErrorSkipsCache(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/dash?n=abc", nil)
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "page_render_failed") {
		t.Fatalf("unexpected error body %s", body)
	}
	if resp.Header.Get("Last-Modified") != "" || resp.Header.Get("Expires") != "" {
		t.Fatalf("failed render must not keep cache headers: %v", resp.Header)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("expected no-store, got %q", cc)
	}

	path, err := cache.ResolvePath(env.dir, "", "/dash?n=abc")
	if err != nil {
		t.Fatalf("resolve path: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("failed render must not be stored, stat err=%v", err)
	}
}

func TestHandlerDashboardFragmentOutlivesPage(t *testing.T) {
	env := newTestEnv(t, nil)

	_, first := env.do(t, http.MethodGet, "/dash?n=10", nil)
	if !strings.Contains(first, "<dd>55</dd>") {
		t.Fatalf("expected computed stats, got %s", first)
	}

	// 整页 30s 过期，统计片段 5 分钟内仍然复用。
	env.advance(time.Minute)
	resp, second := env.do(t, http.MethodGet, "/dash?n=10", nil)
	if resp.Header.Get(HeaderPagecache) != "miss" {
		t.Fatalf("page should be regenerated, got %q", resp.Header.Get(HeaderPagecache))
	}
	later := baseTime.Add(time.Minute).Format(time.RFC3339)
	if !strings.Contains(second, "requested at "+later) {
		t.Fatalf("page frame should be fresh, got %s", second)
	}
	if !strings.Contains(second, "<dt>computed</dt><dd>"+baseTime.Format(time.RFC3339)+"</dd>") {
		t.Fatalf("stats fragment should come from cache, got %s", second)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "dashboard-stats-10.html")); err != nil {
		t.Fatalf("fragment not stored: %v", err)
	}
}

func TestHandlerSessionSuppressesCacheHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	first, body := env.do(t, http.MethodGet, "/session", nil)
	if first.StatusCode != fiber.StatusOK || !strings.Contains(body, "visits: 1") {
		t.Fatalf("unexpected first response %d %s", first.StatusCode, body)
	}
	var sid string
	for _, cookie := range first.Cookies() {
		if cookie.Name == session.CookieName {
			sid = cookie.Value
		}
	}
	if sid == "" {
		t.Fatalf("expected session cookie")
	}

	second, body := env.do(t, http.MethodGet, "/session", map[string]string{
		"Cookie": session.CookieName + "=" + sid,
	})
	if second.Header.Get(HeaderPagecache) != "hit" || !strings.Contains(body, "visits: 1") {
		t.Fatalf("expected cached page, got %s %s", second.Header.Get(HeaderPagecache), body)
	}
	if second.Header.Get("Pragma") != "" {
		t.Fatalf("Pragma must be removed when a session is active")
	}
	if cc := second.Header.Get("Cache-Control"); cc != "max-age=3600" {
		t.Fatalf("session layer must not override Cache-Control, got %q", cc)
	}
}

func TestHandlerSessionNotModifiedStripsExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	first, _ := env.do(t, http.MethodGet, "/session", nil)

	var cookie string
	for _, c := range first.Cookies() {
		if c.Name == session.CookieName {
			cookie = c.Name + "=" + c.Value
		}
	}
	resp, _ := env.do(t, http.MethodGet, "/session", map[string]string{
		"Cookie":        cookie,
		"If-None-Match": first.Header.Get("Etag"),
	})
	if resp.StatusCode != fiber.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Expires") != "" || resp.Header.Get("Cache-Control") != "" {
		t.Fatalf("304 with active session must not carry expiry headers: %v", resp.Header)
	}
}

func TestHandlerOriginPage(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotQuery string
		gotINM   string
		gotFwd   string
	)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotINM = r.Header.Get("If-None-Match")
		gotFwd = r.Header.Get("X-Forwarded-Host")
		mu.Unlock()
		if r.URL.Path == "/base/broken" {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "<p>from origin</p>")
	}))
	t.Cleanup(origin.Close)

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Pages = append(cfg.Pages, config.PageConfig{
			Action: "docs",
			Page:   "origin",
			Mode:   config.ModeFull,
			Origin: origin.URL + "/base",
		})
	})

	resp, body := env.do(t, http.MethodGet, "/docs/guide/intro?lang=en", map[string]string{
		"If-None-Match": `"stale"`,
	})
	if resp.StatusCode != fiber.StatusOK || body != "<p>from origin</p>" {
		t.Fatalf("unexpected origin response %d %s", resp.StatusCode, body)
	}
	mu.Lock()
	if gotPath != "/base/guide/intro" || gotQuery != "lang=en" {
		t.Fatalf("unexpected origin request %s?%s", gotPath, gotQuery)
	}
	if gotINM != "" {
		t.Fatalf("validators must not be forwarded to origin, got %q", gotINM)
	}
	if gotFwd == "" {
		t.Fatalf("expected X-Forwarded-Host")
	}
	mu.Unlock()

	resp, body = env.do(t, http.MethodGet, "/docs/broken", nil)
	if resp.StatusCode != fiber.StatusBadGateway || !strings.Contains(body, "origin_unavailable") {
		t.Fatalf("expected 502, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Last-Modified") != "" {
		t.Fatalf("origin failure must not announce cache headers")
	}
}

func TestHandlerCleanupSweepsStaleFiles(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Global.CleanupProbability = 100
	})

	stale := filepath.Join(env.dir, "old.html")
	recent := filepath.Join(env.dir, "recent.html")
	for path, mtime := range map[string]time.Time{
		stale:  baseTime.Add(-3 * time.Hour),
		recent: baseTime.Add(-time.Hour),
	} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}

	env.do(t, http.MethodGet, "/clock", nil)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should be swept, stat err=%v", err)
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent file must survive: %v", err)
	}
}

type testEnv struct {
	app *fiber.App
	dir string

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:         5000,
			CacheDirectory:     dir,
			CacheDuration:      config.Duration(time.Hour),
			CleanupDuration:    config.Duration(2 * time.Hour),
			CleanupProbability: 0,
		},
		Pages: []config.PageConfig{
			{Action: "index", Page: "index", Mode: config.ModeFull},
			{Action: "clock", Page: "clock", Mode: config.ModeFull, Key: "clock.html"},
			{Action: "live", Page: "dashboard", Mode: config.ModeNone},
			{Action: "dash", Page: "dashboard", Mode: config.ModeFull, Duration: config.Duration(30 * time.Second)},
			{Action: "session", Page: "session", Mode: config.ModeFull},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	registry, err := server.NewPageRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store, err := cache.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{dir: dir, now: baseTime}
	handler := NewHandler(server.NewOriginClient(cfg), logger, store, Options{Now: env.clock})
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    NewForwarder(handler, logger),
		Sessions:   session.NewStore(time.Hour),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	env.app = app
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

func (e *testEnv) do(t *testing.T, method, target string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, target, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHandlerSessionStartedDuringRenderKeepsCacheHeaders(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		for i := range cfg.Pages {
			if cfg.Pages[i].Action == "session" {
				cfg.Pages[i].Duration = config.Duration(10 * time.Second)
			}
		}
	})

	resp, body := env.do(t, http.MethodGet, "/session", nil)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(body, "visits: 1") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
	if len(resp.Cookies()) == 0 {
		t.Fatalf("render should have started a session")
	}
	if lm := resp.Header.Get("Last-Modified"); lm != baseTime.Format(http.TimeFormat) {
		t.Fatalf("unexpected Last-Modified %q", lm)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "max-age=10" {
		t.Fatalf("session layer must not rewrite Cache-Control, got %q", cc)
	}
	if exp := resp.Header.Get("Expires"); exp != baseTime.Add(10*time.Second).Format(http.TimeFormat) {
		t.Fatalf("Expires must equal Last-Modified + duration, got %q", exp)
	}
}

func TestHandlerModeNoneStillCachesFragments(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, first := env.do(t, http.MethodGet, "/live?n=10", nil)
	if resp.Header.Get(HeaderPagecache) != "bypass" {
		t.Fatalf("Mode=none page must bypass, got %q", resp.Header.Get(HeaderPagecache))
	}
	if !strings.Contains(first, "<dd>55</dd>") {
		t.Fatalf("expected computed stats, got %s", first)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "dashboard-stats-10.html")); err != nil {
		t.Fatalf("fragment should be stored for a live page: %v", err)
	}

	env.advance(time.Minute)
	_, second := env.do(t, http.MethodGet, "/live?n=10", nil)
	later := baseTime.Add(time.Minute).Format(time.RFC3339)
	if !strings.Contains(second, "requested at "+later) {
		t.Fatalf("live frame should be rendered per request, got %s", second)
	}
	if !strings.Contains(second, "<dt>computed</dt><dd>"+baseTime.Format(time.RFC3339)+"</dd>") {
		t.Fatalf("stats fragment should come from cache, got %s", second)
	}
}

package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(fixturePath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CacheDuration.DurationValue() != 10*time.Minute {
		t.Fatalf("CacheDuration 应解析为秒数, got %s", cfg.Global.CacheDuration.DurationValue())
	}
	if cfg.Global.CleanupDuration.DurationValue() != 72*time.Hour {
		t.Fatalf("CleanupDuration 应解析 Go duration, got %s", cfg.Global.CleanupDuration.DurationValue())
	}
	if cfg.Global.CleanupProbability != 5 {
		t.Fatalf("CleanupProbability 应当被保留")
	}
	if !filepath.IsAbs(cfg.Global.CacheDirectory) {
		t.Fatalf("CacheDirectory 应转换为绝对路径: %s", cfg.Global.CacheDirectory)
	}
	if cfg.Global.OriginTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("OriginTimeout 应该自动填充默认值")
	}
	if len(cfg.Pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(cfg.Pages))
	}
	if cfg.Pages[0].Mode != ModeFull {
		t.Fatalf("Mode 默认应为 full")
	}
	if cfg.EffectiveDuration(cfg.Pages[0]) != 10*time.Minute {
		t.Fatalf("页面未设置 Duration 时应退回全局值")
	}
	if cfg.EffectiveDuration(cfg.Pages[1]) != 10*time.Second {
		t.Fatalf("页面 Duration 覆盖应生效")
	}
	if got := cfg.PageDirectory(cfg.Pages[1]); got != filepath.Join(cfg.Global.CacheDirectory, "pages") {
		t.Fatalf("unexpected page directory %s", got)
	}
	if cfg.Pages[2].CacheEnabled() {
		t.Fatalf("Mode=none 应禁用缓存")
	}
}

func TestLoadAppliesBuiltinDefaults(t *testing.T) {
	path := writeConfig(t, `
[[Page]]
Action = "clock"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if g.ListenPort != 5000 || g.CacheDuration.DurationValue() != 86400*time.Second ||
		g.CleanupDuration.DurationValue() != 259200*time.Second || g.CleanupProbability != 1 {
		t.Fatalf("unexpected defaults: %+v", g)
	}
	if cfg.Pages[0].Page != "clock" {
		t.Fatalf("Page 缺省时应取 Action")
	}
}

func TestLoadKeepsZeroProbability(t *testing.T) {
	path := writeConfig(t, `
CleanupProbability = 0

[[Page]]
Action = "clock"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.CleanupProbability != 0 {
		t.Fatalf("显式 0 应关闭清理, got %d", cfg.Global.CleanupProbability)
	}
}

func TestValidateRequiresOriginForOriginPage(t *testing.T) {
	_, err := Load(fixturePath(t, "missing.toml"))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Page[docs].Origin" {
		t.Fatalf("expected origin field error, got %v", err)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidatePageFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(p *PageConfig)
		shouldErr bool
	}{
		{"ok", func(p *PageConfig) {}, false},
		{"unknown page", func(p *PageConfig) { p.Page = "nope" }, true},
		{"empty action", func(p *PageConfig) { p.Action = "" }, true},
		{"reserved action", func(p *PageConfig) { p.Action = "-" }, true},
		{"nested action", func(p *PageConfig) { p.Action = "a/b" }, true},
		{"bad mode", func(p *PageConfig) { p.Mode = "partial" }, true},
		{"escaping key", func(p *PageConfig) { p.Key = "../x.html" }, true},
		{"absolute directory", func(p *PageConfig) { p.Directory = "/etc" }, true},
		{"nested key ok", func(p *PageConfig) { p.Key = "a/b.html" }, false},
		{"bad origin", func(p *PageConfig) { p.Origin = "ftp://example.com" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Pages[0])
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRejectsDuplicateActions(t *testing.T) {
	cfg := validConfig()
	cfg.Pages = append(cfg.Pages, cfg.Pages[0])
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复 Action 应报错")
	}
}

func TestValidateCleanupProbabilityRange(t *testing.T) {
	for _, p := range []int{-1, 101} {
		cfg := validConfig()
		cfg.Global.CleanupProbability = p
		if err := cfg.Validate(); err == nil {
			t.Fatalf("CleanupProbability=%d 应报错", p)
		}
	}
}

func TestBuildPageRuntime(t *testing.T) {
	cfg := validConfig()
	cfg.Global.CacheDirectory = "/var/cache/pages"
	page := PageConfig{Action: "docs", Page: "origin", Mode: ModeFull, Origin: "https://example.com/base", Directory: "docs"}

	rt, err := cfg.BuildPageRuntime(page)
	if err != nil {
		t.Fatalf("BuildPageRuntime error: %v", err)
	}
	if rt.Page.Key != "origin" || rt.OriginURL == nil || rt.OriginURL.Host != "example.com" {
		t.Fatalf("unexpected runtime: %+v", rt)
	}
	if rt.Directory != filepath.Join("/var/cache/pages", "docs") || rt.Duration != time.Hour {
		t.Fatalf("unexpected directory/duration: %s %s", rt.Directory, rt.Duration)
	}
	if _, err := cfg.BuildPageRuntime(PageConfig{Page: "missing"}); err == nil {
		t.Fatalf("unregistered page should fail")
	}
}

func TestActions(t *testing.T) {
	got := Actions([]PageConfig{{Action: "a", Page: "clock"}, {Action: "b", Page: "index"}})
	if len(got) != 2 || got[0] != "a:clock" || got[1] != "b:index" {
		t.Fatalf("unexpected actions %v", got)
	}
	if Actions(nil) != nil {
		t.Fatalf("nil pages should yield nil")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			CacheDirectory:     "./data",
			CacheDuration:      Duration(time.Hour),
			CleanupDuration:    Duration(3 * time.Hour),
			CleanupProbability: 1,
			OriginTimeout:      Duration(time.Second),
		},
		Pages: []PageConfig{
			{
				Action: "clock",
				Page:   "clock",
				Mode:   ModeFull,
			},
		},
	}
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pagecache/internal/cache"
	"github.com/any-hub/pagecache/internal/config"
	"github.com/any-hub/pagecache/internal/dispatch"
	"github.com/any-hub/pagecache/internal/logging"
	"github.com/any-hub/pagecache/internal/server"
	"github.com/any-hub/pagecache/internal/server/routes"
	"github.com/any-hub/pagecache/internal/session"
	"github.com/any-hub/pagecache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["pages"] = len(cfg.Pages)
		fields["actions"] = config.Actions(cfg.Pages)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, err := buildApp(cfg, opts.configPath, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 遵循“配置 → PageRegistry → 磁盘缓存 → 会话 → Fiber server”顺序，
// 所有请求共享同一份路由、缓存与会话实例。
func buildApp(cfg *config.Config, configPath string, logger *logrus.Logger) (*fiber.App, error) {
	registry, err := server.NewPageRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建页面注册表失败: %w", err)
	}

	store, err := cache.NewStore(cfg.Global.CacheDirectory)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	handler := dispatch.NewHandler(server.NewOriginClient(cfg), logger, store, dispatch.Options{
		SingleFlight: cfg.Global.SingleFlight,
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    dispatch.NewForwarder(handler, logger),
		Sessions:   session.NewStore(cfg.Global.SessionLifetime.DurationValue()),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, registry)

	if cfg.Global.WatchConfig {
		if err := watchConfig(configPath, cfg, registry, logger); err != nil {
			return nil, err
		}
	}

	fields := logging.BaseFields("startup", configPath)
	fields["pages"] = len(cfg.Pages)
	fields["actions"] = config.Actions(cfg.Pages)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["single_flight"] = cfg.Global.SingleFlight
	fields["version"] = version.Full()
	for k, v := range cacheFields(cfg) {
		fields[k] = v
	}
	logger.WithFields(fields).Info("配置加载完成")
	return app, nil
}

// watchConfig 在配置文件变化时整体替换页面路由。缓存根目录、监听端口等进程级参数
// 需要重启才能生效，重载只记录警告。
func watchConfig(path string, current *config.Config, registry *server.PageRegistry, logger *logrus.Logger) error {
	return config.Watch(path, logger, func(next *config.Config) {
		if next.Global.CacheDirectory != current.Global.CacheDirectory ||
			next.Global.ListenPort != current.Global.ListenPort {
			logger.WithFields(logging.BaseFields("config_reload", path)).
				Warn("CacheDirectory/ListenPort 变更需要重启才能生效")
		}
		if err := registry.Replace(next); err != nil {
			logger.WithFields(logging.BaseFields("config_reload", path)).
				WithError(err).Error("页面路由替换失败，沿用旧配置")
			return
		}
		fields := logging.BaseFields("config_reload", path)
		fields["actions"] = config.Actions(next.Pages)
		logger.WithFields(fields).Info("页面路由已更新")
	})
}

func cacheFields(cfg *config.Config) logrus.Fields {
	return logging.CacheFields(
		cfg.Global.CacheDirectory,
		int64(cfg.Global.CacheDuration.DurationValue().Seconds()),
		int64(cfg.Global.CleanupDuration.DurationValue().Seconds()),
		cfg.Global.CleanupProbability,
	)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pagecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PAGECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PAGECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/stalegate/stalegate/internal/cache"
	"github.com/stalegate/stalegate/internal/config"
	"github.com/stalegate/stalegate/internal/logging"
	"github.com/stalegate/stalegate/internal/proxy"
	"github.com/stalegate/stalegate/internal/server"
	"github.com/stalegate/stalegate/internal/version"
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
		fields["upstream"] = cfg.Global.UpstreamAddr()
		fields["storage"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 上游客户端 → 网关 → Fiber server。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	gateway, err := buildGateway(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建网关失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["upstream"] = cfg.Global.UpstreamAddr()
	fields["upstream_h2c"] = cfg.Global.UpstreamH2C
	fields["cached_timeout"] = cfg.Global.CachedTimeout.DurationValue().String()
	fields["storage"] = cfg.Global.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, gateway, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func buildGateway(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*proxy.Gateway, error) {
	g := cfg.Global

	forwarder, err := proxy.NewForwarder(server.NewUpstreamClient(server.ClientOptions{H2C: g.UpstreamH2C}), g.UpstreamBaseURL())
	if err != nil {
		return nil, err
	}
	reconciler, err := proxy.NewReconciler(store, proxy.ReconcilerOptions{
		ExclusionPattern:   g.ExclusionPattern,
		ErrorStatusPattern: g.ErrorStatusPattern,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	return proxy.NewGateway(proxy.Options{
		Forwarder:     forwarder,
		Reconciler:    reconciler,
		Mapper:        cache.NewMapper(g.CacheFilePrefix, g.CacheFileSuffix),
		Store:         store,
		CachedTimeout: g.CachedTimeout.DurationValue(),
		Logger:        logger,
	})
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 两者都为空时只使用内置默认值。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("stalegate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 STALEGATE_CONFIG 提供，缺省使用内置默认值）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("STALEGATE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// newHTTPApp 按配置组装 Fiber 应用；CORS 仅在配置了来源时挂载。
func newHTTPApp(cfg *config.Config, proxyHandler server.ProxyHandler, logger *logrus.Logger) (*fiber.App, error) {
	appOpts := server.AppOptions{
		Logger:        logger,
		Proxy:         proxyHandler,
		ListenPort:    cfg.Global.ListenPort,
		MaxInFlight:   cfg.Global.MaxInFlight,
		EnableMetrics: cfg.Global.EnableMetrics,
	}
	if cfg.Global.CORSEnabled() {
		appOpts.CORSOrigins = cfg.Global.CORSOrigins
	}
	return server.NewApp(appOpts)
}

func startHTTPServer(cfg *config.Config, proxyHandler server.ProxyHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := newHTTPApp(cfg, proxyHandler, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

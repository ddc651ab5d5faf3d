package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"turtle-sentry/internal/cache"
	"turtle-sentry/internal/database"
	"turtle-sentry/internal/engine"
	"turtle-sentry/internal/fetcher"
	"turtle-sentry/internal/monitor"
	"turtle-sentry/internal/notifier"
	"turtle-sentry/internal/signals"
	"turtle-sentry/internal/websocket"
	"turtle-sentry/pkg/types"
)

// App 应用程序管理器
type App struct {
	config *types.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dbManager *database.Manager
	wsClient  *websocket.Client
	perfMon   *monitor.PerformanceMonitor
}

// NewApp 创建应用程序实例
func NewApp(config *types.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动应用程序
func (app *App) Start() {
	zap.L().Info("🚀 Turtle Sentry 启动中...")

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.runTurtleStrategy()
	}()

	zap.L().Info("✅ Turtle Sentry 已启动")
}

// Stop 停止应用程序
func (app *App) Stop() {
	zap.L().Info("🛑 收到停止信号，正在优雅关闭...")
	app.cancel()

	// 等待所有goroutine结束，最多等待30秒
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("✅ Turtle Sentry 已安全关闭")
	case <-time.After(30 * time.Second):
		zap.L().Warn("⚠️ 强制关闭超时")
	}

	if app.perfMon != nil {
		app.perfMon.Stop()
	}
	if app.wsClient != nil {
		app.wsClient.Close()
	}
	if app.dbManager != nil {
		app.dbManager.Close()
	}
}

// WaitForShutdown 等待关闭信号
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

// runTurtleStrategy 海龟策略主流程：历史回补、批量回放，可选实时订阅
func (app *App) runTurtleStrategy() {
	cfg := app.config

	// 根据配置选择通知服务（优先级：钉钉 > 控制台）
	var notifyService notifier.Interface
	if cfg.DingTalk.WebhookURL != "" {
		notifyService = notifier.NewDingTalkNotifier(cfg.DingTalk.WebhookURL, cfg.DingTalk.Secret)
	} else {
		notifyService = notifier.NewConsoleNotifier()
	}

	if cfg.Database.Enabled {
		manager, err := database.NewManager(cfg.Database.MySQL)
		if err != nil {
			zap.L().Error("❌ 初始化数据库失败，持久化已禁用", zap.Error(err))
		} else {
			app.dbManager = manager
		}
	}

	generator := signals.NewTurtleSignalGenerator(cfg.Strategy.Turtle)
	generator.SetCache(cache.NewIndicatorCache(cfg.Redis))

	turtleEngine := engine.NewTurtleEngine(cfg, generator, app.dbManager, notifyService)

	// 品种校验失败不致命，退回配置列表
	instruments := cfg.Data.Instruments
	marketFetcher := fetcher.NewMarketFetcher(cfg.Network)
	if valid, err := marketFetcher.ValidateInstruments(instruments); err != nil {
		zap.L().Warn("⚠️ 品种校验失败，使用配置品种列表", zap.Error(err))
	} else if len(valid) > 0 {
		instruments = valid
	}

	historyFetcher := fetcher.NewHistoryKlineFetcher(cfg.Network.Proxy, cfg.Network.Timeout)
	barsByInstrument, err := historyFetcher.FetchMultipleInstrumentsHistory(
		instruments, cfg.Data.Interval, cfg.Data.HistoryLimit)
	if err != nil {
		zap.L().Error("❌ 获取历史K线失败", zap.Error(err))
		return
	}

	if !cfg.Data.Live {
		signalsOut, errsOut := turtleEngine.ProcessAll(app.ctx, barsByInstrument)
		for instrument, runErr := range errsOut {
			zap.L().Error("品种回放失败",
				zap.String("instrument", instrument),
				zap.Error(runErr))
		}
		total := 0
		for _, sigs := range signalsOut {
			total += len(sigs)
		}
		zap.L().Info("📊 批量模式处理完成",
			zap.Int("instruments", len(signalsOut)),
			zap.Int("signals", total))
		return
	}

	// 实时模式：回放预热后订阅实时K线
	turtleEngine.BootstrapLive(barsByInstrument)

	app.perfMon = monitor.NewPerformanceMonitor(app.dbManager, turtleEngine, instruments)
	app.perfMon.Start()

	wsClient := websocket.NewClient(cfg.WebSocket.OKXEndpoint, cfg.Network.Proxy, cfg.WebSocket)
	if err := wsClient.Connect(); err != nil {
		zap.L().Error("❌ WebSocket连接失败", zap.Error(err))
		return
	}
	app.wsClient = wsClient

	if err := wsClient.Subscribe(instruments, cfg.Data.Interval); err != nil {
		zap.L().Error("❌ 订阅实时K线失败", zap.Error(err))
		return
	}
	wsClient.StartReading()

	turtleEngine.ProcessLive(app.ctx, wsClient.GetBarChannel())
}

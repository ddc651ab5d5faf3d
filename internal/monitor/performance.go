package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"turtle-sentry/internal/database"
	"turtle-sentry/internal/engine"
	"turtle-sentry/pkg/types"
)

// PerformanceMonitor 策略性能监控器
type PerformanceMonitor struct {
	dbManager   *database.Manager
	engine      *engine.TurtleEngine
	instruments []string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	metrics *PerformanceMetrics
}

// PerformanceMetrics 性能指标
type PerformanceMetrics struct {
	StartTime       time.Time                     `json:"start_time"`
	TotalSignals    int64                         `json:"total_signals"`
	EntrySignals    int64                         `json:"entry_signals"`
	PyramidSignals  int64                         `json:"pyramid_signals"`
	ExitSignals     int64                         `json:"exit_signals"`
	ProcessedBars   int64                         `json:"processed_bars"`
	SignalFrequency float64                       `json:"signal_frequency"` // 信号/小时
	InstrumentStats map[string]*InstrumentMetrics `json:"instrument_stats"`
	LastUpdateTime  time.Time                     `json:"last_update_time"`
}

// InstrumentMetrics 单个品种的性能指标
type InstrumentMetrics struct {
	Instrument      string    `json:"instrument"`
	TotalSignals    int       `json:"total_signals"`
	EntrySignals    int       `json:"entry_signals"`
	PyramidSignals  int       `json:"pyramid_signals"`
	ExitSignals     int       `json:"exit_signals"`
	LastSignalTime  time.Time `json:"last_signal_time"`
	LastSignalType  string    `json:"last_signal_type"`
	LastSignalPrice float64   `json:"last_signal_price"`
}

// NewPerformanceMonitor 创建性能监控器
func NewPerformanceMonitor(dbManager *database.Manager, eng *engine.TurtleEngine, instruments []string) *PerformanceMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &PerformanceMonitor{
		dbManager:   dbManager,
		engine:      eng,
		instruments: instruments,
		ctx:         ctx,
		cancel:      cancel,
		metrics: &PerformanceMetrics{
			StartTime:       time.Now(),
			InstrumentStats: make(map[string]*InstrumentMetrics),
		},
	}
}

// Start 启动性能监控
func (pm *PerformanceMonitor) Start() {
	zap.L().Info("📊 启动策略性能监控器")

	for _, instrument := range pm.instruments {
		pm.metrics.InstrumentStats[instrument] = &InstrumentMetrics{
			Instrument: instrument,
		}
	}

	go pm.monitorLoop()
	go pm.reportLoop()
}

// monitorLoop 监控循环
func (pm *PerformanceMonitor) monitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.updateMetrics()
		}
	}
}

// reportLoop 报告循环
func (pm *PerformanceMonitor) reportLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.generateReport()
		}
	}
}

// updateMetrics 更新性能指标
func (pm *PerformanceMonitor) updateMetrics() {
	engineStats := pm.engine.GetStats()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if processedBars, ok := engineStats["processed_bars"].(int64); ok {
		pm.metrics.ProcessedBars = processedBars
	}

	if emittedSignals, ok := engineStats["emitted_signals"].(int64); ok {
		pm.metrics.TotalSignals = emittedSignals
	}

	// 计算信号频率（信号/小时）
	runTime := time.Since(pm.metrics.StartTime).Hours()
	if runTime > 0 {
		pm.metrics.SignalFrequency = float64(pm.metrics.TotalSignals) / runTime
	}

	pm.updateInstrumentMetrics()

	pm.metrics.LastUpdateTime = time.Now()
}

// updateInstrumentMetrics 更新品种指标
func (pm *PerformanceMonitor) updateInstrumentMetrics() {
	if pm.dbManager == nil {
		zap.L().Debug("数据库管理器未初始化，跳过品种指标更新")
		return
	}

	pm.metrics.EntrySignals = 0
	pm.metrics.PyramidSignals = 0
	pm.metrics.ExitSignals = 0

	for _, instrument := range pm.instruments {
		signals, err := pm.dbManager.GetSignals(instrument, 100)
		if err != nil {
			zap.L().Warn("获取交易信号失败",
				zap.String("instrument", instrument),
				zap.Error(err))
			continue
		}

		if len(signals) == 0 {
			continue
		}

		instMetrics := pm.metrics.InstrumentStats[instrument]
		if instMetrics == nil {
			instMetrics = &InstrumentMetrics{Instrument: instrument}
			pm.metrics.InstrumentStats[instrument] = instMetrics
		}

		instMetrics.TotalSignals = len(signals)
		instMetrics.EntrySignals = 0
		instMetrics.PyramidSignals = 0
		instMetrics.ExitSignals = 0

		for _, signal := range signals {
			switch signal.SignalType {
			case string(types.SignalEntryLong):
				instMetrics.EntrySignals++
			case string(types.SignalPyramid):
				instMetrics.PyramidSignals++
			case string(types.SignalExit):
				instMetrics.ExitSignals++
			}
		}

		// 按时间倒序排列，第一个是最新的
		latest := signals[0]
		instMetrics.LastSignalTime = time.Unix(latest.SignalTime, 0)
		instMetrics.LastSignalType = latest.SignalType
		instMetrics.LastSignalPrice = latest.Price

		pm.metrics.EntrySignals += int64(instMetrics.EntrySignals)
		pm.metrics.PyramidSignals += int64(instMetrics.PyramidSignals)
		pm.metrics.ExitSignals += int64(instMetrics.ExitSignals)
	}
}

// generateReport 生成性能报告
func (pm *PerformanceMonitor) generateReport() {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	runTime := time.Since(pm.metrics.StartTime)

	zap.L().Info("📈 海龟策略性能报告",
		zap.Duration("run_time", runTime),
		zap.Int64("total_signals", pm.metrics.TotalSignals),
		zap.Int64("entry_signals", pm.metrics.EntrySignals),
		zap.Int64("pyramid_signals", pm.metrics.PyramidSignals),
		zap.Int64("exit_signals", pm.metrics.ExitSignals),
		zap.Float64("signal_frequency", pm.metrics.SignalFrequency),
		zap.Int64("processed_bars", pm.metrics.ProcessedBars))

	for instrument, metrics := range pm.metrics.InstrumentStats {
		if metrics.TotalSignals > 0 {
			zap.L().Info("📊 品种性能",
				zap.String("instrument", instrument),
				zap.Int("total_signals", metrics.TotalSignals),
				zap.Int("entry_signals", metrics.EntrySignals),
				zap.Int("pyramid_signals", metrics.PyramidSignals),
				zap.Int("exit_signals", metrics.ExitSignals),
				zap.Time("last_signal_time", metrics.LastSignalTime),
				zap.String("last_signal_type", metrics.LastSignalType),
				zap.Float64("last_signal_price", metrics.LastSignalPrice))
		}
	}
}

// GetMetrics 获取当前性能指标
func (pm *PerformanceMonitor) GetMetrics() *PerformanceMetrics {
	pm.updateMetrics()

	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.metrics
}

// GetMetricsJSON 获取JSON格式的性能指标
func (pm *PerformanceMonitor) GetMetricsJSON() (string, error) {
	metrics := pm.GetMetrics()

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// PrintFormattedReport 打印格式化报告
func (pm *PerformanceMonitor) PrintFormattedReport() {
	metrics := pm.GetMetrics()

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	runTime := time.Since(metrics.StartTime)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("📈 海龟突破策略性能报告")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("🕐 运行时间: %s\n", runTime.Truncate(time.Second))
	fmt.Printf("📊 处理K线: %d\n", metrics.ProcessedBars)
	fmt.Printf("🎯 总信号数: %d\n", metrics.TotalSignals)
	fmt.Printf("📈 入场信号: %d\n", metrics.EntrySignals)
	fmt.Printf("➕ 加仓信号: %d\n", metrics.PyramidSignals)
	fmt.Printf("📉 离场信号: %d\n", metrics.ExitSignals)
	fmt.Printf("🔄 信号频率: %.2f信号/小时\n", metrics.SignalFrequency)
	fmt.Println(strings.Repeat("-", 80))

	for instrument, instMetrics := range metrics.InstrumentStats {
		if instMetrics.TotalSignals > 0 {
			fmt.Printf("💹 %s: %d信号 最近: %s %s\n",
				instrument,
				instMetrics.TotalSignals,
				instMetrics.LastSignalType,
				instMetrics.LastSignalTime.Format("01-02 15:04"))
		}
	}

	fmt.Println(strings.Repeat("=", 80) + "\n")
}

// Stop 停止性能监控
func (pm *PerformanceMonitor) Stop() {
	zap.L().Info("🛑 停止策略性能监控器")
	pm.cancel()
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"turtle-sentry/internal/database"
	"turtle-sentry/internal/indicators"
	"turtle-sentry/internal/notifier"
	"turtle-sentry/internal/signals"
	"turtle-sentry/pkg/types"
)

const batchWorkers = 5

// TurtleEngine 海龟信号引擎
// 批量模式：跨品种并行回放历史K线；实时模式：按K线到达逐根推进状态机
// 品种之间完全独立，单品种的时间序错误不影响其他品种
type TurtleEngine struct {
	config    *types.Config
	generator *signals.TurtleSignalGenerator
	db        *database.Manager
	notifier  notifier.Interface

	// 实时模式的品种级缓冲与持仓状态
	buffers   map[string][]*types.Bar
	states    map[string]types.PositionState
	failed    map[string]bool
	maxBuffer int
	liveMu    sync.Mutex

	statsMu        sync.RWMutex
	processedBars  int64
	emittedSignals int64
	failedRuns     int64
	lastRunAt      time.Time
}

// NewTurtleEngine 创建信号引擎，db为nil则不持久化
func NewTurtleEngine(cfg *types.Config, generator *signals.TurtleSignalGenerator, db *database.Manager, notif notifier.Interface) *TurtleEngine {
	return &TurtleEngine{
		config:    cfg,
		generator: generator,
		db:        db,
		notifier:  notif,
		buffers:   make(map[string][]*types.Bar),
		states:    make(map[string]types.PositionState),
		failed:    make(map[string]bool),
		maxBuffer: indicators.RequiredBars(cfg.Strategy.Turtle) + 100,
	}
}

// ProcessAll 批量处理多品种历史K线
// 返回各品种的信号序列与各品种的错误；时间序错误只标记对应品种
func (e *TurtleEngine) ProcessAll(ctx context.Context, barsByInstrument map[string][]*types.Bar) (map[string][]*types.TradingSignal, map[string]error) {
	signalsOut := make(map[string][]*types.TradingSignal)
	errsOut := make(map[string]error)

	if len(barsByInstrument) == 0 {
		return signalsOut, errsOut
	}

	start := time.Now()
	zap.L().Info("🚀 开始批量信号计算",
		zap.Int("instruments", len(barsByInstrument)),
		zap.Int("workers", batchWorkers))

	jobs := make(chan string, len(barsByInstrument))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < batchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for instrument := range jobs {
				select {
				case <-ctx.Done():
					mu.Lock()
					errsOut[instrument] = ctx.Err()
					mu.Unlock()
					continue
				default:
				}

				result, err := e.runInstrument(instrument, barsByInstrument[instrument])

				mu.Lock()
				if err != nil {
					errsOut[instrument] = err
				} else {
					signalsOut[instrument] = result.Signals
				}
				mu.Unlock()
			}
		}()
	}

	for instrument := range barsByInstrument {
		jobs <- instrument
	}
	close(jobs)
	wg.Wait()

	total := 0
	for _, sigs := range signalsOut {
		total += len(sigs)
	}

	zap.L().Info("✅ 批量信号计算完成",
		zap.Int("instruments", len(barsByInstrument)),
		zap.Int("failed", len(errsOut)),
		zap.Int("signals", total),
		zap.Duration("elapsed", time.Since(start)))

	if e.notifier != nil && total > 0 {
		all := make([]*types.TradingSignal, 0, total)
		for _, sigs := range signalsOut {
			all = append(all, sigs...)
		}
		if err := e.notifier.NotifyBatch(all); err != nil {
			zap.L().Warn("发送批量信号通知失败", zap.Error(err))
		}
	}

	return signalsOut, errsOut
}

// runInstrument 单品种回放：生成信号、更新统计并按需持久化
func (e *TurtleEngine) runInstrument(instrument string, bars []*types.Bar) (*signals.RunResult, error) {
	result, err := e.generator.Run(instrument, bars)
	if err != nil {
		e.statsMu.Lock()
		e.failedRuns++
		e.statsMu.Unlock()

		zap.L().Error("🛑 品种处理失败",
			zap.String("instrument", instrument),
			zap.Error(err))
		return nil, err
	}

	e.statsMu.Lock()
	e.processedBars += int64(len(bars))
	e.emittedSignals += int64(len(result.Signals))
	e.lastRunAt = time.Now()
	e.statsMu.Unlock()

	e.persistRun(instrument, bars, result)
	return result, nil
}

// persistRun 持久化单品种的回放产物：K线、指标行、信号与仓位末态
func (e *TurtleEngine) persistRun(instrument string, bars []*types.Bar, result *signals.RunResult) {
	if e.db == nil {
		return
	}

	if err := e.db.BatchSaveBars(bars); err != nil {
		zap.L().Warn("保存K线数据失败", zap.String("instrument", instrument), zap.Error(err))
	}

	rows := indicators.BuildRows(instrument, bars, e.config.Strategy.Turtle)
	if err := e.db.SaveIndicatorRows(rows); err != nil {
		zap.L().Warn("保存指标行失败", zap.String("instrument", instrument), zap.Error(err))
	}

	for _, signal := range result.Signals {
		if err := e.db.SaveSignal(signal); err != nil {
			zap.L().Warn("保存交易信号失败", zap.String("instrument", instrument), zap.Error(err))
		}
		if err := e.db.UpdateDailyPerformance(signal); err != nil {
			zap.L().Warn("更新信号统计失败", zap.String("instrument", instrument), zap.Error(err))
		}
	}

	for i := range result.FinalStates {
		if err := e.db.SavePositionSnapshot(&result.FinalStates[i]); err != nil {
			zap.L().Warn("保存仓位快照失败", zap.String("instrument", instrument), zap.Error(err))
		}
	}
}

// SeedLive 实时模式启动前用历史K线预热缓冲区与持仓状态
// 历史回放的末态直接作为实时状态机的起点
func (e *TurtleEngine) SeedLive(instrument string, bars []*types.Bar, result *signals.RunResult) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()

	buf := bars
	if len(buf) > e.maxBuffer {
		buf = buf[len(buf)-e.maxBuffer:]
	}
	e.buffers[instrument] = append([]*types.Bar(nil), buf...)

	for _, st := range result.FinalStates {
		e.states[stateKey(instrument, st.System)] = st
	}
}

// BootstrapLive 逐品种回放历史K线并用末态预热实时状态机
// 回放失败的品种直接标记失效，不进入实时处理
func (e *TurtleEngine) BootstrapLive(barsByInstrument map[string][]*types.Bar) map[string][]*types.TradingSignal {
	signalsOut := make(map[string][]*types.TradingSignal)

	for instrument, bars := range barsByInstrument {
		result, err := e.runInstrument(instrument, bars)
		if err != nil {
			e.liveMu.Lock()
			e.failed[instrument] = true
			e.liveMu.Unlock()
			continue
		}

		e.SeedLive(instrument, bars, result)
		signalsOut[instrument] = result.Signals
	}

	zap.L().Info("✅ 实时状态机预热完成", zap.Int("instruments", len(signalsOut)))
	return signalsOut
}

// ProcessLive 消费实时K线流直到通道关闭或上下文取消
func (e *TurtleEngine) ProcessLive(ctx context.Context, barCh <-chan *types.Bar) {
	zap.L().Info("🚀 实时信号模式已启动", zap.Int("max_buffer", e.maxBuffer))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("🛑 实时信号模式停止")
			return
		case bar, ok := <-barCh:
			if !ok {
				zap.L().Info("🛑 实时K线通道已关闭")
				return
			}
			e.OnBar(bar)
		}
	}
}

// OnBar 处理一根实时K线，返回本根产生的信号
// 时间戳乱序或重复时标记该品种失效并停止后续处理
func (e *TurtleEngine) OnBar(bar *types.Bar) []*types.TradingSignal {
	if bar == nil {
		return nil
	}

	e.liveMu.Lock()
	defer e.liveMu.Unlock()

	instrument := bar.Instrument
	if e.failed[instrument] {
		return nil
	}

	buf := e.buffers[instrument]
	if len(buf) > 0 {
		last := buf[len(buf)-1]
		if !bar.Timestamp.After(last.Timestamp) {
			e.failed[instrument] = true
			orderErr := &signals.DataOrderingError{
				Instrument: instrument,
				Previous:   last.Timestamp,
				Current:    bar.Timestamp,
			}
			zap.L().Error("🛑 实时K线时间序非法，品种已停止处理",
				zap.String("instrument", instrument),
				zap.Error(orderErr))
			return nil
		}
	}

	clean, issues := indicators.ValidateBars([]*types.Bar{bar})
	for _, issue := range issues {
		zap.L().Warn("⚠️ 剔除畸形实时K线",
			zap.String("instrument", instrument),
			zap.Time("timestamp", issue.Timestamp),
			zap.String("reason", issue.Reason))
	}
	if len(clean) == 0 {
		return nil
	}

	buf = append(buf, bar)
	if len(buf) > e.maxBuffer {
		buf = buf[len(buf)-e.maxBuffer:]
	}
	e.buffers[instrument] = buf

	var emitted []*types.TradingSignal
	for _, system := range e.generator.Systems() {
		key := stateKey(instrument, system)
		st, ok := e.states[key]
		if !ok {
			st = signals.NewPositionState(instrument, system)
		}

		ind := e.generator.LatestIndicators(system, buf)
		newState, signal := e.generator.Next(system, st, bar, ind)
		e.states[key] = newState

		if signal != nil {
			emitted = append(emitted, signal)
		}
	}

	e.statsMu.Lock()
	e.processedBars++
	e.emittedSignals += int64(len(emitted))
	e.lastRunAt = time.Now()
	e.statsMu.Unlock()

	for _, signal := range emitted {
		zap.L().Info("📊 实时信号",
			zap.String("instrument", signal.Instrument),
			zap.String("system", string(signal.System)),
			zap.String("type", string(signal.Type)),
			zap.Float64("price", signal.Price))

		if e.notifier != nil {
			if err := e.notifier.NotifySignal(signal); err != nil {
				zap.L().Warn("发送实时信号通知失败", zap.Error(err))
			}
		}
		if e.db != nil {
			if err := e.db.SaveSignal(signal); err != nil {
				zap.L().Warn("保存实时信号失败", zap.Error(err))
			}
			if err := e.db.UpdateDailyPerformance(signal); err != nil {
				zap.L().Warn("更新信号统计失败", zap.Error(err))
			}
		}
	}

	if e.db != nil {
		for _, system := range e.generator.Systems() {
			st := e.states[stateKey(instrument, system)]
			if err := e.db.SavePositionSnapshot(&st); err != nil {
				zap.L().Warn("保存仓位快照失败", zap.Error(err))
			}
		}
	}

	return emitted
}

// PositionStates 返回实时模式当前各(品种,系统)的持仓状态快照
func (e *TurtleEngine) PositionStates() []types.PositionState {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()

	out := make([]types.PositionState, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st)
	}
	return out
}

// GetStats 引擎运行统计
func (e *TurtleEngine) GetStats() map[string]interface{} {
	// 与OnBar的加锁顺序一致：先liveMu后statsMu
	e.liveMu.Lock()
	failedInstruments := len(e.failed)
	bufferedInstruments := len(e.buffers)
	e.liveMu.Unlock()

	e.statsMu.RLock()
	defer e.statsMu.RUnlock()

	return map[string]interface{}{
		"processed_bars":       e.processedBars,
		"emitted_signals":      e.emittedSignals,
		"failed_runs":          e.failedRuns,
		"failed_instruments":   failedInstruments,
		"buffered_instruments": bufferedInstruments,
		"last_run_at":          e.lastRunAt.Format(time.RFC3339),
	}
}

func stateKey(instrument string, system types.SystemID) string {
	return fmt.Sprintf("%s|%s", instrument, system)
}

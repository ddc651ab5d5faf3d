package signals

import (
	"fmt"

	"go.uber.org/zap"
	"turtle-sentry/internal/indicators"
	"turtle-sentry/pkg/types"
)

// donchianOffset 突破判断排除当前K线，避免前视偏差
const donchianOffset = 1

// SeriesCache 指标序列缓存接口
// 键必须包含品种、指标类型、窗口长度与参数指纹，不能只按品种缓存
type SeriesCache interface {
	GetSeries(key string) ([]*float64, bool)
	PutSeries(key string, series []*float64)
}

// systemParams 单个交易系统的窗口参数与计算器
type systemParams struct {
	id          types.SystemID
	entryLength int
	exitLength  int
	entryCalc   *indicators.DonchianCalculator
	exitCalc    *indicators.DonchianCalculator
}

// BarIndicators 单根K线上一个系统所需的全部指标值
// 任一字段为nil表示历史不足，该K线对该系统不产生信号
type BarIndicators struct {
	EntryHigh *float64
	ExitLow   *float64
	ATR       *float64
}

// TurtleSignalGenerator 海龟突破信号生成器
// 每个(品种,系统)独立维护状态机：FLAT <-> LONG(1..maxUnits单元)
type TurtleSignalGenerator struct {
	config  types.TurtleConfig
	atrCalc *indicators.ATRCalculator
	systems []systemParams
	cache   SeriesCache
}

// NewTurtleSignalGenerator 创建信号生成器
func NewTurtleSignalGenerator(cfg types.TurtleConfig) *TurtleSignalGenerator {
	systems := []systemParams{
		{
			id:          types.SystemS1,
			entryLength: cfg.System1Length,
			exitLength:  cfg.ExitLengthS1,
			entryCalc:   indicators.NewDonchianCalculator(cfg.System1Length, donchianOffset),
			exitCalc:    indicators.NewDonchianCalculator(cfg.ExitLengthS1, donchianOffset),
		},
	}

	if cfg.UseSystem2 {
		systems = append(systems, systemParams{
			id:          types.SystemS2,
			entryLength: cfg.System2Length,
			exitLength:  cfg.ExitLengthS2,
			entryCalc:   indicators.NewDonchianCalculator(cfg.System2Length, donchianOffset),
			exitCalc:    indicators.NewDonchianCalculator(cfg.ExitLengthS2, donchianOffset),
		})
	}

	return &TurtleSignalGenerator{
		config:  cfg,
		atrCalc: indicators.NewATRCalculator(cfg.ATRPeriod),
		systems: systems,
	}
}

// SetCache 注入指标序列缓存，不注入则每次全量计算
func (g *TurtleSignalGenerator) SetCache(cache SeriesCache) {
	g.cache = cache
}

// Systems 返回启用的系统编号列表
func (g *TurtleSignalGenerator) Systems() []types.SystemID {
	ids := make([]types.SystemID, 0, len(g.systems))
	for _, sys := range g.systems {
		ids = append(ids, sys.id)
	}
	return ids
}

// RunResult 单品种处理结果
type RunResult struct {
	Signals     []*types.TradingSignal
	Issues      []indicators.BarIssue
	FinalStates []types.PositionState
}

// Run 对单个品种的完整K线序列按时间顺序生成信号
// 畸形K线被剔除并告警后继续；时间戳重复或乱序返回DataOrderingError
// 同一序列同一配置重放，输出逐位一致
func (g *TurtleSignalGenerator) Run(instrument string, bars []*types.Bar) (*RunResult, error) {
	clean, issues := indicators.ValidateBars(bars)
	for _, issue := range issues {
		zap.L().Warn("⚠️ 剔除畸形K线",
			zap.String("instrument", instrument),
			zap.Int("index", issue.Index),
			zap.Time("timestamp", issue.Timestamp),
			zap.String("reason", issue.Reason))
	}

	if err := CheckOrdering(instrument, clean); err != nil {
		return nil, err
	}

	result := &RunResult{Issues: issues}

	if len(clean) == 0 {
		for _, sys := range g.systems {
			result.FinalStates = append(result.FinalStates, NewPositionState(instrument, sys.id))
		}
		return result, nil
	}

	// 各系统独立的通道序列，ATR全系统共享
	atrs := g.cachedSeries(instrument, "atr", g.config.ATRPeriod, clean, func() []*float64 {
		return g.atrCalc.Series(clean)
	})

	type systemSeries struct {
		entryHighs []*float64
		exitLows   []*float64
	}
	series := make([]systemSeries, len(g.systems))
	for si, sys := range g.systems {
		sysCopy := sys
		series[si] = systemSeries{
			entryHighs: g.cachedSeries(instrument, "donchian_high", sys.entryLength, clean, func() []*float64 {
				return sysCopy.entryCalc.HighSeries(clean)
			}),
			exitLows: g.cachedSeries(instrument, "donchian_low", sys.exitLength, clean, func() []*float64 {
				return sysCopy.exitCalc.LowSeries(clean)
			}),
		}
	}

	states := make([]types.PositionState, len(g.systems))
	for si, sys := range g.systems {
		states[si] = NewPositionState(instrument, sys.id)
	}

	for i, bar := range clean {
		for si, sys := range g.systems {
			ind := BarIndicators{
				EntryHigh: series[si].entryHighs[i],
				ExitLow:   series[si].exitLows[i],
				ATR:       atrs[i],
			}

			newState, signal := g.Next(sys.id, states[si], bar, ind)
			states[si] = newState

			if signal != nil {
				result.Signals = append(result.Signals, signal)
			}
		}
	}

	result.FinalStates = states
	return result, nil
}

// Next 纯函数状态转移：状态+K线+指标进，新状态+信号（或nil）出
// 每根K线按固定优先级只评估一次：止损 > 超时 > 突破离场 > 加仓 > 入场
// 同一根K线离场后不再入场
func (g *TurtleSignalGenerator) Next(system types.SystemID, st types.PositionState, bar *types.Bar, ind BarIndicators) (types.PositionState, *types.TradingSignal) {
	// 任一指标未定义：历史不足，本根K线对该系统不产生信号
	if ind.EntryHigh == nil || ind.ExitLow == nil || ind.ATR == nil {
		if st.Status == types.PositionLong {
			st.BarsHeld++
		}
		return st, nil
	}

	close := bar.Close
	atr := *ind.ATR

	if st.Status == types.PositionLong {
		st.BarsHeld++

		// 1. 止损检查：资金保护优先于一切离场条件
		if close <= st.StopPrice {
			signal := g.exitSignal(st, bar, types.ExitStopHit, atr)
			return flatten(st), signal
		}

		// 2. 超时检查
		if st.BarsHeld >= g.config.MaxPositionTime {
			signal := g.exitSignal(st, bar, types.ExitTimeOut, atr)
			return flatten(st), signal
		}

		// 3. 突破离场检查：收盘价跌破离场窗口下轨
		if close < *ind.ExitLow {
			signal := g.exitSignal(st, bar, types.ExitBreakout, atr)
			return flatten(st), signal
		}

		// 4. 加仓检查：相对最近单元入场价上行pyramid_increment*ATR
		lastUnit := st.Units[len(st.Units)-1]
		threshold := lastUnit.EntryPrice + g.config.PyramidIncrement*atr
		if len(st.Units) < g.config.MaxUnitsPerPosition && close > threshold {
			newStop := close - g.config.StopATRMultiple*atr
			st = addUnit(st, close, bar.Timestamp, newStop)

			return st, &types.TradingSignal{
				Instrument: st.Instrument,
				System:     system,
				Type:       types.SignalPyramid,
				Price:      close,
				Timestamp:  bar.Timestamp,
				UnitIndex:  len(st.Units) - 1,
				StopPrice:  st.StopPrice,
				ATRValue:   atr,
			}
		}

		return st, nil
	}

	// 5. 入场检查：收盘价严格突破入场窗口上轨
	if close > *ind.EntryHigh {
		stop := close - g.config.StopATRMultiple*atr
		st = openLong(st, close, bar.Timestamp, stop)

		return st, &types.TradingSignal{
			Instrument: st.Instrument,
			System:     system,
			Type:       types.SignalEntryLong,
			Price:      close,
			Timestamp:  bar.Timestamp,
			UnitIndex:  0,
			StopPrice:  stop,
			ATRValue:   atr,
		}
	}

	return st, nil
}

// LatestIndicators 实时模式：从缓冲区尾部计算某系统当前K线的指标值
func (g *TurtleSignalGenerator) LatestIndicators(system types.SystemID, bars []*types.Bar) BarIndicators {
	var ind BarIndicators

	for _, sys := range g.systems {
		if sys.id != system {
			continue
		}
		if ch := sys.entryCalc.Calculate(bars); ch != nil {
			upper := ch.Upper
			ind.EntryHigh = &upper
		}
		if ch := sys.exitCalc.Calculate(bars); ch != nil {
			lower := ch.Lower
			ind.ExitLow = &lower
		}
	}

	ind.ATR = g.atrCalc.Calculate(bars)
	return ind
}

// exitSignal 构造离场信号，UnitIndex记录被平掉的单元数
func (g *TurtleSignalGenerator) exitSignal(st types.PositionState, bar *types.Bar, reason types.ExitReason, atr float64) *types.TradingSignal {
	return &types.TradingSignal{
		Instrument: st.Instrument,
		System:     st.System,
		Type:       types.SignalExit,
		ExitReason: reason,
		Price:      bar.Close,
		Timestamp:  bar.Timestamp,
		UnitIndex:  len(st.Units),
		StopPrice:  st.StopPrice,
		ATRValue:   atr,
	}
}

// cachedSeries 经缓存读写的指标序列计算
// 键包含品种、指标类型、窗口长度、参数指纹与序列末端，配置变化即失效
func (g *TurtleSignalGenerator) cachedSeries(instrument, kind string, length int, bars []*types.Bar, compute func() []*float64) []*float64 {
	if g.cache == nil {
		return compute()
	}

	key := fmt.Sprintf("turtle:ind:%s:%s:%d:%s:%d:%d",
		instrument, kind, length, g.fingerprint(), len(bars), bars[len(bars)-1].Timestamp.Unix())

	if series, ok := g.cache.GetSeries(key); ok && len(series) == len(bars) {
		return series
	}

	series := compute()
	g.cache.PutSeries(key, series)
	return series
}

// fingerprint 参与指标计算的配置参数指纹
func (g *TurtleSignalGenerator) fingerprint() string {
	return fmt.Sprintf("s1=%d,s2=%d,u2=%t,atr=%d,x1=%d,x2=%d,off=%d",
		g.config.System1Length,
		g.config.System2Length,
		g.config.UseSystem2,
		g.config.ATRPeriod,
		g.config.ExitLengthS1,
		g.config.ExitLengthS2,
		donchianOffset)
}

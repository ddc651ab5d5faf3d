package signals

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"turtle-sentry/pkg/types"
)

func testTurtleConfig() types.TurtleConfig {
	return types.TurtleConfig{
		System1Length:       20,
		System2Length:       55,
		UseSystem2:          false,
		ATRPeriod:           20,
		SMAWindow:           20,
		StopATRMultiple:     2.0,
		ExitLengthS1:        10,
		ExitLengthS2:        20,
		MaxUnitsPerPosition: 5,
		PyramidIncrement:    0.5,
		MaxPositionTime:     252,
	}
}

func barAt(i int, open, high, low, close float64) *types.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &types.Bar{
		Instrument: "BTC-USDT",
		Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     100,
		Interval:   "1D",
	}
}

func fptr(v float64) *float64 { return &v }

// breakoutScenario 上行21根：前20根最高价100..119，第21根收盘121突破
func breakoutScenario() []*types.Bar {
	bars := make([]*types.Bar, 0, 21)
	for i := 0; i < 20; i++ {
		high := 100.0 + float64(i)
		bars = append(bars, barAt(i, high-1.5, high, high-2, high-1))
	}
	bars = append(bars, barAt(20, 119, 122, 118, 121))
	return bars
}

func longState(entryPrice, stop float64, units, barsHeld int) types.PositionState {
	st := types.PositionState{
		Instrument: "BTC-USDT",
		System:     types.SystemS1,
		Status:     types.PositionLong,
		StopPrice:  stop,
		BarsHeld:   barsHeld,
	}
	for u := 0; u < units; u++ {
		st.Units = append(st.Units, types.PositionUnit{
			EntryPrice: entryPrice + float64(u),
			EntryTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return st
}

func TestRunEmitsEntryOnBreakout(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())
	bars := breakoutScenario()

	result, err := gen.Run("BTC-USDT", bars)
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)

	signal := result.Signals[0]
	assert.Equal(t, types.SignalEntryLong, signal.Type)
	assert.Equal(t, types.SystemS1, signal.System)
	assert.Equal(t, 121.0, signal.Price)
	assert.Equal(t, bars[20].Timestamp, signal.Timestamp)
	assert.Equal(t, 0, signal.UnitIndex)

	// ATR = (19*2 + 4)/20 = 2.1，止损 = 121 - 2*2.1
	assert.InDelta(t, 2.1, signal.ATRValue, 1e-9)
	assert.InDelta(t, 116.8, signal.StopPrice, 1e-9)

	require.Len(t, result.FinalStates, 1)
	final := result.FinalStates[0]
	assert.Equal(t, types.PositionLong, final.Status)
	assert.Len(t, final.Units, 1)
	assert.InDelta(t, 116.8, final.StopPrice, 1e-9)
}

func TestRunNoEntryAtExactChannelTouch(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 收盘价恰好等于前20根最高价，严格突破才入场
	bars := breakoutScenario()
	bars[20].Close = 119

	result, err := gen.Run("BTC-USDT", bars)
	require.NoError(t, err)
	assert.Empty(t, result.Signals)
	assert.Equal(t, types.PositionFlat, result.FinalStates[0].Status)
}

func TestRunBreakoutExitBelowExitLow(t *testing.T) {
	cfg := testTurtleConfig()
	cfg.StopATRMultiple = 10 // 止损拉远，确保离场由通道突破触发

	gen := NewTurtleSignalGenerator(cfg)
	bars := breakoutScenario()
	// 第22根收盘108，跌破前10根最低价109
	bars = append(bars, barAt(21, 110, 110, 107, 108))

	result, err := gen.Run("BTC-USDT", bars)
	require.NoError(t, err)
	require.Len(t, result.Signals, 2)

	exit := result.Signals[1]
	assert.Equal(t, types.SignalExit, exit.Type)
	assert.Equal(t, types.ExitBreakout, exit.ExitReason)
	assert.Equal(t, 108.0, exit.Price)
	assert.Equal(t, 1, exit.UnitIndex) // 被平掉的单元数

	assert.Equal(t, types.PositionFlat, result.FinalStates[0].Status)
	assert.Empty(t, result.FinalStates[0].Units)
}

func TestRunFlatSeriesNoSignals(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 恒定价格：ATR为0且收盘价永不严格突破上轨
	bars := make([]*types.Bar, 0, 60)
	for i := 0; i < 60; i++ {
		bars = append(bars, barAt(i, 100, 100, 100, 100))
	}

	result, err := gen.Run("BTC-USDT", bars)
	require.NoError(t, err)
	assert.Empty(t, result.Signals)
	assert.Equal(t, types.PositionFlat, result.FinalStates[0].Status)
}

func TestRunOrderingViolationFatal(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	bars := breakoutScenario()
	bars[10].Timestamp = bars[9].Timestamp // 时间戳重复

	result, err := gen.Run("BTC-USDT", bars)
	require.Error(t, err)
	assert.Nil(t, result)

	var orderErr *DataOrderingError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, "BTC-USDT", orderErr.Instrument)
}

func TestRunMalformedBarSkippedNonFatal(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 在序列头部插入一根畸形K线，剔除后结果与干净序列一致
	clean := breakoutScenario()
	dirty := make([]*types.Bar, 0, len(clean)+1)
	bad := barAt(0, 100, 101, 99, math.NaN())
	bad.Timestamp = clean[0].Timestamp.Add(-24 * time.Hour)
	dirty = append(dirty, bad)
	dirty = append(dirty, clean...)

	cleanResult, err := gen.Run("BTC-USDT", clean)
	require.NoError(t, err)

	dirtyResult, err := gen.Run("BTC-USDT", dirty)
	require.NoError(t, err)

	require.Len(t, dirtyResult.Issues, 1)
	assert.Equal(t, cleanResult.Signals, dirtyResult.Signals)
}

func TestRunDeterministicReplay(t *testing.T) {
	cfg := testTurtleConfig()
	cfg.UseSystem2 = true
	cfg.System2Length = 30
	cfg.ExitLengthS2 = 15

	// 长随机游走（固定种子式的确定性构造）
	bars := make([]*types.Bar, 0, 200)
	price := 100.0
	for i := 0; i < 200; i++ {
		step := float64((i*37)%13) - 6.0
		price += step * 0.3
		if price < 10 {
			price = 10
		}
		bars = append(bars, barAt(i, price-0.5, price+1, price-1, price))
	}

	gen1 := NewTurtleSignalGenerator(cfg)
	gen2 := NewTurtleSignalGenerator(cfg)

	r1, err := gen1.Run("BTC-USDT", bars)
	require.NoError(t, err)
	r2, err := gen2.Run("BTC-USDT", bars)
	require.NoError(t, err)

	assert.Equal(t, r1.Signals, r2.Signals)
	assert.Equal(t, r1.FinalStates, r2.FinalStates)
}

func TestRunSystemsIndependent(t *testing.T) {
	cfg := testTurtleConfig()
	cfg.UseSystem2 = true
	cfg.System2Length = 30
	cfg.ExitLengthS2 = 15

	gen := NewTurtleSignalGenerator(cfg)
	require.Equal(t, []types.SystemID{types.SystemS1, types.SystemS2}, gen.Systems())

	result, err := gen.Run("BTC-USDT", breakoutScenario())
	require.NoError(t, err)

	// 21根K线只够S1：S2窗口30根仍未就绪
	require.Len(t, result.Signals, 1)
	assert.Equal(t, types.SystemS1, result.Signals[0].System)

	require.Len(t, result.FinalStates, 2)
	assert.Equal(t, types.PositionLong, result.FinalStates[0].Status)
	assert.Equal(t, types.PositionFlat, result.FinalStates[1].Status)
}

func TestNextStopHitTakesPriorityOverBreakoutExit(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 收盘价同时跌破止损与离场下轨，止损优先
	st := longState(110, 100, 1, 3)
	bar := barAt(30, 100, 101, 98, 99)
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(105), ATR: fptr(2)}

	newState, signal := gen.Next(types.SystemS1, st, bar, ind)

	require.NotNil(t, signal)
	assert.Equal(t, types.SignalExit, signal.Type)
	assert.Equal(t, types.ExitStopHit, signal.ExitReason)
	assert.Equal(t, types.PositionFlat, newState.Status)
}

func TestNextStopHitAtExactStopPrice(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	st := longState(110, 100, 1, 3)
	bar := barAt(30, 100, 101, 99, 100) // 收盘价等于止损价
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(90), ATR: fptr(2)}

	_, signal := gen.Next(types.SystemS1, st, bar, ind)
	require.NotNil(t, signal)
	assert.Equal(t, types.ExitStopHit, signal.ExitReason)
}

func TestNextTimeExit(t *testing.T) {
	cfg := testTurtleConfig()
	cfg.MaxPositionTime = 5
	gen := NewTurtleSignalGenerator(cfg)

	st := longState(110, 100, 2, 4)
	bar := barAt(30, 112, 113, 111, 112)
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(105), ATR: fptr(2)}

	newState, signal := gen.Next(types.SystemS1, st, bar, ind)

	require.NotNil(t, signal)
	assert.Equal(t, types.SignalExit, signal.Type)
	assert.Equal(t, types.ExitTimeOut, signal.ExitReason)
	assert.Equal(t, 2, signal.UnitIndex)
	assert.Equal(t, types.PositionFlat, newState.Status)
}

func TestNextPyramidRequiresStrictThreshold(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 最近单元入场价100，阈值=100+0.5*2=101
	st := longState(100, 96, 1, 2)
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(90), ATR: fptr(2)}

	// 恰好等于阈值不加仓
	_, signal := gen.Next(types.SystemS1, st, barAt(30, 101, 102, 100, 101), ind)
	assert.Nil(t, signal)

	// 严格高于阈值加仓
	newState, signal := gen.Next(types.SystemS1, st, barAt(30, 101, 102, 100, 101.5), ind)
	require.NotNil(t, signal)
	assert.Equal(t, types.SignalPyramid, signal.Type)
	assert.Equal(t, 1, signal.UnitIndex)
	assert.Len(t, newState.Units, 2)

	// 新止损 = 101.5 - 2*2 = 97.5，高于原止损96，收紧
	assert.InDelta(t, 97.5, newState.StopPrice, 1e-9)
}

func TestNextStopNeverLoosens(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 原止损99高于加仓计算出的新止损97.5，保持99
	st := longState(100, 99, 1, 2)
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(90), ATR: fptr(2)}

	newState, signal := gen.Next(types.SystemS1, st, barAt(30, 101, 102, 100.5, 101.5), ind)
	require.NotNil(t, signal)
	assert.Equal(t, 99.0, newState.StopPrice)
}

func TestNextMaxUnitsCap(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 已满5单元，远超阈值也不再加仓
	st := longState(100, 96, 5, 10)
	ind := BarIndicators{EntryHigh: fptr(200), ExitLow: fptr(90), ATR: fptr(2)}

	newState, signal := gen.Next(types.SystemS1, st, barAt(30, 150, 151, 149, 150), ind)
	assert.Nil(t, signal)
	assert.Len(t, newState.Units, 5)
}

func TestNextNoSignalWhenIndicatorsUndefined(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	flat := NewPositionState("BTC-USDT", types.SystemS1)
	bar := barAt(5, 100, 101, 99, 100)

	_, signal := gen.Next(types.SystemS1, flat, bar, BarIndicators{})
	assert.Nil(t, signal)

	// 持仓中指标缺失仍推进持仓计数
	st := longState(100, 96, 1, 2)
	newState, signal := gen.Next(types.SystemS1, st, bar, BarIndicators{ATR: fptr(2)})
	assert.Nil(t, signal)
	assert.Equal(t, 3, newState.BarsHeld)
}

func TestNextNoReentryAfterSameBarExit(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 收盘价同时跌破止损且高于入场上轨不可能，但离场后的状态转移只发生一次：
	// 离场信号返回后本根K线不再评估入场
	st := longState(110, 100, 1, 3)
	bar := barAt(30, 99, 100, 98, 99)
	ind := BarIndicators{EntryHigh: fptr(98), ExitLow: fptr(105), ATR: fptr(2)}

	newState, signal := gen.Next(types.SystemS1, st, bar, ind)
	require.NotNil(t, signal)
	assert.Equal(t, types.SignalExit, signal.Type)
	assert.Equal(t, types.PositionFlat, newState.Status)
}

func TestNextValueSemantics(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	st := longState(100, 96, 1, 2)
	ind := BarIndicators{EntryHigh: fptr(120), ExitLow: fptr(90), ATR: fptr(2)}

	_, _ = gen.Next(types.SystemS1, st, barAt(30, 101, 102, 100, 101.5), ind)

	// 入参状态不被修改
	assert.Len(t, st.Units, 1)
	assert.Equal(t, 96.0, st.StopPrice)
	assert.Equal(t, 2, st.BarsHeld)
}

func TestRunStopMonotonicWhileLong(t *testing.T) {
	gen := NewTurtleSignalGenerator(testTurtleConfig())

	// 入场后继续上行触发多次加仓，全程跟踪止损不回落
	bars := breakoutScenario()
	price := 121.0
	for i := 21; i < 40; i++ {
		price += 2.5
		bars = append(bars, barAt(i, price-1, price+1, price-1.5, price))
	}

	result, err := gen.Run("BTC-USDT", bars)
	require.NoError(t, err)
	require.NotEmpty(t, result.Signals)

	lastStop := 0.0
	for _, signal := range result.Signals {
		if signal.Type == types.SignalExit {
			lastStop = 0
			continue
		}
		assert.GreaterOrEqual(t, signal.StopPrice, lastStop,
			"止损回落: %s %s", signal.Type, signal.Timestamp)
		lastStop = signal.StopPrice
	}

	// 持续上行应触发加仓
	pyramids := 0
	for _, signal := range result.Signals {
		if signal.Type == types.SignalPyramid {
			pyramids++
		}
	}
	assert.Greater(t, pyramids, 0)

	final := result.FinalStates[0]
	if final.Status == types.PositionLong {
		assert.LessOrEqual(t, len(final.Units), 5)
	}
}

type mapCache struct {
	data map[string][]*float64
	hits int
	puts int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]*float64)}
}

func (m *mapCache) GetSeries(key string) ([]*float64, bool) {
	series, ok := m.data[key]
	if ok {
		m.hits++
	}
	return series, ok
}

func (m *mapCache) PutSeries(key string, series []*float64) {
	m.puts++
	m.data[key] = series
}

func TestRunCacheKeyIncludesParams(t *testing.T) {
	bars := breakoutScenario()
	c := newMapCache()

	gen1 := NewTurtleSignalGenerator(testTurtleConfig())
	gen1.SetCache(c)
	r1, err := gen1.Run("BTC-USDT", bars)
	require.NoError(t, err)
	firstPuts := c.puts
	assert.Greater(t, firstPuts, 0)

	// 同配置重放命中缓存，结果一致
	r2, err := gen1.Run("BTC-USDT", bars)
	require.NoError(t, err)
	assert.Equal(t, r1.Signals, r2.Signals)
	assert.Greater(t, c.hits, 0)
	assert.Equal(t, firstPuts, c.puts)

	// 参数变化生成新键，不复用旧结果
	cfg := testTurtleConfig()
	cfg.System1Length = 10
	cfg.ExitLengthS1 = 5
	gen2 := NewTurtleSignalGenerator(cfg)
	gen2.SetCache(c)
	_, err = gen2.Run("BTC-USDT", bars)
	require.NoError(t, err)
	assert.Greater(t, c.puts, firstPuts)
}

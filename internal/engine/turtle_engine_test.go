package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"turtle-sentry/internal/signals"
	"turtle-sentry/pkg/types"
)

func testConfig() *types.Config {
	return &types.Config{
		Strategy: types.StrategyConfig{
			Turtle: types.TurtleConfig{
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
			},
		},
	}
}

func testBar(instrument string, i int, open, high, low, close float64) *types.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &types.Bar{
		Instrument: instrument,
		Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     100,
		Interval:   "1D",
	}
}

// breakoutBars 前20根最高价100..119，第21根收盘121突破入场
func breakoutBars(instrument string) []*types.Bar {
	bars := make([]*types.Bar, 0, 21)
	for i := 0; i < 20; i++ {
		high := 100.0 + float64(i)
		bars = append(bars, testBar(instrument, i, high-1.5, high, high-2, high-1))
	}
	bars = append(bars, testBar(instrument, 20, 119, 122, 118, 121))
	return bars
}

func newTestEngine() *TurtleEngine {
	cfg := testConfig()
	generator := signals.NewTurtleSignalGenerator(cfg.Strategy.Turtle)
	return NewTurtleEngine(cfg, generator, nil, nil)
}

func TestProcessAllPerInstrumentIsolation(t *testing.T) {
	eng := newTestEngine()

	goodBars := breakoutBars("BTC-USDT")
	badBars := breakoutBars("ETH-USDT")
	badBars[5].Timestamp = badBars[4].Timestamp // 时间序非法

	signalsOut, errsOut := eng.ProcessAll(context.Background(), map[string][]*types.Bar{
		"BTC-USDT": goodBars,
		"ETH-USDT": badBars,
	})

	// 坏品种只影响自己
	require.Len(t, errsOut, 1)
	var orderErr *signals.DataOrderingError
	require.ErrorAs(t, errsOut["ETH-USDT"], &orderErr)

	require.Contains(t, signalsOut, "BTC-USDT")
	require.Len(t, signalsOut["BTC-USDT"], 1)
	assert.Equal(t, types.SignalEntryLong, signalsOut["BTC-USDT"][0].Type)
}

func TestProcessAllDeterministicAcrossRuns(t *testing.T) {
	barsByInstrument := map[string][]*types.Bar{
		"BTC-USDT": breakoutBars("BTC-USDT"),
		"ETH-USDT": breakoutBars("ETH-USDT"),
		"SOL-USDT": breakoutBars("SOL-USDT"),
	}

	r1, errs1 := newTestEngine().ProcessAll(context.Background(), barsByInstrument)
	r2, errs2 := newTestEngine().ProcessAll(context.Background(), barsByInstrument)

	assert.Empty(t, errs1)
	assert.Empty(t, errs2)
	assert.Equal(t, r1, r2)
}

func TestProcessAllEmptyInput(t *testing.T) {
	eng := newTestEngine()

	signalsOut, errsOut := eng.ProcessAll(context.Background(), nil)
	assert.Empty(t, signalsOut)
	assert.Empty(t, errsOut)
}

func TestEngineStats(t *testing.T) {
	eng := newTestEngine()

	_, _ = eng.ProcessAll(context.Background(), map[string][]*types.Bar{
		"BTC-USDT": breakoutBars("BTC-USDT"),
	})

	stats := eng.GetStats()
	assert.Equal(t, int64(21), stats["processed_bars"])
	assert.Equal(t, int64(1), stats["emitted_signals"])
	assert.Equal(t, int64(0), stats["failed_runs"])
}

func TestOnBarAdvancesLiveState(t *testing.T) {
	eng := newTestEngine()

	// 预热：逐根喂入前20根，无信号
	bars := breakoutBars("BTC-USDT")
	for _, bar := range bars[:20] {
		emitted := eng.OnBar(bar)
		assert.Empty(t, emitted)
	}

	// 第21根突破入场
	emitted := eng.OnBar(bars[20])
	require.Len(t, emitted, 1)
	assert.Equal(t, types.SignalEntryLong, emitted[0].Type)
	assert.Equal(t, 121.0, emitted[0].Price)

	states := eng.PositionStates()
	require.Len(t, states, 1)
	assert.Equal(t, types.PositionLong, states[0].Status)
}

func TestOnBarOrderingViolationStopsInstrument(t *testing.T) {
	eng := newTestEngine()

	bars := breakoutBars("BTC-USDT")
	for _, bar := range bars[:20] {
		eng.OnBar(bar)
	}

	// 重复时间戳：该品种被标记失效
	dup := testBar("BTC-USDT", 19, 119, 122, 118, 121)
	assert.Empty(t, eng.OnBar(dup))

	// 随后即使时间序恢复也不再处理
	assert.Empty(t, eng.OnBar(bars[20]))

	// 其他品种不受影响
	other := breakoutBars("ETH-USDT")
	for _, bar := range other[:20] {
		eng.OnBar(bar)
	}
	assert.Len(t, eng.OnBar(other[20]), 1)
}

func TestOnBarLiveMatchesBatchReplay(t *testing.T) {
	bars := breakoutBars("BTC-USDT")

	// 批量回放
	cfg := testConfig()
	generator := signals.NewTurtleSignalGenerator(cfg.Strategy.Turtle)
	batchResult, err := generator.Run("BTC-USDT", bars)
	require.NoError(t, err)

	// 逐根实时喂入
	eng := newTestEngine()
	var liveSignals []*types.TradingSignal
	for _, bar := range bars {
		liveSignals = append(liveSignals, eng.OnBar(bar)...)
	}

	assert.Equal(t, batchResult.Signals, liveSignals)
}

func TestBootstrapLiveSeedsStates(t *testing.T) {
	eng := newTestEngine()
	bars := breakoutBars("BTC-USDT")

	signalsOut := eng.BootstrapLive(map[string][]*types.Bar{"BTC-USDT": bars})
	require.Len(t, signalsOut["BTC-USDT"], 1)

	// 预热后的状态机直接接力实时K线：持仓中，无需重复入场
	states := eng.PositionStates()
	require.Len(t, states, 1)
	assert.Equal(t, types.PositionLong, states[0].Status)

	next := testBar("BTC-USDT", 21, 121, 123, 120, 122)
	emitted := eng.OnBar(next)
	for _, signal := range emitted {
		assert.NotEqual(t, types.SignalEntryLong, signal.Type)
	}
}

func TestProcessLiveStopsOnContextCancel(t *testing.T) {
	eng := newTestEngine()

	ctx, cancel := context.WithCancel(context.Background())
	barCh := make(chan *types.Bar)

	done := make(chan struct{})
	go func() {
		eng.ProcessLive(ctx, barCh)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessLive未随上下文取消退出")
	}
}

package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"turtle-sentry/pkg/types"
)

func TestATRSeriesUndefinedUntilPeriodSamples(t *testing.T) {
	calc := NewATRCalculator(20)
	bars := risingBars(25, 100)

	series := calc.Series(bars)
	require.Len(t, series, 25)

	// 真实波幅从第2根K线开始，第period个样本出现在第period根K线
	for i := 0; i < 20; i++ {
		assert.Nil(t, series[i], "index %d", i)
	}
	for i := 20; i < 25; i++ {
		assert.NotNil(t, series[i], "index %d", i)
	}
}

func TestATRKnownValues(t *testing.T) {
	calc := NewATRCalculator(3)

	// 每根K线: hl=2, |h-prevC|=1, |l-prevC|=1 → TR=2
	bars := risingBars(10, 100)
	series := calc.Series(bars)

	for i := 3; i < 10; i++ {
		require.NotNil(t, series[i], "index %d", i)
		assert.InDelta(t, 2.0, *series[i], 1e-9, "index %d", i)
	}
}

func TestATRGapDominatesTrueRange(t *testing.T) {
	calc := NewATRCalculator(2)

	// 第3根跳空高开，|high-prevClose|大于high-low
	bars := []*types.Bar{
		barAt(0, 100, 101, 99, 100),
		barAt(1, 100, 101, 99, 100), // TR = max(2,1,1) = 2
		barAt(2, 110, 111, 109, 110), // TR = max(2,11,9) = 11
	}

	series := calc.Series(bars)
	require.NotNil(t, series[2])
	assert.InDelta(t, 6.5, *series[2], 1e-9)
}

func TestATRFlatSeriesIsZero(t *testing.T) {
	calc := NewATRCalculator(5)

	bars := make([]*types.Bar, 0, 10)
	for i := 0; i < 10; i++ {
		bars = append(bars, barAt(i, 100, 100, 100, 100))
	}

	series := calc.Series(bars)
	require.NotNil(t, series[9])
	assert.Zero(t, *series[9])
}

func TestATRCalculateMatchesSeriesTail(t *testing.T) {
	calc := NewATRCalculator(20)
	bars := risingBars(40, 100)

	latest := calc.Calculate(bars)
	series := calc.Series(bars)

	require.NotNil(t, latest)
	require.NotNil(t, series[39])
	assert.InDelta(t, *series[39], *latest, 1e-9)
}

func TestATRCalculateInsufficientHistory(t *testing.T) {
	calc := NewATRCalculator(20)
	assert.Nil(t, calc.Calculate(risingBars(20, 100)))
	assert.NotNil(t, calc.Calculate(risingBars(21, 100)))
}

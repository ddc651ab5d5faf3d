package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"turtle-sentry/pkg/types"
)

func TestValidateBarsRemovesMalformed(t *testing.T) {
	nanBar := barAt(2, 100, 101, 99, math.NaN())
	invertedBar := barAt(3, 100, 99, 101, 100)
	negativeBar := barAt(4, -1, 101, 99, 100)

	bars := []*types.Bar{
		barAt(0, 100, 101, 99, 100),
		nil,
		nanBar,
		invertedBar,
		negativeBar,
		barAt(5, 100, 101, 99, 100),
	}

	clean, issues := ValidateBars(bars)

	require.Len(t, clean, 2)
	require.Len(t, issues, 4)

	assert.Equal(t, 1, issues[0].Index)
	assert.Equal(t, 2, issues[1].Index)
	assert.Equal(t, 3, issues[2].Index)
	assert.Equal(t, 4, issues[3].Index)
}

func TestValidateBarsAcceptsZeroVolume(t *testing.T) {
	bar := barAt(0, 100, 101, 99, 100)
	bar.Volume = 0

	clean, issues := ValidateBars([]*types.Bar{bar})
	assert.Len(t, clean, 1)
	assert.Empty(t, issues)
}

func TestValidateBarsRejectsInfiniteValues(t *testing.T) {
	bar := barAt(0, 100, math.Inf(1), 99, 100)

	clean, issues := ValidateBars([]*types.Bar{bar})
	assert.Empty(t, clean)
	require.Len(t, issues, 1)
}

func TestBuildRowsAlignment(t *testing.T) {
	cfg := types.TurtleConfig{
		System1Length: 20,
		System2Length: 55,
		ATRPeriod:     20,
		SMAWindow:     20,
	}

	bars := risingBars(30, 100)
	rows := BuildRows("BTC-USDT", bars, cfg)

	require.Len(t, rows, 30)
	assert.Equal(t, bars[0].Timestamp, rows[0].Timestamp)

	// 历史不足处指标列为nil
	assert.Nil(t, rows[10].DonchianHigh)
	assert.Nil(t, rows[10].ATR)

	require.NotNil(t, rows[29].DonchianHigh)
	require.NotNil(t, rows[29].DonchianLow)
	require.NotNil(t, rows[29].ATR)
	require.NotNil(t, rows[29].SMA)
	assert.Equal(t, bars[28].High, *rows[29].DonchianHigh)
}

func TestRequiredBars(t *testing.T) {
	cfg := types.TurtleConfig{
		System1Length: 20,
		System2Length: 55,
		UseSystem2:    true,
		ATRPeriod:     20,
		SMAWindow:     20,
	}
	assert.Equal(t, 56, RequiredBars(cfg))

	cfg.UseSystem2 = false
	assert.Equal(t, 22, RequiredBars(cfg))
}

package indicators

import (
	"math"

	"turtle-sentry/pkg/types"
)

// ATRCalculator ATR指标计算器
// ATR为最近period个真实波幅的滚动均值，恒为非负
type ATRCalculator struct {
	period int
}

// NewATRCalculator 创建ATR计算器
func NewATRCalculator(period int) *ATRCalculator {
	return &ATRCalculator{
		period: period,
	}
}

// trueRangeAt 第i根K线的真实波幅
// 真实波幅 = max(high-low, |high-prevClose|, |low-prevClose|)，首根K线无前收盘价
func (ac *ATRCalculator) trueRangeAt(bars []*types.Bar, i int) (float64, bool) {
	if i < 1 || i >= len(bars) {
		return 0, false
	}

	current := bars[i]
	previous := bars[i-1]

	hl := current.High - current.Low
	hc := math.Abs(current.High - previous.Close)
	lc := math.Abs(current.Low - previous.Close)

	return math.Max(hl, math.Max(hc, lc)), true
}

// Series 与K线逐根对齐的ATR序列
// 第i根K线的ATR为tr[i-period+1..i]的均值，需要period个真实波幅样本，
// 因此前period根K线处为nil
func (ac *ATRCalculator) Series(bars []*types.Bar) []*float64 {
	series := make([]*float64, len(bars))
	if len(bars) < 2 {
		return series
	}

	// 滑动窗口累加，避免每根K线重算整个窗口
	var sum float64
	count := 0

	for i := 1; i < len(bars); i++ {
		tr, _ := ac.trueRangeAt(bars, i)
		sum += tr
		count++

		if count > ac.period {
			old, _ := ac.trueRangeAt(bars, i-ac.period)
			sum -= old
			count--
		}

		if count == ac.period {
			atr := sum / float64(ac.period)
			series[i] = &atr
		}
	}

	return series
}

// Calculate 计算最新一根K线对应的ATR值，历史不足时返回nil
func (ac *ATRCalculator) Calculate(bars []*types.Bar) *float64 {
	if len(bars) < ac.period+1 {
		return nil
	}

	var sum float64
	for i := len(bars) - ac.period; i < len(bars); i++ {
		tr, ok := ac.trueRangeAt(bars, i)
		if !ok {
			return nil
		}
		sum += tr
	}

	atr := sum / float64(ac.period)
	return &atr
}

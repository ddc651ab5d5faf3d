package indicators

import (
	"turtle-sentry/pkg/types"
)

// SMACalculator 简单移动平均计算器
type SMACalculator struct {
	window int
}

// NewSMACalculator 创建SMA计算器
func NewSMACalculator(window int) *SMACalculator {
	return &SMACalculator{
		window: window,
	}
}

// Series 与K线逐根对齐的收盘价均线序列，前window-1根为nil
func (sc *SMACalculator) Series(bars []*types.Bar) []*float64 {
	series := make([]*float64, len(bars))
	if sc.window <= 0 {
		return series
	}

	var sum float64
	for i := range bars {
		sum += bars[i].Close
		if i >= sc.window {
			sum -= bars[i-sc.window].Close
		}

		if i >= sc.window-1 {
			sma := sum / float64(sc.window)
			series[i] = &sma
		}
	}

	return series
}

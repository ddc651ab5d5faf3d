package indicators

import (
	"turtle-sentry/pkg/types"
)

// DonchianCalculator 唐奇安通道计算器
// offset为窗口相对当前K线的偏移，取1表示窗口不含当前K线，
// 突破判断时避免前视偏差（当前收盘价不参与自己要突破的通道）
type DonchianCalculator struct {
	length int
	offset int
}

// NewDonchianCalculator 创建唐奇安通道计算器
func NewDonchianCalculator(length, offset int) *DonchianCalculator {
	return &DonchianCalculator{
		length: length,
		offset: offset,
	}
}

// Calculate 计算最新一根K线对应的唐奇安通道
// 历史不足时返回nil
func (dc *DonchianCalculator) Calculate(bars []*types.Bar) *types.DonchianChannel {
	if len(bars) < dc.length+dc.offset {
		return nil
	}

	start := len(bars) - dc.length - dc.offset
	end := len(bars) - dc.offset

	return dc.window(bars, start, end)
}

// HighSeries 与K线逐根对齐的上轨序列，历史不足处为nil
func (dc *DonchianCalculator) HighSeries(bars []*types.Bar) []*float64 {
	series := make([]*float64, len(bars))
	for i := range bars {
		if ch := dc.channelAt(bars, i); ch != nil {
			upper := ch.Upper
			series[i] = &upper
		}
	}
	return series
}

// LowSeries 与K线逐根对齐的下轨序列，历史不足处为nil
func (dc *DonchianCalculator) LowSeries(bars []*types.Bar) []*float64 {
	series := make([]*float64, len(bars))
	for i := range bars {
		if ch := dc.channelAt(bars, i); ch != nil {
			lower := ch.Lower
			series[i] = &lower
		}
	}
	return series
}

// channelAt 第i根K线对应的通道：窗口为bars[i-offset-length+1 .. i-offset]
func (dc *DonchianCalculator) channelAt(bars []*types.Bar, i int) *types.DonchianChannel {
	start := i - dc.offset - dc.length + 1
	end := i - dc.offset + 1
	if start < 0 {
		return nil
	}
	return dc.window(bars, start, end)
}

// window 计算[start,end)范围内的最高价和最低价
func (dc *DonchianCalculator) window(bars []*types.Bar, start, end int) *types.DonchianChannel {
	if start < 0 || end > len(bars) || start >= end {
		return nil
	}

	highest := bars[start].High
	lowest := bars[start].Low

	for i := start + 1; i < end; i++ {
		if bars[i].High > highest {
			highest = bars[i].High
		}
		if bars[i].Low < lowest {
			lowest = bars[i].Low
		}
	}

	return &types.DonchianChannel{
		Upper:  highest,
		Lower:  lowest,
		Middle: (highest + lowest) / 2,
	}
}

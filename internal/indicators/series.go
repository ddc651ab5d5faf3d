package indicators

import (
	"turtle-sentry/pkg/types"
)

// donchianOffset 突破判断统一排除当前K线
const donchianOffset = 1

// BuildRows 生成与K线逐根对齐的指标行，供持久化与缓存使用
// 入参应为已通过ValidateBars清洗的序列
func BuildRows(instrument string, bars []*types.Bar, cfg types.TurtleConfig) []*types.IndicatorRow {
	donchianCalc := NewDonchianCalculator(cfg.System1Length, donchianOffset)
	atrCalc := NewATRCalculator(cfg.ATRPeriod)
	smaCalc := NewSMACalculator(cfg.SMAWindow)

	highs := donchianCalc.HighSeries(bars)
	lows := donchianCalc.LowSeries(bars)
	atrs := atrCalc.Series(bars)
	smas := smaCalc.Series(bars)

	rows := make([]*types.IndicatorRow, len(bars))
	for i, bar := range bars {
		rows[i] = &types.IndicatorRow{
			Instrument:   instrument,
			Timestamp:    bar.Timestamp,
			DonchianHigh: highs[i],
			DonchianLow:  lows[i],
			ATR:          atrs[i],
			SMA:          smas[i],
		}
	}

	return rows
}

// RequiredBars 指标全部就绪所需的最小K线数量
func RequiredBars(cfg types.TurtleConfig) int {
	required := cfg.System1Length
	if cfg.UseSystem2 && cfg.System2Length > required {
		required = cfg.System2Length
	}
	if cfg.ATRPeriod+1 > required {
		required = cfg.ATRPeriod + 1
	}
	if cfg.SMAWindow > required {
		required = cfg.SMAWindow
	}
	// 唐奇安通道窗口不含当前K线，额外加一根
	return required + donchianOffset
}

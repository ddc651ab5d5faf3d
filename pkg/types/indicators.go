package types

import "time"

// DonchianChannel 唐奇安通道数据
type DonchianChannel struct {
	Upper  float64 `json:"upper"`  // 上轨：回看窗口内最高价
	Lower  float64 `json:"lower"`  // 下轨：回看窗口内最低价
	Middle float64 `json:"middle"` // 中轨
}

// IndicatorRow 与单根K线对齐的指标行
// 历史不足时对应字段为nil，代表指标未定义
type IndicatorRow struct {
	Instrument   string    `json:"instrument"`
	Timestamp    time.Time `json:"timestamp"`
	DonchianHigh *float64  `json:"donchian_high"` // 入场窗口上轨（不含当前K线）
	DonchianLow  *float64  `json:"donchian_low"`  // 入场窗口下轨（不含当前K线）
	ATR          *float64  `json:"atr"`
	SMA          *float64  `json:"sma"`
}

// TODO: 需要周线级别信号时，补充按周聚合后的IndicatorRow生成

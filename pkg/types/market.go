package types

import "time"

// Bar K线数据结构（通用市场数据）
type Bar struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"` // K线收盘时间，单品种内严格递增
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Interval   string    `json:"interval"` // 1D
}

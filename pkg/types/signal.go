package types

import "time"

// SystemID 海龟交易系统编号
type SystemID string

const (
	SystemS1 SystemID = "S1" // 短周期突破系统
	SystemS2 SystemID = "S2" // 长周期突破系统
)

// SignalType 信号类型
type SignalType string

const (
	SignalEntryLong SignalType = "entry_long"
	SignalPyramid   SignalType = "pyramid"
	SignalExit      SignalType = "exit"
)

// ExitReason 离场原因，仅在Type=SignalExit时有效
type ExitReason string

const (
	ExitBreakout ExitReason = "breakout"  // 跌破离场窗口下轨
	ExitStopHit  ExitReason = "stop_hit"  // 触发止损
	ExitTimeOut  ExitReason = "time_exit" // 持仓超过最大持有时间
)

// TradingSignal 交易信号
type TradingSignal struct {
	Instrument string     `json:"instrument"`
	System     SystemID   `json:"system"`
	Type       SignalType `json:"type"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	Price      float64    `json:"price"`
	Timestamp  time.Time  `json:"timestamp"`
	UnitIndex  int        `json:"unit_index"` // 入场为0，加仓为新头寸单元下标，离场为被平掉的单元数
	StopPrice  float64    `json:"stop_price,omitempty"`
	ATRValue   float64    `json:"atr_value,omitempty"`
}

// PositionStatus 持仓状态
type PositionStatus string

const (
	PositionFlat PositionStatus = "FLAT"
	PositionLong PositionStatus = "LONG"
)

// PositionUnit 单个头寸单元，各自记录入场价用于止损重算
type PositionUnit struct {
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// PositionState 每个(品种,系统)持有且仅持有一份的仓位状态
// 只允许信号生成器按K线时间顺序修改
type PositionState struct {
	Instrument string         `json:"instrument"`
	System     SystemID       `json:"system"`
	Status     PositionStatus `json:"status"`
	Units      []PositionUnit `json:"units"`
	StopPrice  float64        `json:"stop_price"` // LONG期间单调不减
	BarsHeld   int            `json:"bars_held"`  // 入场K线为0
}

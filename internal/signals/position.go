package signals

import (
	"fmt"
	"time"

	"turtle-sentry/pkg/types"
)

// DataOrderingError 时间序错误：单品种内时间戳重复或乱序
// 仅对该品种致命，不影响其他品种的处理
type DataOrderingError struct {
	Instrument string
	Previous   time.Time
	Current    time.Time
}

func (e *DataOrderingError) Error() string {
	return fmt.Sprintf("品种%s时间序非法: %s 之后出现 %s",
		e.Instrument,
		e.Previous.Format(time.RFC3339),
		e.Current.Format(time.RFC3339))
}

// CheckOrdering 校验K线序列时间戳严格递增
func CheckOrdering(instrument string, bars []*types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return &DataOrderingError{
				Instrument: instrument,
				Previous:   bars[i-1].Timestamp,
				Current:    bars[i].Timestamp,
			}
		}
	}
	return nil
}

// NewPositionState 创建指定(品种,系统)的空仓状态
func NewPositionState(instrument string, system types.SystemID) types.PositionState {
	return types.PositionState{
		Instrument: instrument,
		System:     system,
		Status:     types.PositionFlat,
	}
}

// 以下变换均为值语义：入参状态不被修改，返回新状态
// 保证跨品种并行与确定性回放安全

// openLong 空仓转为单头寸单元的多头
func openLong(st types.PositionState, price float64, ts time.Time, stop float64) types.PositionState {
	st.Status = types.PositionLong
	st.Units = []types.PositionUnit{{EntryPrice: price, EntryTime: ts}}
	st.StopPrice = stop
	st.BarsHeld = 0
	return st
}

// addUnit 加仓一个头寸单元，止损只收紧不放松
func addUnit(st types.PositionState, price float64, ts time.Time, newStop float64) types.PositionState {
	units := make([]types.PositionUnit, len(st.Units), len(st.Units)+1)
	copy(units, st.Units)
	st.Units = append(units, types.PositionUnit{EntryPrice: price, EntryTime: ts})

	if newStop > st.StopPrice {
		st.StopPrice = newStop
	}
	return st
}

// flatten 清空仓位回到空仓
func flatten(st types.PositionState) types.PositionState {
	st.Status = types.PositionFlat
	st.Units = nil
	st.StopPrice = 0
	st.BarsHeld = 0
	return st
}

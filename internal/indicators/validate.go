package indicators

import (
	"math"
	"time"

	"turtle-sentry/pkg/types"
)

// BarIssue 被剔除的畸形K线描述
type BarIssue struct {
	Index      int       `json:"index"`
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
}

// ValidateBars 剔除畸形K线：非有限数值、高低价倒挂、非正价格
// 剔除不致命，调用方收到问题列表后继续处理剩余K线
func ValidateBars(bars []*types.Bar) ([]*types.Bar, []BarIssue) {
	clean := make([]*types.Bar, 0, len(bars))
	var issues []BarIssue

	for i, bar := range bars {
		if bar == nil {
			issues = append(issues, BarIssue{Index: i, Reason: "空K线"})
			continue
		}

		if reason := checkBar(bar); reason != "" {
			issues = append(issues, BarIssue{
				Index:      i,
				Instrument: bar.Instrument,
				Timestamp:  bar.Timestamp,
				Reason:     reason,
			})
			continue
		}

		clean = append(clean, bar)
	}

	return clean, issues
}

// checkBar 单根K线合法性检查，返回空字符串表示合法
func checkBar(bar *types.Bar) string {
	values := []float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "存在非有限数值"
		}
	}

	if bar.High < bar.Low {
		return "最高价低于最低价"
	}

	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return "存在非正价格"
	}

	if bar.Volume < 0 {
		return "成交量为负"
	}

	return ""
}

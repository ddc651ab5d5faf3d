package types

// StrategyConfig 策略配置总入口
type StrategyConfig struct {
	Turtle TurtleConfig `mapstructure:"turtle"`
}

// TurtleConfig 海龟突破策略配置
type TurtleConfig struct {
	System1Length       int     `mapstructure:"system1_length"`         // 系统1入场窗口，默认20
	System2Length       int     `mapstructure:"system2_length"`         // 系统2入场窗口，默认55
	UseSystem2          bool    `mapstructure:"use_system2"`            // 是否启用系统2
	ATRPeriod           int     `mapstructure:"atr_period"`             // ATR周期，默认20
	SMAWindow           int     `mapstructure:"sma_window"`             // SMA窗口，仅指标行输出，默认20
	StopATRMultiple     float64 `mapstructure:"stop_atr_multiple"`      // 止损ATR倍数，默认2.0
	ExitLengthS1        int     `mapstructure:"exit_length_s1"`         // 系统1离场窗口，默认10
	ExitLengthS2        int     `mapstructure:"exit_length_s2"`         // 系统2离场窗口，默认20
	MaxUnitsPerPosition int     `mapstructure:"max_units_per_position"` // 单仓最大单元数，默认5
	PyramidIncrement    float64 `mapstructure:"pyramid_increment"`      // 加仓ATR步长，默认0.5
	MaxPositionTime     int     `mapstructure:"max_position_time"`      // 最大持仓K线数，默认252
}

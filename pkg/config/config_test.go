package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"turtle-sentry/pkg/types"
)

func validConfig() *types.Config {
	return &types.Config{
		Strategy: types.StrategyConfig{
			Turtle: types.TurtleConfig{
				System1Length:       20,
				System2Length:       55,
				UseSystem2:          true,
				ATRPeriod:           20,
				SMAWindow:           20,
				StopATRMultiple:     2.0,
				ExitLengthS1:        10,
				ExitLengthS2:        20,
				MaxUnitsPerPosition: 5,
				PyramidIncrement:    0.5,
				MaxPositionTime:     252,
			},
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.TurtleConfig)
	}{
		{"入场窗口过小", func(c *types.TurtleConfig) { c.System1Length = 1 }},
		{"系统2窗口过小", func(c *types.TurtleConfig) { c.System2Length = 0 }},
		{"离场窗口为零", func(c *types.TurtleConfig) { c.ExitLengthS1 = 0 }},
		{"离场窗口不小于入场窗口", func(c *types.TurtleConfig) { c.ExitLengthS1 = 20 }},
		{"系统2离场窗口不小于入场窗口", func(c *types.TurtleConfig) { c.ExitLengthS2 = 55 }},
		{"ATR周期非正", func(c *types.TurtleConfig) { c.ATRPeriod = 0 }},
		{"止损倍数非正", func(c *types.TurtleConfig) { c.StopATRMultiple = 0 }},
		{"最大单元数小于1", func(c *types.TurtleConfig) { c.MaxUnitsPerPosition = 0 }},
		{"加仓步长非正", func(c *types.TurtleConfig) { c.PyramidIncrement = -0.5 }},
		{"持仓时限非正", func(c *types.TurtleConfig) { c.MaxPositionTime = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Strategy.Turtle)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateSystem2CheckSkippedWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.Turtle.UseSystem2 = false
	cfg.Strategy.Turtle.System2Length = 0
	cfg.Strategy.Turtle.ExitLengthS2 = 0

	assert.NoError(t, Validate(cfg))
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"turtle-sentry/pkg/types"
)

// Load 加载配置
func Load() (*types.Config, error) {
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	setDefaults()

	// 读取环境变量
	viper.AutomaticEnv()

	// 优先尝试读取本地配置文件
	viper.SetConfigName("config.local")
	if err := viper.ReadInConfig(); err != nil {
		// 如果本地配置文件不存在，尝试读取默认配置文件
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			var configFileNotFoundError viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFoundError) {
				return nil, err
			}
		}
	}

	var config types.Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置，非法参数在进入核心引擎前拦截
func Validate(cfg *types.Config) error {
	t := cfg.Strategy.Turtle

	if t.System1Length <= 1 {
		return fmt.Errorf("strategy.turtle.system1_length 必须大于1，当前为%d", t.System1Length)
	}
	if t.UseSystem2 && t.System2Length <= 1 {
		return fmt.Errorf("strategy.turtle.system2_length 必须大于1，当前为%d", t.System2Length)
	}
	if t.ExitLengthS1 <= 0 || (t.UseSystem2 && t.ExitLengthS2 <= 0) {
		return fmt.Errorf("strategy.turtle 离场窗口必须大于0")
	}
	if t.ExitLengthS1 >= t.System1Length {
		return fmt.Errorf("strategy.turtle.exit_length_s1(%d) 必须小于 system1_length(%d)", t.ExitLengthS1, t.System1Length)
	}
	if t.UseSystem2 && t.ExitLengthS2 >= t.System2Length {
		return fmt.Errorf("strategy.turtle.exit_length_s2(%d) 必须小于 system2_length(%d)", t.ExitLengthS2, t.System2Length)
	}
	if t.ATRPeriod <= 0 {
		return fmt.Errorf("strategy.turtle.atr_period 必须大于0，当前为%d", t.ATRPeriod)
	}
	if t.StopATRMultiple <= 0 {
		return fmt.Errorf("strategy.turtle.stop_atr_multiple 必须大于0，当前为%v", t.StopATRMultiple)
	}
	if t.MaxUnitsPerPosition < 1 {
		return fmt.Errorf("strategy.turtle.max_units_per_position 必须不小于1，当前为%d", t.MaxUnitsPerPosition)
	}
	if t.PyramidIncrement <= 0 {
		return fmt.Errorf("strategy.turtle.pyramid_increment 必须大于0，当前为%v", t.PyramidIncrement)
	}
	if t.MaxPositionTime <= 0 {
		return fmt.Errorf("strategy.turtle.max_position_time 必须大于0，当前为%d", t.MaxPositionTime)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file_path", "logs")
	viper.SetDefault("log.max_size", 200)
	viper.SetDefault("log.max_age", 30)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.compress", false)
	viper.SetDefault("redis.url", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", time.Hour)
	viper.SetDefault("dingtalk.webhook_url", "")
	viper.SetDefault("dingtalk.secret", "")
	viper.SetDefault("data.instruments", []string{"BTC-USDT", "ETH-USDT"})
	viper.SetDefault("data.interval", "1D")
	viper.SetDefault("data.history_limit", 300)
	viper.SetDefault("data.live", false)
	viper.SetDefault("network.proxy", "")
	viper.SetDefault("network.timeout", 30*time.Second)
	viper.SetDefault("strategy.turtle.system1_length", 20)
	viper.SetDefault("strategy.turtle.system2_length", 55)
	viper.SetDefault("strategy.turtle.use_system2", true)
	viper.SetDefault("strategy.turtle.atr_period", 20)
	viper.SetDefault("strategy.turtle.sma_window", 20)
	viper.SetDefault("strategy.turtle.stop_atr_multiple", 2.0)
	viper.SetDefault("strategy.turtle.exit_length_s1", 10)
	viper.SetDefault("strategy.turtle.exit_length_s2", 20)
	viper.SetDefault("strategy.turtle.max_units_per_position", 5)
	viper.SetDefault("strategy.turtle.pyramid_increment", 0.5)
	viper.SetDefault("strategy.turtle.max_position_time", 252)
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.max_idle_conns", 10)
	viper.SetDefault("database.mysql.max_open_conns", 100)
	viper.SetDefault("websocket.okx_endpoint", "wss://ws.okx.com:8443/ws/v5/business")
	viper.SetDefault("websocket.reconnect_interval", 5*time.Second)
	viper.SetDefault("websocket.ping_interval", 20*time.Second)
	viper.SetDefault("websocket.max_reconnect_attempts", 10)
}

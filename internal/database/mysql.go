package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"turtle-sentry/pkg/types"
)

// Manager 数据库管理器
type Manager struct {
	db     *gorm.DB
	config types.MySQLConfig
}

// Bar 数据库K线模型
type Bar struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Instrument string    `gorm:"type:varchar(20);not null;index:idx_inst_time" json:"instrument"`
	Timestamp  int64     `gorm:"not null;index:idx_inst_time" json:"timestamp"`
	Open       float64   `gorm:"type:decimal(20,8);not null" json:"open"`
	High       float64   `gorm:"type:decimal(20,8);not null" json:"high"`
	Low        float64   `gorm:"type:decimal(20,8);not null" json:"low"`
	Close      float64   `gorm:"type:decimal(20,8);not null" json:"close"`
	Volume     float64   `gorm:"type:decimal(20,8);not null" json:"volume"`
	Interval   string    `gorm:"type:varchar(10);not null;default:'1D'" json:"interval"`
	CreatedAt  time.Time `json:"created_at"`
}

// IndicatorRow 技术指标行模型，历史不足的指标列为NULL
type IndicatorRow struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Instrument   string    `gorm:"type:varchar(20);not null;index:idx_inst_time" json:"instrument"`
	BarTime      int64     `gorm:"not null;index:idx_inst_time" json:"bar_time"`
	DonchianHigh *float64  `gorm:"type:decimal(20,8)" json:"donchian_high"`
	DonchianLow  *float64  `gorm:"type:decimal(20,8)" json:"donchian_low"`
	ATRValue     *float64  `gorm:"type:decimal(20,8)" json:"atr_value"`
	SMAValue     *float64  `gorm:"type:decimal(20,8)" json:"sma_value"`
	CreatedAt    time.Time `json:"created_at"`
}

// TradingSignal 交易信号模型
type TradingSignal struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Instrument string    `gorm:"type:varchar(20);not null;index:idx_inst_time" json:"instrument"`
	System     string    `gorm:"type:enum('S1','S2');not null" json:"system"`
	SignalType string    `gorm:"type:enum('entry_long','pyramid','exit');not null" json:"signal_type"`
	ExitReason *string   `gorm:"type:enum('breakout','stop_hit','time_exit')" json:"exit_reason"`
	SignalTime int64     `gorm:"not null;index:idx_inst_time" json:"signal_time"`
	Price      float64   `gorm:"type:decimal(20,8);not null" json:"price"`
	UnitIndex  int       `gorm:"default:0" json:"unit_index"`
	StopPrice  *float64  `gorm:"type:decimal(20,8)" json:"stop_price"`
	ATRValue   *float64  `gorm:"type:decimal(20,8)" json:"atr_value"`
	CreatedAt  time.Time `json:"created_at"`
}

// PositionSnapshot 仓位快照模型，每个(品种,系统)的处理末态
type PositionSnapshot struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Instrument string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_inst_sys" json:"instrument"`
	System     string    `gorm:"type:enum('S1','S2');not null;uniqueIndex:uk_inst_sys" json:"system"`
	Status     string    `gorm:"type:enum('FLAT','LONG');not null" json:"status"`
	UnitCount  int       `gorm:"default:0" json:"unit_count"`
	StopPrice  *float64  `gorm:"type:decimal(20,8)" json:"stop_price"`
	BarsHeld   int       `gorm:"default:0" json:"bars_held"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StrategyPerformance 每日信号统计模型
type StrategyPerformance struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Instrument    string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_inst_date" json:"instrument"`
	Date          time.Time `gorm:"type:date;not null;uniqueIndex:uk_inst_date" json:"date"`
	TotalSignals  int       `gorm:"default:0" json:"total_signals"`
	EntrySignals  int       `gorm:"default:0" json:"entry_signals"`
	PyramidCount  int       `gorm:"default:0" json:"pyramid_count"`
	ExitSignals   int       `gorm:"default:0" json:"exit_signals"`
	StopHitExits  int       `gorm:"default:0" json:"stop_hit_exits"`
	TimeOutExits  int       `gorm:"default:0" json:"time_out_exits"`
	BreakoutExits int       `gorm:"default:0" json:"breakout_exits"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewManager 创建数据库管理器
func NewManager(config types.MySQLConfig) (*Manager, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %v", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	manager := &Manager{
		db:     db,
		config: config,
	}

	if err := manager.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %v", err)
	}

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return manager, nil
}

// AutoMigrate 自动迁移表结构
func (m *Manager) AutoMigrate() error {
	return m.db.AutoMigrate(
		&Bar{},
		&IndicatorRow{},
		&TradingSignal{},
		&PositionSnapshot{},
		&StrategyPerformance{},
	)
}

// BatchSaveBars 批量保存K线数据
func (m *Manager) BatchSaveBars(bars []*types.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	dbBars := make([]Bar, 0, len(bars))
	for _, bar := range bars {
		dbBars = append(dbBars, Bar{
			Instrument: bar.Instrument,
			Timestamp:  bar.Timestamp.Unix(),
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
			Interval:   bar.Interval,
			CreatedAt:  time.Now(),
		})
	}

	tx := m.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	// 分批处理避免单个事务过大
	batchSize := 100
	for i := 0; i < len(dbBars); i += batchSize {
		end := i + batchSize
		if end > len(dbBars) {
			end = len(dbBars)
		}

		if err := tx.CreateInBatches(dbBars[i:end], end-i).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("批量插入K线数据失败: %v", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交批量插入事务失败: %v", err)
	}

	zap.L().Debug("✅ 批量保存K线数据完成",
		zap.Int("count", len(bars)),
		zap.String("instrument", bars[0].Instrument))

	return nil
}

// SaveIndicatorRows 批量保存指标行
func (m *Manager) SaveIndicatorRows(rows []*types.IndicatorRow) error {
	if len(rows) == 0 {
		return nil
	}

	dbRows := make([]IndicatorRow, 0, len(rows))
	for _, row := range rows {
		dbRows = append(dbRows, IndicatorRow{
			Instrument:   row.Instrument,
			BarTime:      row.Timestamp.Unix(),
			DonchianHigh: row.DonchianHigh,
			DonchianLow:  row.DonchianLow,
			ATRValue:     row.ATR,
			SMAValue:     row.SMA,
			CreatedAt:    time.Now(),
		})
	}

	return m.db.CreateInBatches(dbRows, 100).Error
}

// SaveSignal 保存交易信号
func (m *Manager) SaveSignal(signal *types.TradingSignal) error {
	dbSignal := &TradingSignal{
		Instrument: signal.Instrument,
		System:     string(signal.System),
		SignalType: string(signal.Type),
		SignalTime: signal.Timestamp.Unix(),
		Price:      signal.Price,
		UnitIndex:  signal.UnitIndex,
		CreatedAt:  time.Now(),
	}

	if signal.Type == types.SignalExit {
		reason := string(signal.ExitReason)
		dbSignal.ExitReason = &reason
	}
	if signal.StopPrice > 0 {
		stop := signal.StopPrice
		dbSignal.StopPrice = &stop
	}
	if signal.ATRValue > 0 {
		atr := signal.ATRValue
		dbSignal.ATRValue = &atr
	}

	return m.db.Create(dbSignal).Error
}

// SavePositionSnapshot 保存仓位末态快照，同键覆盖
func (m *Manager) SavePositionSnapshot(state *types.PositionState) error {
	snapshot := PositionSnapshot{
		Instrument: state.Instrument,
		System:     string(state.System),
		Status:     string(state.Status),
		UnitCount:  len(state.Units),
		BarsHeld:   state.BarsHeld,
		UpdatedAt:  time.Now(),
	}
	if state.Status == types.PositionLong {
		stop := state.StopPrice
		snapshot.StopPrice = &stop
	}

	var existing PositionSnapshot
	result := m.db.Where("instrument = ? AND system = ?", snapshot.Instrument, snapshot.System).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return m.db.Create(&snapshot).Error
	} else if result.Error != nil {
		return result.Error
	}

	return m.db.Model(&existing).Where("id = ?", existing.ID).Updates(map[string]interface{}{
		"status":     snapshot.Status,
		"unit_count": snapshot.UnitCount,
		"stop_price": snapshot.StopPrice,
		"bars_held":  snapshot.BarsHeld,
	}).Error
}

// UpdateDailyPerformance 更新当日信号统计
func (m *Manager) UpdateDailyPerformance(signal *types.TradingSignal) error {
	today := time.Now().Truncate(24 * time.Hour)

	var perf StrategyPerformance
	result := m.db.Where("instrument = ? AND date = ?", signal.Instrument, today).First(&perf)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		perf = StrategyPerformance{
			Instrument:   signal.Instrument,
			Date:         today,
			TotalSignals: 1,
		}
		applySignalCount(&perf, signal)
		return m.db.Create(&perf).Error
	} else if result.Error != nil {
		return result.Error
	}

	perf.TotalSignals++
	applySignalCount(&perf, signal)

	return m.db.Model(&perf).Where("id = ?", perf.ID).Updates(map[string]interface{}{
		"total_signals":  perf.TotalSignals,
		"entry_signals":  perf.EntrySignals,
		"pyramid_count":  perf.PyramidCount,
		"exit_signals":   perf.ExitSignals,
		"stop_hit_exits": perf.StopHitExits,
		"time_out_exits": perf.TimeOutExits,
		"breakout_exits": perf.BreakoutExits,
	}).Error
}

// applySignalCount 按信号类型累加统计字段
func applySignalCount(perf *StrategyPerformance, signal *types.TradingSignal) {
	switch signal.Type {
	case types.SignalEntryLong:
		perf.EntrySignals++
	case types.SignalPyramid:
		perf.PyramidCount++
	case types.SignalExit:
		perf.ExitSignals++
		switch signal.ExitReason {
		case types.ExitStopHit:
			perf.StopHitExits++
		case types.ExitTimeOut:
			perf.TimeOutExits++
		case types.ExitBreakout:
			perf.BreakoutExits++
		}
	}
}

// GetSignals 获取某品种最近的信号记录
func (m *Manager) GetSignals(instrument string, limit int) ([]TradingSignal, error) {
	var signals []TradingSignal
	err := m.db.Where("instrument = ?", instrument).
		Order("signal_time DESC").
		Limit(limit).
		Find(&signals).Error

	return signals, err
}

// GetBars 获取某品种的K线数据，按时间升序返回
func (m *Manager) GetBars(instrument string, interval string, limit int) ([]*types.Bar, error) {
	var dbBars []Bar
	err := m.db.Where("instrument = ? AND `interval` = ?", instrument, interval).
		Order("timestamp DESC").
		Limit(limit).
		Find(&dbBars).Error
	if err != nil {
		return nil, err
	}

	bars := make([]*types.Bar, 0, len(dbBars))
	for i := len(dbBars) - 1; i >= 0; i-- {
		dbBar := dbBars[i]
		bars = append(bars, &types.Bar{
			Instrument: dbBar.Instrument,
			Timestamp:  time.Unix(dbBar.Timestamp, 0),
			Open:       dbBar.Open,
			High:       dbBar.High,
			Low:        dbBar.Low,
			Close:      dbBar.Close,
			Volume:     dbBar.Volume,
			Interval:   dbBar.Interval,
		})
	}

	return bars, nil
}

// Close 关闭数据库连接
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接健康状态
func (m *Manager) Health() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

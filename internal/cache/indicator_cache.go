package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"turtle-sentry/pkg/types"
)

// IndicatorCache 指标序列缓存
// Redis可用时写穿到Redis并带TTL，不可用时退化为纯内存模式
// 键由调用方构造，必须包含品种、指标类型、窗口长度与参数指纹；
// 配置参数变化会生成新键，旧结果自然失效
type IndicatorCache struct {
	mem         map[string][]*float64
	mu          sync.RWMutex
	redisClient *redis.Client
	useRedis    bool
	ttl         time.Duration
}

// NewIndicatorCache 创建指标缓存，Redis连接失败不致命
func NewIndicatorCache(cfg types.RedisConfig) *IndicatorCache {
	c := &IndicatorCache{
		mem: make(map[string][]*float64),
		ttl: cfg.TTL,
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}

	if cfg.URL != "" {
		c.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := c.redisClient.Ping(ctx).Result(); err != nil {
			zap.L().Warn("⚠️ Redis连接失败，指标缓存使用纯内存模式", zap.Error(err))
			c.useRedis = false
		} else {
			zap.L().Info("✅ Redis连接成功，指标缓存启用Redis后端")
			c.useRedis = true
		}
	} else {
		zap.L().Info("🔧 未配置Redis，指标缓存使用纯内存模式")
	}

	return c
}

// GetSeries 读取指标序列，实现signals.SeriesCache
func (c *IndicatorCache) GetSeries(key string) ([]*float64, bool) {
	c.mu.RLock()
	series, ok := c.mem[key]
	c.mu.RUnlock()
	if ok {
		return series, true
	}

	if !c.useRedis {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	if err := json.Unmarshal(raw, &series); err != nil {
		zap.L().Warn("反序列化指标缓存失败", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	// 回填内存，后续读取免去网络往返
	c.mu.Lock()
	c.mem[key] = series
	c.mu.Unlock()

	return series, true
}

// PutSeries 写入指标序列，实现signals.SeriesCache
func (c *IndicatorCache) PutSeries(key string, series []*float64) {
	c.mu.Lock()
	c.mem[key] = series
	c.mu.Unlock()

	if !c.useRedis {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		raw, err := json.Marshal(series)
		if err != nil {
			zap.L().Warn("序列化指标缓存失败", zap.String("key", key), zap.Error(err))
			return
		}

		if err := c.redisClient.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			zap.L().Debug("写入Redis指标缓存失败", zap.String("key", key), zap.Error(err))
		}
	}()
}

// Invalidate 清空内存缓存并删除Redis中匹配前缀的键
// 配置热更新后调用，避免旧参数的结果被继续使用
func (c *IndicatorCache) Invalidate(prefix string) {
	c.mu.Lock()
	for key := range c.mem {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.mem, key)
		}
	}
	c.mu.Unlock()

	if !c.useRedis {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := c.redisClient.Keys(ctx, prefix+"*").Result()
	if err != nil {
		zap.L().Warn("扫描Redis缓存键失败", zap.Error(err))
		return
	}
	if len(keys) > 0 {
		c.redisClient.Del(ctx, keys...)
	}
}

// Stats 缓存统计信息
func (c *IndicatorCache) Stats() map[string]interface{} {
	c.mu.RLock()
	memEntries := len(c.mem)
	c.mu.RUnlock()

	return map[string]interface{}{
		"redis_enabled": c.useRedis,
		"memory_entries": memEntries,
	}
}

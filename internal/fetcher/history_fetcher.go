package fetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"turtle-sentry/pkg/types"
)

// HistoryKlineFetcher 历史K线数据获取器
type HistoryKlineFetcher struct {
	baseURL    string
	proxy      string
	timeout    time.Duration
	httpClient *http.Client
}

// OKXHistoryKlineResponse OKX历史K线API响应
type OKXHistoryKlineResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// NewHistoryKlineFetcher 创建历史K线获取器
func NewHistoryKlineFetcher(proxy string, timeout time.Duration) *HistoryKlineFetcher {
	client := &http.Client{
		Timeout: timeout,
	}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			}
		}
	}

	return &HistoryKlineFetcher{
		baseURL:    "https://www.okx.com/api/v5/market",
		proxy:      proxy,
		timeout:    timeout,
		httpClient: client,
	}
}

// FetchHistoryBars 获取历史K线数据，按时间升序返回
func (h *HistoryKlineFetcher) FetchHistoryBars(instrument, interval string, limit int) ([]*types.Bar, error) {
	requestURL := fmt.Sprintf("%s/history-candles?instId=%s&bar=%s&limit=%d",
		h.baseURL, instrument, interval, limit)

	zap.L().Info("📊 获取历史K线数据",
		zap.String("instrument", instrument),
		zap.String("interval", interval),
		zap.Int("limit", limit))

	req, err := http.NewRequest("GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %v", err)
	}

	req.Header.Set("User-Agent", "Turtle-Sentry/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP响应错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	var okxResponse OKXHistoryKlineResponse
	if err := json.Unmarshal(body, &okxResponse); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %v", err)
	}

	if okxResponse.Code != "0" {
		return nil, fmt.Errorf("OKX API返回错误: code=%s, msg=%s", okxResponse.Code, okxResponse.Msg)
	}

	bars := make([]*types.Bar, 0, len(okxResponse.Data))
	for _, data := range okxResponse.Data {
		bar, err := h.parseOKXKlineData(instrument, data, interval)
		if err != nil {
			zap.L().Warn("解析历史K线数据失败", zap.Error(err))
			continue
		}

		bars = append(bars, bar)
	}

	// OKX返回的数据是从新到旧排序，需要反转为从旧到新
	h.reverseBars(bars)

	zap.L().Info("✅ 历史K线数据获取完成",
		zap.String("instrument", instrument),
		zap.Int("requested", limit),
		zap.Int("received", len(bars)))

	return bars, nil
}

// parseOKXKlineData 解析OKX K线数据格式
// 格式: [timestamp, open, high, low, close, vol, volCcy, volCcyQuote, confirm]
func (h *HistoryKlineFetcher) parseOKXKlineData(instrument string, data []string, interval string) (*types.Bar, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("K线数据格式不正确")
	}

	timestamp, err := strconv.ParseInt(data[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("解析时间戳失败: %v", err)
	}

	open, err := strconv.ParseFloat(data[1], 64)
	if err != nil {
		return nil, fmt.Errorf("解析开盘价失败: %v", err)
	}

	high, err := strconv.ParseFloat(data[2], 64)
	if err != nil {
		return nil, fmt.Errorf("解析最高价失败: %v", err)
	}

	low, err := strconv.ParseFloat(data[3], 64)
	if err != nil {
		return nil, fmt.Errorf("解析最低价失败: %v", err)
	}

	close, err := strconv.ParseFloat(data[4], 64)
	if err != nil {
		return nil, fmt.Errorf("解析收盘价失败: %v", err)
	}

	volume := 0.0
	if len(data) >= 6 {
		if v, err := strconv.ParseFloat(data[5], 64); err == nil {
			volume = v
		}
	}

	openTime := time.Unix(timestamp/1000, (timestamp%1000)*1000000)

	return &types.Bar{
		Instrument: instrument,
		Timestamp:  openTime.Add(h.parseIntervalToDuration(interval)),
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     volume,
		Interval:   interval,
	}, nil
}

// parseIntervalToDuration 解析时间间隔字符串为Duration
func (h *HistoryKlineFetcher) parseIntervalToDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1H", "1h":
		return time.Hour
	case "2H", "2h":
		return 2 * time.Hour
	case "4H", "4h":
		return 4 * time.Hour
	case "6H", "6h":
		return 6 * time.Hour
	case "12H", "12h":
		return 12 * time.Hour
	case "1D", "1d":
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// reverseBars 反转K线数组（从新到旧 → 从旧到新）
func (h *HistoryKlineFetcher) reverseBars(bars []*types.Bar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}

// FetchMultipleInstrumentsHistory 批量获取多个品种的历史数据
func (h *HistoryKlineFetcher) FetchMultipleInstrumentsHistory(instruments []string, interval string, limit int) (map[string][]*types.Bar, error) {
	result := make(map[string][]*types.Bar)

	for i, instrument := range instruments {
		// 限速：10次/2s，所以每个请求间隔200毫秒
		if i > 0 {
			time.Sleep(200 * time.Millisecond)
		}

		bars, err := h.FetchHistoryBars(instrument, interval, limit)
		if err != nil {
			zap.L().Error("获取历史K线失败",
				zap.String("instrument", instrument),
				zap.Error(err))
			// 继续处理其他品种，不中断整个过程
			continue
		}

		result[instrument] = bars
	}

	return result, nil
}

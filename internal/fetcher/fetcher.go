package fetcher

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	okxcommon "github.com/nntaoli-project/goex/v2/okx/common"
	"go.uber.org/zap"
	"turtle-sentry/pkg/types"
)

// MarketFetcher 市场数据获取器，负责品种校验与最新行情查询
type MarketFetcher struct {
	okxClient  *okxcommon.OKxV5
	httpClient *http.Client
}

// Ticker OKX ticker响应结构
type Ticker struct {
	InstId    string `json:"instId"`
	Last      string `json:"last"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	Ts        string `json:"ts"`
}

func NewMarketFetcher(networkConfig types.NetworkConfig) *MarketFetcher {
	// 使用goex v2 OKX客户端
	client := okxcommon.New()

	timeout := networkConfig.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
			},
		},
	}

	if networkConfig.Proxy != "" {
		proxyURL, err := url.Parse(networkConfig.Proxy)
		if err == nil {
			httpClient.Transport.(*http.Transport).Proxy = http.ProxyURL(proxyURL)
			zap.L().Info("✅ 已配置HTTP代理", zap.String("proxy", networkConfig.Proxy))
		} else {
			zap.L().Warn("⚠️ 代理地址格式错误", zap.Error(err))
		}
	}

	zap.L().Info("✅ 初始化goex v2 OKX客户端", zap.Duration("timeout", timeout))

	return &MarketFetcher{
		okxClient:  client,
		httpClient: httpClient,
	}
}

// ValidateInstruments 校验配置品种在OKX现货市场真实存在
// 返回有效品种列表，无效品种仅告警不中断
func (f *MarketFetcher) ValidateInstruments(instruments []string) ([]string, error) {
	tickers, err := f.getTickers()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		known[ticker.InstId] = true
	}

	valid := make([]string, 0, len(instruments))
	for _, instrument := range instruments {
		if known[instrument] {
			valid = append(valid, instrument)
		} else {
			zap.L().Warn("⚠️ 品种在OKX现货市场不存在，已跳过", zap.String("instrument", instrument))
		}
	}

	zap.L().Info("✅ 品种校验完成",
		zap.Int("configured", len(instruments)),
		zap.Int("valid", len(valid)))

	return valid, nil
}

// LatestPrice 查询品种最新成交价
func (f *MarketFetcher) LatestPrice(instrument string) (float64, error) {
	tickers, err := f.getTickers()
	if err != nil {
		return 0, err
	}

	for _, ticker := range tickers {
		if ticker.InstId != instrument {
			continue
		}
		price, err := strconv.ParseFloat(ticker.Last, 64)
		if err != nil {
			return 0, fmt.Errorf("解析最新价失败: %v", err)
		}
		return price, nil
	}

	return 0, fmt.Errorf("品种%s不存在", instrument)
}

// getTickers 使用自定义HTTP客户端直接获取OKX ticker数据（支持代理）
func (f *MarketFetcher) getTickers() ([]Ticker, error) {
	// 重试机制：最多重试3次
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			zap.L().Info("🔄 重试获取数据", zap.Int("attempt", attempt))
			time.Sleep(time.Duration(attempt) * time.Second) // 指数退避
		}

		// 直接使用自定义HTTP客户端发送请求，绕过goex库的限制
		apiURL := "https://www.okx.com/api/v5/market/tickers?instType=SPOT"

		resp, err := f.httpClient.Get(apiURL)
		if err != nil {
			lastErr = fmt.Errorf("HTTP请求失败(第%d次尝试): %v", attempt, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("读取响应失败(第%d次尝试): %v", attempt, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("HTTP状态码错误(第%d次尝试): %d", attempt, resp.StatusCode)
			continue
		}

		var apiResp struct {
			Code string   `json:"code"`
			Msg  string   `json:"msg"`
			Data []Ticker `json:"data"`
		}

		if err := json.Unmarshal(body, &apiResp); err != nil {
			lastErr = fmt.Errorf("解析API响应失败(第%d次尝试): %v", attempt, err)
			continue
		}

		if apiResp.Code != "0" {
			lastErr = fmt.Errorf("API返回错误(第%d次尝试): %s - %s", attempt, apiResp.Code, apiResp.Msg)
			continue
		}

		return apiResp.Data, nil
	}

	return nil, lastErr
}

package notifier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"turtle-sentry/pkg/types"
)

// Interface 信号通知接口
type Interface interface {
	NotifySignal(signal *types.TradingSignal) error
	NotifyBatch(signals []*types.TradingSignal) error
}

// signalTypeLabel 信号类型的中文描述
func signalTypeLabel(signal *types.TradingSignal) string {
	switch signal.Type {
	case types.SignalEntryLong:
		return "📈 入场做多"
	case types.SignalPyramid:
		return fmt.Sprintf("➕ 加仓(第%d单元)", signal.UnitIndex+1)
	case types.SignalExit:
		switch signal.ExitReason {
		case types.ExitStopHit:
			return "🛑 止损离场"
		case types.ExitTimeOut:
			return "⏰ 超时离场"
		default:
			return "📉 突破离场"
		}
	}
	return string(signal.Type)
}

// ConsoleNotifier 控制台通知器
type ConsoleNotifier struct{}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (cn *ConsoleNotifier) NotifySignal(signal *types.TradingSignal) error {
	fmt.Printf("🐢 [%s/%s] %s  价格=%.4f  止损=%.4f  时间=%s\n",
		signal.Instrument,
		signal.System,
		signalTypeLabel(signal),
		signal.Price,
		signal.StopPrice,
		signal.Timestamp.Format("2006-01-02 15:04"))
	return nil
}

func (cn *ConsoleNotifier) NotifyBatch(signals []*types.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("🐢 海龟信号汇总（共%d条）\n", len(signals))
	fmt.Println(strings.Repeat("-", 72))
	for _, signal := range signals {
		cn.NotifySignal(signal)
	}
	fmt.Println(strings.Repeat("=", 72))
	return nil
}

// DingTalkNotifier 钉钉通知器
type DingTalkNotifier struct {
	webhookURL string
	secret     string
	httpClient *http.Client
}

func NewDingTalkNotifier(webhookURL, secret string) *DingTalkNotifier {
	return &DingTalkNotifier{
		webhookURL: webhookURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (dn *DingTalkNotifier) NotifySignal(signal *types.TradingSignal) error {
	return dn.NotifyBatch([]*types.TradingSignal{signal})
}

func (dn *DingTalkNotifier) NotifyBatch(signals []*types.TradingSignal) error {
	if len(signals) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### 🐢 海龟信号汇总（%d条）\n\n", len(signals)))
	for _, signal := range signals {
		sb.WriteString(fmt.Sprintf("- **%s/%s** %s 价格 %.4f 时间 %s\n",
			signal.Instrument,
			signal.System,
			signalTypeLabel(signal),
			signal.Price,
			signal.Timestamp.Format("01-02 15:04")))
	}

	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": "海龟信号",
			"text":  sb.String(),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := dn.httpClient.Post(dn.signedURL(), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("发送钉钉通知失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("钉钉返回状态码异常: %d", resp.StatusCode)
	}

	zap.L().Info("✅ 钉钉信号通知已发送", zap.Int("count", len(signals)))
	return nil
}

// signedURL 按钉钉加签规范生成带签名的webhook地址
func (dn *DingTalkNotifier) signedURL() string {
	if dn.secret == "" {
		return dn.webhookURL
	}

	timestamp := time.Now().UnixMilli()
	stringToSign := fmt.Sprintf("%d\n%s", timestamp, dn.secret)

	mac := hmac.New(sha256.New, []byte(dn.secret))
	mac.Write([]byte(stringToSign))
	sign := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("%s&timestamp=%d&sign=%s", dn.webhookURL, timestamp, sign)
}
